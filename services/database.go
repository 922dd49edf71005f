package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"convertd/engine"
	"convertd/models"
)

// DatabaseService is the Postgres implementation of the engine's job
// store contract. Every status-changing statement is a conditional
// UPDATE guarded by the legal source states.
type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

// Migrate creates the jobs schema when it does not exist yet. Owner
// limits (api_keys) and export preferences (user_settings) are owned by
// the account service; they are only read here.
func (d *DatabaseService) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT,
			conversion_type TEXT NOT NULL,
			input_format TEXT NOT NULL,
			output_format TEXT NOT NULL,
			quality INTEGER,
			width INTEGER,
			height INTEGER,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			progress_message TEXT,
			error TEXT,
			input_path TEXT NOT NULL,
			result_path TEXT,
			file_size_bytes BIGINT,
			original_filename TEXT,
			priority TEXT NOT NULL DEFAULT 'normal',
			webhook_url TEXT,
			export_requested BOOLEAN NOT NULL DEFAULT FALSE,
			expires_at TIMESTAMPTZ,
			retry_count INTEGER NOT NULL DEFAULT 0,
			external_file_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
		CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_id);
	`)
	return err
}

const jobColumns = `id, owner_id, conversion_type, input_format, output_format,
	quality, width, height, status, progress, progress_message, error,
	input_path, result_path, file_size_bytes, original_filename, priority,
	webhook_url, export_requested, expires_at, retry_count, external_file_id,
	created_at, started_at, completed_at, updated_at`

func (d *DatabaseService) Create(ctx context.Context, job *models.Job) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		job.ID.String(), job.OwnerID, string(job.ConversionType),
		job.InputFormat, job.OutputFormat, job.Quality, job.Width, job.Height,
		string(job.Status), job.Progress, job.ProgressMessage, job.Error,
		job.InputPath, job.ResultPath, job.FileSizeBytes, job.OriginalFilename,
		string(job.Priority), job.WebhookURL, job.ExportRequested,
		job.ExpiresAt, job.RetryCount, job.ExternalFileID,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	return err
}

func (d *DatabaseService) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id.String())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrJobNotFound
	}
	return job, err
}

func (d *DatabaseService) List(ctx context.Context, filter engine.ListFilter) ([]*models.Job, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(*filter.Status))
		argIndex++
	}
	if filter.ConversionType != nil {
		where += fmt.Sprintf(" AND conversion_type = $%d", argIndex)
		args = append(args, string(*filter.ConversionType))
		argIndex++
	}
	if filter.OwnerID != nil {
		where += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, *filter.OwnerID)
		argIndex++
	}

	var total int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (d *DatabaseService) UpdateStatus(ctx context.Context, id uuid.UUID, update engine.StatusUpdate) (bool, error) {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = $1, updated_at = $2`
	args := []interface{}{string(update.Status), now}
	argIndex := 3

	if update.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", argIndex)
		args = append(args, *update.Progress)
		argIndex++
	}
	if update.Message != nil {
		query += fmt.Sprintf(", progress_message = $%d", argIndex)
		args = append(args, *update.Message)
		argIndex++
	}
	if update.Error != nil {
		query += fmt.Sprintf(", error = $%d", argIndex)
		args = append(args, *update.Error)
		argIndex++
	}
	if update.ResultPath != nil {
		query += fmt.Sprintf(", result_path = $%d", argIndex)
		args = append(args, *update.ResultPath)
		argIndex++
	}

	// started_at is set once per attempt; COALESCE keeps the first value
	// across the repeated processing-progress writes.
	switch update.Status {
	case models.StatusProcessing:
		query += fmt.Sprintf(", started_at = COALESCE(started_at, $%d)", argIndex)
		args = append(args, now)
		argIndex++
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
		query += fmt.Sprintf(", completed_at = $%d", argIndex)
		args = append(args, now)
		argIndex++
	}

	query += fmt.Sprintf(" WHERE id = $%d AND status IN (%s)", argIndex, legalSources(update.Status))
	args = append(args, id.String())

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// legalSources returns the SQL list of states a guarded write may come
// from for the given target status.
func legalSources(target models.JobStatus) string {
	switch target {
	case models.StatusProcessing:
		return `'pending', 'processing'`
	case models.StatusCompleted, models.StatusFailed:
		return `'processing'`
	case models.StatusCancelled:
		return `'pending', 'processing'`
	case models.StatusPending:
		return `'failed'`
	default:
		return `''`
	}
}

func (d *DatabaseService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id.String())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (d *DatabaseService) CountActive(ctx context.Context, ownerID *string) (int64, error) {
	var count int64
	var err error
	if ownerID != nil {
		err = d.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE owner_id = $1 AND status IN ('pending', 'processing')`,
			*ownerID).Scan(&count)
	} else {
		err = d.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'processing')`).Scan(&count)
	}
	return count, err
}

func (d *DatabaseService) OwnerLimit(ctx context.Context, ownerID string) (int, error) {
	var limit sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT max_concurrent_jobs FROM api_keys WHERE id = $1`, ownerID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(limit.Int64), nil
}

func (d *DatabaseService) Webhook(ctx context.Context, id uuid.UUID) (*string, error) {
	var url sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT webhook_url FROM jobs WHERE id = $1`, id.String()).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if !url.Valid {
		return nil, nil
	}
	return &url.String, nil
}

func (d *DatabaseService) SetExternalFileID(ctx context.Context, id uuid.UUID, fileID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE jobs SET external_file_id = $1, updated_at = $2 WHERE id = $3`,
		fileID, time.Now().UTC(), id.String())
	return err
}

func (d *DatabaseService) ExternalFileID(ctx context.Context, id uuid.UUID) (*string, error) {
	var fileID sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT external_file_id FROM jobs WHERE id = $1`, id.String()).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if !fileID.Valid {
		return nil, nil
	}
	return &fileID.String, nil
}

func (d *DatabaseService) ClearExternalFileID(ctx context.Context, id uuid.UUID) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE jobs SET external_file_id = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id.String())
	return err
}

func (d *DatabaseService) ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'pending',
			progress = 0,
			progress_message = 'Queued for retry...',
			error = NULL,
			started_at = NULL,
			completed_at = NULL,
			retry_count = retry_count + 1,
			updated_at = $1
		WHERE id = $2 AND status = 'failed'`,
		time.Now().UTC(), id.String())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (d *DatabaseService) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	result, err := d.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'cancelled',
			progress_message = 'Job cancelled',
			completed_at = $1,
			updated_at = $1
		WHERE id = $2 AND status IN ('pending', 'processing')`,
		now, id.String())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (d *DatabaseService) NextPending(ctx context.Context) (*models.Job, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending'
		ORDER BY
			CASE priority
				WHEN 'high' THEN 0
				WHEN 'normal' THEN 1
				WHEN 'low' THEN 2
				ELSE 1
			END,
			created_at ASC
		LIMIT 1`)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (d *DatabaseService) TimedOutJobIDs(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := d.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = 'processing' AND started_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DatabaseService) ExpiredJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	return d.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'completed' AND expires_at IS NOT NULL AND expires_at < $1`, now)
}

func (d *DatabaseService) TerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return d.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1`, cutoff)
}

func (d *DatabaseService) ExportSettings(ctx context.Context, ownerID string) (*engine.ExportSettings, error) {
	var settings engine.ExportSettings
	err := d.db.QueryRowContext(ctx, `
		SELECT save_to_storage_enabled, storage_folder_name,
		       storage_filter_types, use_original_filename
		FROM user_settings WHERE owner_id = $1`, ownerID).
		Scan(&settings.Enabled, &settings.FolderName, &settings.FilterTypes, &settings.UseOriginalFilename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (d *DatabaseService) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job          models.Job
		rawID        string
		convType     string
		status       string
		priority     string
		ownerID      sql.NullString
		quality      sql.NullInt64
		width        sql.NullInt64
		height       sql.NullInt64
		progressMsg  sql.NullString
		errMsg       sql.NullString
		resultPath   sql.NullString
		fileSize     sql.NullInt64
		origFilename sql.NullString
		webhookURL   sql.NullString
		externalID   sql.NullString
		expiresAt    sql.NullTime
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&rawID, &ownerID, &convType, &job.InputFormat, &job.OutputFormat,
		&quality, &width, &height, &status, &job.Progress, &progressMsg,
		&errMsg, &job.InputPath, &resultPath, &fileSize, &origFilename,
		&priority, &webhookURL, &job.ExportRequested, &expiresAt,
		&job.RetryCount, &externalID, &job.CreatedAt, &startedAt,
		&completedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", rawID, err)
	}
	job.ConversionType = models.ConversionType(convType)
	job.Status = models.JobStatus(status)
	job.Priority = models.Priority(priority)
	job.OwnerID = nullStr(ownerID)
	job.Quality = nullInt(quality)
	job.Width = nullInt(width)
	job.Height = nullInt(height)
	job.ProgressMessage = nullStr(progressMsg)
	job.Error = nullStr(errMsg)
	job.ResultPath = nullStr(resultPath)
	job.OriginalFilename = nullStr(origFilename)
	job.WebhookURL = nullStr(webhookURL)
	job.ExternalFileID = nullStr(externalID)
	if fileSize.Valid {
		job.FileSizeBytes = &fileSize.Int64
	}
	job.ExpiresAt = nullTime(expiresAt)
	job.StartedAt = nullTime(startedAt)
	job.CompletedAt = nullTime(completedAt)

	return &job, nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
