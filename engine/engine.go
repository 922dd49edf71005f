// Package engine implements the asynchronous conversion job engine:
// admission control, the job lifecycle, concurrency-bounded dispatch,
// live progress broadcasting, retry/cancellation, and post-completion
// side-effect fan-out.
package engine

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"convertd/config"
	"convertd/convert"
	"convertd/hub"
	"convertd/models"
)

// Progress checkpoints published while a job is processing.
const (
	progressStarted    = 0
	progressLoading    = 10
	progressConverting = 30
	progressSaving     = 80
	progressDone       = 100
)

// Notifier delivers webhook notifications for terminal jobs. Delivery is
// best-effort; implementations log and swallow failures.
type Notifier interface {
	Notify(ctx context.Context, webhookURL string, jobID uuid.UUID, status models.JobStatus, errMsg *string)
}

// Exporter is the narrow interface to the external-storage collaborator.
type Exporter interface {
	EnsureFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, folderID, filename string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, fileID string) error
}

// Engine owns the global concurrency permits, the progress hub and a
// handle to the job store. All operations go through an Engine instance;
// there is no ambient global state.
type Engine struct {
	cfg        *config.Config
	store      Store
	hub        *hub.Hub
	converters *convert.Registry
	notifier   Notifier
	exporter   Exporter
	rdb        redis.Cmdable
	log        *logrus.Logger
	sem        chan struct{}
	tasks      taskGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRedis mirrors terminal status transitions into Redis status hashes.
func WithRedis(rdb redis.Cmdable) Option {
	return func(e *Engine) { e.rdb = rdb }
}

// WithNotifier sets the webhook notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithExporter sets the external-storage exporter.
func WithExporter(x Exporter) Option {
	return func(e *Engine) { e.exporter = x }
}

// New creates an engine. The store and converter registry are required;
// notifier, exporter and Redis mirror are optional collaborators.
func New(cfg *config.Config, store Store, progressHub *hub.Hub, converters *convert.Registry, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		hub:        progressHub,
		converters: converters,
		log:        log,
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Hub returns the engine's progress hub.
func (e *Engine) Hub() *hub.Hub { return e.hub }

// Store returns the engine's job store.
func (e *Engine) Store() Store { return e.store }

// NewJobRequest describes a conversion submission.
type NewJobRequest struct {
	ConversionType   models.ConversionType
	InputFormat      string
	OutputFormat     string
	Quality          *int
	Width            *int
	Height           *int
	OwnerID          *string
	Priority         models.Priority
	WebhookURL       *string
	ExportRequested  bool
	ExpiresInHours   *int
	OriginalFilename *string
	Input            []byte
}

// Submit admits a job, persists it as pending and spawns its dispatch.
// Owned jobs are rejected with ErrTooManyJobs once the owner's active
// count reaches their limit; anonymous jobs are admitted unconditionally
// here (guest quotas live outside the engine).
func (e *Engine) Submit(ctx context.Context, req NewJobRequest) (uuid.UUID, error) {
	// Formats come from the request and end up in artifact paths, so only
	// allow-listed values pass.
	req.InputFormat = strings.ToLower(req.InputFormat)
	req.OutputFormat = strings.ToLower(req.OutputFormat)
	if !models.SupportedInputFormat(req.ConversionType, req.InputFormat) {
		return uuid.Nil, fmt.Errorf("%w: %s input %q", ErrUnsupportedFormat, req.ConversionType, req.InputFormat)
	}
	if !models.SupportedOutputFormat(req.ConversionType, req.OutputFormat) {
		return uuid.Nil, fmt.Errorf("%w: %s output %q", ErrUnsupportedFormat, req.ConversionType, req.OutputFormat)
	}

	if req.OwnerID != nil {
		active, err := e.store.CountActive(ctx, req.OwnerID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("counting active jobs: %w", err)
		}
		limit, err := e.store.OwnerLimit(ctx, *req.OwnerID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("reading owner limit: %w", err)
		}
		if limit <= 0 {
			limit = e.cfg.DefaultUserLimit
		}
		if active >= int64(limit) {
			return uuid.Nil, fmt.Errorf("%w: %d/%d", ErrTooManyJobs, active, limit)
		}
	}

	priority := req.Priority
	switch priority {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		priority = models.PriorityNormal
	}

	jobID := uuid.New()
	jobDir := e.jobDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("creating job dir: %w", err)
	}

	inputPath := filepath.Join(jobDir, "input."+req.InputFormat)
	if err := os.WriteFile(inputPath, req.Input, 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("writing input artifact: %w", err)
	}
	fileSize := int64(len(req.Input))

	now := time.Now().UTC()
	var expiresAt *time.Time
	if req.ExpiresInHours != nil {
		t := now.Add(time.Duration(*req.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	job := &models.Job{
		ID:               jobID,
		OwnerID:          req.OwnerID,
		ConversionType:   req.ConversionType,
		InputFormat:      req.InputFormat,
		OutputFormat:     req.OutputFormat,
		Quality:          req.Quality,
		Width:            req.Width,
		Height:           req.Height,
		Status:           models.StatusPending,
		Progress:         0,
		InputPath:        inputPath,
		FileSizeBytes:    &fileSize,
		OriginalFilename: req.OriginalFilename,
		Priority:         priority,
		WebhookURL:       req.WebhookURL,
		ExportRequested:  req.ExportRequested,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.Create(ctx, job); err != nil {
		os.RemoveAll(jobDir)
		return uuid.Nil, fmt.Errorf("persisting job: %w", err)
	}

	e.hub.Publish(models.NewProgressUpdate(jobID, models.StatusPending, 0, nil))

	// Dispatch immediately; the semaphore inside run is the only
	// scheduling mechanism. Priority is recorded but not consulted.
	e.spawn(func() { e.run(jobID) })

	return jobID, nil
}

// spawn runs fn on a tracked goroutine so Wait can drain in-flight work.
func (e *Engine) spawn(fn func()) {
	e.tasks.Go(fn)
}

// Wait blocks until all dispatched jobs and side-effect tasks finish, or
// the timeout elapses. Returns false on timeout.
func (e *Engine) Wait(timeout time.Duration) bool {
	return e.tasks.Wait(timeout)
}

// run drives one job through its processing attempt. It is the only
// writer of the job's runtime fields while the attempt lasts.
func (e *Engine) run(jobID uuid.UUID) {
	// The permit acquisition is the engine's single backpressure point:
	// a saturated engine leaves the job sitting in pending.
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx := context.Background()

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.log.Errorf("job %s: load before dispatch failed: %v", jobID, err)
		return
	}
	if job.Status != models.StatusPending {
		// Cancelled (or otherwise moved on) while waiting for a permit.
		e.log.Infof("job %s: skipping dispatch, status is %s", jobID, job.Status)
		return
	}

	if !e.transition(ctx, jobID, StatusUpdate{
		Status:   models.StatusProcessing,
		Progress: intPtr(progressStarted),
		Message:  strPtr("Starting conversion..."),
	}) {
		return
	}

	if !e.checkpoint(ctx, jobID, progressLoading, "Loading input file...") {
		return
	}

	input, err := os.ReadFile(job.InputPath)
	if err != nil {
		e.failJob(ctx, jobID, progressLoading, fmt.Errorf("reading input artifact: %w", err))
		return
	}

	if !e.checkpoint(ctx, jobID, progressConverting, "Converting...") {
		return
	}

	resultPath, convErr := e.convert(ctx, job, input)

	if !e.checkpoint(ctx, jobID, progressSaving, "Saving result...") {
		return
	}

	if convErr != nil {
		e.failJob(ctx, jobID, progressSaving, convErr)
		return
	}

	e.completeJob(ctx, jobID, resultPath)
}

// convert invokes the conversion collaborator and materializes the result
// artifact. Multi-asset results (PDF pages) become a single zip archive.
func (e *Engine) convert(ctx context.Context, job *models.Job, input []byte) (string, error) {
	jobDir := e.jobDir(job.ID)

	isPDF := job.ConversionType == models.TypePDF ||
		strings.EqualFold(job.InputFormat, "pdf")

	if isPDF && e.converters.SupportsMulti(models.TypePDF) {
		pages, err := e.converters.ConvertMulti(ctx, models.TypePDF, input, job.OutputFormat, job.Quality)
		if err != nil {
			return "", err
		}
		if len(pages) == 1 {
			outputPath := filepath.Join(jobDir, "output."+job.OutputFormat)
			if err := os.WriteFile(outputPath, pages[0], 0o644); err != nil {
				return "", fmt.Errorf("writing result artifact: %w", err)
			}
			return outputPath, nil
		}
		return e.packagePages(jobDir, job.OutputFormat, pages)
	}

	output, err := e.converters.Convert(ctx, job.ConversionType, input, job.InputFormat, job.OutputFormat, job.Quality)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(jobDir, "output."+job.OutputFormat)
	if err := os.WriteFile(outputPath, output, 0o644); err != nil {
		return "", fmt.Errorf("writing result artifact: %w", err)
	}
	return outputPath, nil
}

// packagePages writes one archive artifact holding every page image,
// so a multi-page conversion still yields exactly one result.
func (e *Engine) packagePages(jobDir, outputFormat string, pages [][]byte) (string, error) {
	archivePath := filepath.Join(jobDir, "pages.zip")

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("creating archive artifact: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for i, page := range pages {
		name := fmt.Sprintf("page_%03d.%s", i+1, outputFormat)
		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			return "", fmt.Errorf("adding %s to archive: %w", name, err)
		}
		if _, err := w.Write(page); err != nil {
			zw.Close()
			return "", fmt.Errorf("writing %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	return archivePath, nil
}

// checkpoint publishes an intermediate progress milestone. A false return
// means the guarded write did not land (the job was cancelled) and the
// attempt should stop producing effects.
func (e *Engine) checkpoint(ctx context.Context, jobID uuid.UUID, progress int, message string) bool {
	return e.transition(ctx, jobID, StatusUpdate{
		Status:   models.StatusProcessing,
		Progress: &progress,
		Message:  &message,
	})
}

// transition applies a guarded status write, publishes it on the hub and
// mirrors terminal states to Redis. Returns whether the write applied.
func (e *Engine) transition(ctx context.Context, jobID uuid.UUID, update StatusUpdate) bool {
	applied, err := e.store.UpdateStatus(ctx, jobID, update)
	if err != nil {
		e.log.Errorf("job %s: status update to %s failed: %v", jobID, update.Status, err)
		return false
	}
	if !applied {
		e.log.Infof("job %s: status update to %s skipped, job moved on", jobID, update.Status)
		return false
	}

	// A write without an explicit progress value leaves the persisted
	// progress untouched; publish that value so the stream never moves
	// backwards within an attempt.
	progress := 0
	if update.Progress != nil {
		progress = *update.Progress
	} else if current, err := e.store.Get(ctx, jobID); err == nil {
		progress = current.Progress
	}
	e.hub.Publish(models.NewProgressUpdate(jobID, update.Status, progress, update.Message))

	if update.Status.IsTerminal() {
		e.mirrorStatus(ctx, jobID, update.Status, update.Error)
	}
	return true
}

// mirrorStatus keeps the Redis status hash in sync for external pollers.
func (e *Engine) mirrorStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMsg *string) {
	if e.rdb == nil {
		return
	}
	fields := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if errMsg != nil {
		fields["error"] = *errMsg
	}
	if err := e.rdb.HSet(ctx, "conversion:status:"+jobID.String(), fields).Err(); err != nil {
		e.log.Warnf("job %s: redis status mirror failed: %v", jobID, err)
	}
}

// completeJob records the result artifact, publishes the final update and
// triggers the full side-effect fan-out.
func (e *Engine) completeJob(ctx context.Context, jobID uuid.UUID, resultPath string) {
	if !e.transition(ctx, jobID, StatusUpdate{
		Status:     models.StatusCompleted,
		Progress:   intPtr(progressDone),
		Message:    strPtr("Conversion completed"),
		ResultPath: &resultPath,
	}) {
		return
	}

	e.log.Infof("job %s: completed (%s)", jobID, filepath.Base(resultPath))
	e.fanOut(jobID, models.StatusCompleted, nil, true)
}

// failJob records the error, publishes the failure and triggers the
// webhook-only fan-out. The last reached progress value is preserved so
// observers never see progress move backwards within an attempt.
func (e *Engine) failJob(ctx context.Context, jobID uuid.UUID, progress int, convErr error) {
	errMsg := convErr.Error()
	message := "Error: " + errMsg

	if !e.transition(ctx, jobID, StatusUpdate{
		Status:   models.StatusFailed,
		Progress: &progress,
		Message:  &message,
		Error:    &errMsg,
	}) {
		return
	}

	e.log.Warnf("job %s: failed: %s", jobID, errMsg)
	e.fanOut(jobID, models.StatusFailed, &errMsg, false)
}

// Result returns the bytes of a completed job's result artifact together
// with its filename.
func (e *Engine) Result(ctx context.Context, jobID uuid.UUID) ([]byte, string, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.StatusCompleted {
		return nil, "", fmt.Errorf("%w: status is %s", ErrJobNotCompleted, job.Status)
	}
	if job.ResultPath == nil {
		return nil, "", fmt.Errorf("%w: result artifact missing", ErrJobNotCompleted)
	}

	data, err := os.ReadFile(*job.ResultPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading result artifact: %w", err)
	}
	return data, filepath.Base(*job.ResultPath), nil
}

func (e *Engine) jobDir(jobID uuid.UUID) string {
	return filepath.Join(e.cfg.TempDir, jobID.String())
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
