package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"convertd/engine"
	"convertd/models"
)

// MemoryStore is an in-memory implementation of the engine's job store
// contract. It backs the service when no database is configured and is
// the store used throughout the tests. All guarded-transition semantics
// match the Postgres implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*models.Job
	limits   map[string]int
	settings map[string]engine.ExportSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		limits:   make(map[string]int),
		settings: make(map[string]engine.ExportSettings),
	}
}

// SetOwnerLimit configures an owner's concurrent-job limit.
func (m *MemoryStore) SetOwnerLimit(ownerID string, limit int) {
	m.mu.Lock()
	m.limits[ownerID] = limit
	m.mu.Unlock()
}

// SetExportSettings configures an owner's export preferences.
func (m *MemoryStore) SetExportSettings(ownerID string, settings engine.ExportSettings) {
	m.mu.Lock()
	m.settings[ownerID] = settings
	m.mu.Unlock()
}

func (m *MemoryStore) Create(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, engine.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *MemoryStore) List(_ context.Context, filter engine.ListFilter) ([]*models.Job, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Job
	for _, job := range m.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.ConversionType != nil && job.ConversionType != *filter.ConversionType {
			continue
		}
		if filter.OwnerID != nil && (job.OwnerID == nil || *job.OwnerID != *filter.OwnerID) {
			continue
		}
		clone := *job
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, update engine.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if !legalSource(job.Status, update.Status) {
		return false, nil
	}

	now := time.Now().UTC()
	job.Status = update.Status
	job.UpdatedAt = now
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Message != nil {
		msg := *update.Message
		job.ProgressMessage = &msg
	}
	if update.Error != nil {
		errMsg := *update.Error
		job.Error = &errMsg
	}
	if update.ResultPath != nil {
		path := *update.ResultPath
		job.ResultPath = &path
	}

	switch update.Status {
	case models.StatusProcessing:
		if job.StartedAt == nil {
			t := now
			job.StartedAt = &t
		}
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
		t := now
		job.CompletedAt = &t
	}
	return true, nil
}

// legalSource mirrors the WHERE guards of the Postgres statements.
func legalSource(current, target models.JobStatus) bool {
	switch target {
	case models.StatusProcessing:
		return current == models.StatusPending || current == models.StatusProcessing
	case models.StatusCompleted, models.StatusFailed:
		return current == models.StatusProcessing
	case models.StatusCancelled:
		return current == models.StatusPending || current == models.StatusProcessing
	case models.StatusPending:
		return current == models.StatusFailed
	default:
		return false
	}
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *MemoryStore) CountActive(_ context.Context, ownerID *string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, job := range m.jobs {
		if job.Status != models.StatusPending && job.Status != models.StatusProcessing {
			continue
		}
		if ownerID != nil && (job.OwnerID == nil || *job.OwnerID != *ownerID) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) OwnerLimit(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits[ownerID], nil
}

func (m *MemoryStore) Webhook(_ context.Context, id uuid.UUID) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, engine.ErrJobNotFound
	}
	if job.WebhookURL == nil {
		return nil, nil
	}
	url := *job.WebhookURL
	return &url, nil
}

func (m *MemoryStore) SetExternalFileID(_ context.Context, id uuid.UUID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}
	job.ExternalFileID = &fileID
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ExternalFileID(_ context.Context, id uuid.UUID) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, engine.ErrJobNotFound
	}
	if job.ExternalFileID == nil {
		return nil, nil
	}
	fileID := *job.ExternalFileID
	return &fileID, nil
}

func (m *MemoryStore) ClearExternalFileID(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return engine.ErrJobNotFound
	}
	job.ExternalFileID = nil
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ResetForRetry(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusFailed {
		return false, nil
	}

	msg := "Queued for retry..."
	job.Status = models.StatusPending
	job.Progress = 0
	job.ProgressMessage = &msg
	job.Error = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.RetryCount++
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != models.StatusPending && job.Status != models.StatusProcessing {
		return false, nil
	}

	now := time.Now().UTC()
	msg := "Job cancelled"
	job.Status = models.StatusCancelled
	job.ProgressMessage = &msg
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) NextPending(_ context.Context) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Job
	for _, job := range m.jobs {
		if job.Status != models.StatusPending {
			continue
		}
		if best == nil || pendingBefore(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}
	clone := *best
	return &clone, nil
}

func pendingBefore(a, b *models.Job) bool {
	ra, rb := priorityRank(a.Priority), priorityRank(b.Priority)
	if ra != rb {
		return ra < rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 0
	case models.PriorityLow:
		return 2
	default:
		return 1
	}
}

func (m *MemoryStore) TimedOutJobIDs(_ context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uuid.UUID
	for _, job := range m.jobs {
		if job.Status == models.StatusProcessing && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			ids = append(ids, job.ID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) ExpiredJobs(_ context.Context, now time.Time) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.StatusCompleted && job.ExpiresAt != nil && job.ExpiresAt.Before(now) {
			clone := *job
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}

func (m *MemoryStore) TerminalJobsBefore(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var old []*models.Job
	for _, job := range m.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			clone := *job
			old = append(old, &clone)
		}
	}
	return old, nil
}

func (m *MemoryStore) ExportSettings(_ context.Context, ownerID string) (*engine.ExportSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	settings, ok := m.settings[ownerID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}
