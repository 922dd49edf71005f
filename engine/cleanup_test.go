package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"convertd/config"
	"convertd/engine"
	"convertd/models"
)

func seedJob(t *testing.T, f *fixture, mutate func(*models.Job)) uuid.UUID {
	t.Helper()

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		ConversionType: models.TypeImage,
		InputFormat:    "png",
		OutputFormat:   "jpg",
		Status:         models.StatusPending,
		Priority:       models.PriorityNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	mutate(job)
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return job.ID
}

func runSweeps(t *testing.T, f *fixture) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.eng.CleanupLoop(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestSweepFailsTimedOutJobs(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CleanupInterval = 20 * time.Millisecond
		cfg.ProcessingTimeout = time.Minute
	})

	stale := time.Now().UTC().Add(-2 * time.Minute)
	stuck := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusProcessing
		job.Progress = 30
		job.StartedAt = &stale
	})
	fresh := time.Now().UTC()
	healthy := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusProcessing
		job.StartedAt = &fresh
	})

	sub := f.eng.Hub().Subscribe()
	defer sub.Close()

	stop := runSweeps(t, f)
	defer stop()

	job := waitForStatus(t, f.store, stuck, models.StatusFailed)
	if job.Error == nil || !strings.Contains(*job.Error, "maximum processing time") {
		t.Errorf("error = %v, want a timeout message", job.Error)
	}
	if job.Progress != 30 {
		t.Errorf("progress = %d, want the value the job had reached", job.Progress)
	}

	// The published failure event carries the persisted progress, not 0.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case update := <-sub.Updates():
			if update.JobID != stuck || !update.Status.IsTerminal() {
				continue
			}
			if update.Progress != 30 {
				t.Errorf("published terminal progress = %d, want 30", update.Progress)
			}
			goto swept
		case <-deadline:
			t.Fatal("terminal update never arrived")
		}
	}
swept:

	current, err := f.store.Get(context.Background(), healthy)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != models.StatusProcessing {
		t.Errorf("healthy job status = %s, want untouched", current.Status)
	}
}

func TestSweepRemovesExpiredJobs(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CleanupInterval = 20 * time.Millisecond
	})

	resultPath := filepath.Join(f.cfg.TempDir, "expired-result.jpg")
	if err := os.WriteFile(resultPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write result: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	expired := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusCompleted
		job.Progress = 100
		job.ResultPath = &resultPath
		job.ExpiresAt = &past
	})
	future := time.Now().UTC().Add(time.Hour)
	kept := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusCompleted
		job.Progress = 100
		job.ExpiresAt = &future
	})

	stop := runSweeps(t, f)
	defer stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.store.Get(context.Background(), expired); errors.Is(err, engine.ErrJobNotFound) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := f.store.Get(context.Background(), expired); !errors.Is(err, engine.ErrJobNotFound) {
		t.Fatalf("expired job still present: %v", err)
	}
	if _, err := os.Stat(resultPath); !os.IsNotExist(err) {
		t.Errorf("expired result artifact still present: %v", err)
	}

	if _, err := f.store.Get(context.Background(), kept); err != nil {
		t.Errorf("unexpired job was removed: %v", err)
	}
}

func TestSweepRemovesJobsPastRetention(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CleanupInterval = 20 * time.Millisecond
		cfg.RetentionDays = 7
	})

	ancient := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusFailed
		job.CreatedAt = time.Now().UTC().AddDate(0, 0, -30)
	})
	recent := seedJob(t, f, func(job *models.Job) {
		job.Status = models.StatusFailed
	})

	stop := runSweeps(t, f)
	defer stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.store.Get(context.Background(), ancient); errors.Is(err, engine.ErrJobNotFound) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := f.store.Get(context.Background(), ancient); !errors.Is(err, engine.ErrJobNotFound) {
		t.Fatalf("job past retention still present: %v", err)
	}

	if _, err := f.store.Get(context.Background(), recent); err != nil {
		t.Errorf("recent terminal job was removed: %v", err)
	}
}
