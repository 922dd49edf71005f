package engine

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"convertd/models"
)

// fanOut triggers the post-terminal side effects on detached tasks so
// their latency never delays the job's recorded status. Webhook delivery
// runs for every terminal outcome; export only for completed jobs.
func (e *Engine) fanOut(jobID uuid.UUID, status models.JobStatus, errMsg *string, withExport bool) {
	e.spawn(func() { e.deliverWebhook(jobID, status, errMsg) })

	if withExport && e.exporter != nil {
		e.spawn(func() { e.exportResult(jobID) })
	}
}

// deliverWebhook re-reads the webhook URL from the store and posts the
// terminal notification. All failures are logged and swallowed.
func (e *Engine) deliverWebhook(jobID uuid.UUID, status models.JobStatus, errMsg *string) {
	if e.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WebhookTimeout)
	defer cancel()

	url, err := e.store.Webhook(ctx, jobID)
	if err != nil {
		e.log.Warnf("job %s: webhook lookup failed: %v", jobID, err)
		return
	}
	if url == nil || *url == "" {
		return
	}

	e.notifier.Notify(ctx, *url, jobID, status, errMsg)
}

// exportResult uploads the result artifact to external storage. It runs
// when the owner's settings enable export for the job's category, or when
// the job itself requested export; an explicit per-job request bypasses
// the owner's type filter. Any failure is logged only; the job's status
// is never touched.
func (e *Engine) exportResult(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.log.Warnf("job %s: export lookup failed: %v", jobID, err)
		return
	}
	if job.ResultPath == nil {
		return
	}

	var settings *ExportSettings
	if job.OwnerID != nil {
		settings, err = e.store.ExportSettings(ctx, *job.OwnerID)
		if err != nil {
			e.log.Warnf("job %s: export settings lookup failed: %v", jobID, err)
			return
		}
	}
	if !job.ExportRequested && (settings == nil || !settings.Enabled) {
		return
	}
	if !job.ExportRequested && !settings.AppliesTo(job.ConversionType) {
		e.log.Debugf("job %s: type %s not in export filter %q", jobID, job.ConversionType, settings.FilterTypes)
		return
	}

	folderName := e.cfg.ExportFolderName
	if settings != nil && settings.FolderName != "" {
		folderName = settings.FolderName
	}
	folderID, err := e.exporter.EnsureFolder(ctx, folderName)
	if err != nil {
		e.log.Errorf("job %s: ensuring export folder: %v", jobID, err)
		return
	}

	f, err := os.Open(*job.ResultPath)
	if err != nil {
		e.log.Errorf("job %s: opening result for export: %v", jobID, err)
		return
	}
	defer f.Close()

	filename := exportFilename(job, settings != nil && settings.UseOriginalFilename)
	fileID, err := e.exporter.Upload(ctx, folderID, filename, f, contentTypeForPath(*job.ResultPath))
	if err != nil {
		e.log.Errorf("job %s: export upload failed: %v", jobID, err)
		return
	}

	if err := e.store.SetExternalFileID(ctx, jobID, fileID); err != nil {
		e.log.Errorf("job %s: recording external file id: %v", jobID, err)
		return
	}

	e.log.Infof("job %s: result exported as %s (id: %s)", jobID, filename, fileID)
}

// exportFilename keeps the original name with the output extension when
// requested, otherwise falls back to a timestamped name.
func exportFilename(job *models.Job, useOriginal bool) string {
	ext := job.OutputFormat
	if job.ResultPath != nil && strings.HasSuffix(*job.ResultPath, ".zip") {
		ext = "zip"
	}

	if useOriginal && job.OriginalFilename != nil && *job.OriginalFilename != "" {
		base := *job.OriginalFilename
		if idx := strings.LastIndex(base, "."); idx > 0 {
			base = base[:idx]
		}
		return fmt.Sprintf("%s.%s", base, ext)
	}

	return fmt.Sprintf("converted_%s.%s", time.Now().UTC().Format("20060102_150405"), ext)
}

func contentTypeForPath(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
