// Package api exposes the job engine over HTTP. Authentication and rate
// limiting live in front of this service; the X-Api-Key header is passed
// through as the owning principal without validation.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"convertd/engine"
	"convertd/models"
)

const maxUploadBytes = 100 << 20

// JobHandler serves the job API against an engine instance.
type JobHandler struct {
	engine *engine.Engine
	log    *logrus.Logger
}

func NewJobHandler(eng *engine.Engine, log *logrus.Logger) *JobHandler {
	return &JobHandler{engine: eng, log: log}
}

// Register attaches all job routes to the mux.
func (h *JobHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.submitJob)
	mux.HandleFunc("GET /jobs", h.listJobs)
	mux.HandleFunc("GET /jobs/{id}", h.getJob)
	mux.HandleFunc("GET /jobs/{id}/progress", h.streamProgress)
	mux.HandleFunc("GET /jobs/{id}/result", h.downloadResult)
	mux.HandleFunc("POST /jobs/{id}/retry", h.retryJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.cancelJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.deleteJob)
}

func (h *JobHandler) submitJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing multipart field: file")
		return
	}
	defer file.Close()

	input, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading upload: "+err.Error())
		return
	}

	conversionType := models.ConversionType(r.FormValue("conversion_type"))
	switch conversionType {
	case models.TypeImage, models.TypeDocument, models.TypeAudio, models.TypeVideo, models.TypePDF:
	default:
		writeError(w, http.StatusBadRequest, "unknown conversion_type")
		return
	}

	outputFormat := strings.ToLower(r.FormValue("output_format"))
	if outputFormat == "" {
		writeError(w, http.StatusBadRequest, "missing output_format")
		return
	}

	inputFormat := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if v := r.FormValue("input_format"); v != "" {
		inputFormat = strings.ToLower(v)
	}
	if inputFormat == "" {
		writeError(w, http.StatusBadRequest, "could not determine input format")
		return
	}

	req := engine.NewJobRequest{
		ConversionType:  conversionType,
		InputFormat:     inputFormat,
		OutputFormat:    outputFormat,
		Priority:        models.Priority(r.FormValue("priority")),
		ExportRequested: r.FormValue("export") == "true",
		Input:           input,
	}

	if header.Filename != "" {
		name := header.Filename
		req.OriginalFilename = &name
	}
	if owner := r.Header.Get("X-Api-Key"); owner != "" {
		req.OwnerID = &owner
	}
	if v := r.FormValue("quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			writeError(w, http.StatusBadRequest, "quality must be 1-100")
			return
		}
		req.Quality = &q
	}
	if v := r.FormValue("webhook_url"); v != "" {
		url := v
		req.WebhookURL = &url
	}
	if v := r.FormValue("expires_in_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 1 {
			writeError(w, http.StatusBadRequest, "expires_in_hours must be a positive integer")
			return
		}
		req.ExpiresInHours = &hours
	}
	if v := r.FormValue("width"); v != "" {
		if width, err := strconv.Atoi(v); err == nil && width > 0 {
			req.Width = &width
		}
	}
	if v := r.FormValue("height"); v != "" {
		if height, err := strconv.Atoi(v); err == nil && height > 0 {
			req.Height = &height
		}
	}

	jobID, err := h.engine.Submit(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID.String(),
		"status": string(models.StatusPending),
	})
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := engine.ListFilter{Limit: 50}

	if v := r.URL.Query().Get("status"); v != "" {
		status := models.JobStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("conversion_type"); v != "" {
		ct := models.ConversionType(v)
		filter.ConversionType = &ct
	}
	if owner := r.Header.Get("X-Api-Key"); owner != "" {
		filter.OwnerID = &owner
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	jobs, total, err := h.engine.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	job, err := h.engine.Store().Get(r.Context(), jobID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// streamProgress serves the SSE progress stream: one JSON event per
// update, starting with the current persisted state and ending after a
// terminal status.
func (h *JobHandler) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, err := h.engine.StreamJob(r.Context(), jobID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for update := range updates {
		data, err := json.Marshal(update)
		if err != nil {
			h.log.Errorf("job %s: encoding progress event: %v", jobID, err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (h *JobHandler) downloadResult(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	data, filename, err := h.engine.Result(r.Context(), jobID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *JobHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Retry(r.Context(), jobID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID.String(),
		"status": string(models.StatusPending),
	})
}

func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Cancel(r.Context(), jobID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID.String(),
		"status": string(models.StatusCancelled),
	})
}

func (h *JobHandler) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Delete(r.Context(), jobID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+r.PathValue("id"))
		return uuid.Nil, false
	}
	return jobID, true
}

func (h *JobHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrTooManyJobs):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrRetryLimitReached), errors.Is(err, engine.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrJobNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Errorf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
