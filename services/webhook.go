package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"convertd/models"
)

// WebhookNotifier posts terminal job notifications. Delivery is
// fire-and-forget: every failure is logged and swallowed so a broken
// webhook endpoint never affects a job's recorded status.
type WebhookNotifier struct {
	client *http.Client
	log    *logrus.Logger
}

func NewWebhookNotifier(timeout time.Duration, log *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type webhookPayload struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, webhookURL string, jobID uuid.UUID, status models.JobStatus, errMsg *string) {
	payload := webhookPayload{
		JobID:     jobID.String(),
		Status:    string(status),
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Errorf("webhook for job %s: encoding payload: %v", jobID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		w.log.Errorf("webhook for job %s: building request: %v", jobID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Errorf("webhook for job %s: delivery failed: %v", jobID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.log.Infof("webhook for job %s delivered", jobID)
	} else {
		w.log.Warnf("webhook for job %s returned status %d", jobID, resp.StatusCode)
	}
}
