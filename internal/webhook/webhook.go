// Package webhook implements the Webhook Dispatcher (C3): a fire-and-
// forget, single-attempt POST fired on a job's terminal transition.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"voxqueue/internal/models"
	"voxqueue/pkg/logger"

	"github.com/google/uuid"
)

// Payload is the JSON body posted to a job's webhook_url.
type Payload struct {
	Event        string               `json:"event"`
	JobID        string               `json:"job_id"`
	Status       models.Status        `json:"status"`
	DownloadURLs *models.DownloadURLs `json:"download_urls,omitempty"`
	Error        *models.JobError     `json:"error,omitempty"`
}

// Dispatcher sends one notification per terminal transition. Unlike the
// teacher's 3-attempt backoff loop, this is deliberately single-attempt
// (spec.md §4.3/§9): ambiguity about "fired once or three times" is worse
// than the rare dropped delivery, and a delivery id lets receivers dedupe
// if they ever do see a duplicate from their own retries.
type Dispatcher struct {
	client *http.Client
}

// New constructs a Dispatcher with a 10s per-request deadline.
func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify builds the payload for job's current terminal state and POSTs it
// to job.WebhookURL. A missing WebhookURL is a no-op, not an error.
func (d *Dispatcher) Notify(ctx context.Context, job *models.Job) error {
	if job.WebhookURL == "" {
		return nil
	}

	payload := Payload{
		Event:  fmt.Sprintf("job.%s", job.Status),
		JobID:  job.ID,
		Status: job.Status,
	}
	if job.Status == models.StatusCompleted {
		payload.DownloadURLs = &models.DownloadURLs{
			JSON: fmt.Sprintf("/api/jobs/%s/download?format=json", job.ID),
			TXT:  fmt.Sprintf("/api/jobs/%s/download?format=txt", job.ID),
			SRT:  fmt.Sprintf("/api/jobs/%s/download?format=srt", job.ID),
			MD:   fmt.Sprintf("/api/jobs/%s/download?format=md", job.ID),
		}
	}
	if job.Error != nil {
		payload.Error = job.Error
	}

	return d.send(ctx, job.WebhookURL, payload)
}

func (d *Dispatcher) send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "voxqueue-webhook/1.0")
	req.Header.Set("X-Webhook-Delivery", uuid.NewString())

	logger.Info("sending webhook", "job_id", payload.JobID, "url", url, "event", payload.Event)

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn("webhook delivery failed", "job_id", payload.JobID, "error", err)
		return fmt.Errorf("webhook: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("webhook returned non-success status", "job_id", payload.JobID, "status", resp.StatusCode)
		return fmt.Errorf("webhook: non-success status %d", resp.StatusCode)
	}

	logger.Info("webhook delivered", "job_id", payload.JobID, "status", resp.StatusCode)
	return nil
}
