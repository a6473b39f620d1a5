package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"voxqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyNoURLIsNoOp(t *testing.T) {
	d := New()
	job := &models.Job{ID: "JOB-W1", Status: models.StatusCompleted}
	require.NoError(t, d.Notify(context.Background(), job))
}

func TestNotifyCompletedIncludesDownloadURLs(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Webhook-Delivery"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New()
	job := &models.Job{ID: "JOB-W2", Status: models.StatusCompleted, WebhookURL: server.URL}
	require.NoError(t, d.Notify(context.Background(), job))

	assert.Equal(t, "job.completed", received.Event)
	assert.Equal(t, "JOB-W2", received.JobID)
	require.NotNil(t, received.DownloadURLs)
	assert.Contains(t, received.DownloadURLs.JSON, "format=json")
	assert.Nil(t, received.Error)
}

func TestNotifyFailedIncludesError(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New()
	job := &models.Job{
		ID:         "JOB-W3",
		Status:     models.StatusFailed,
		WebhookURL: server.URL,
		Error:      &models.JobError{Type: models.ErrKindDownload, Message: "404"},
	}
	require.NoError(t, d.Notify(context.Background(), job))

	assert.Equal(t, "job.failed", received.Event)
	require.NotNil(t, received.Error)
	assert.Equal(t, models.ErrKindDownload, received.Error.Type)
	assert.Nil(t, received.DownloadURLs)
}

func TestNotifySingleAttemptOnFailure(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := New()
	job := &models.Job{ID: "JOB-W4", Status: models.StatusFailed, WebhookURL: server.URL}
	err := d.Notify(context.Background(), job)

	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}
