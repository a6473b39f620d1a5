// Package api implements the HTTP API (C6): the request-level façade
// that validates input, persists and enqueues jobs, reports status,
// streams output files, and gates admin operations by shared secret.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voxqueue/internal/config"
	"voxqueue/internal/modelmanager"
	"voxqueue/internal/models"
	"voxqueue/internal/pipeline"
	"voxqueue/internal/processor"
	"voxqueue/internal/store"

	"github.com/gin-gonic/gin"
)

// Handler holds every dependency the HTTP routes need. Constructed once
// by internal/app and passed to SetupRoutes.
type Handler struct {
	store  *store.Store
	proc   *processor.Processor
	models *modelmanager.Manager
	config *config.Config
}

// NewHandler constructs a Handler around the app's already-wired
// components.
func NewHandler(st *store.Store, proc *processor.Processor, models *modelmanager.Manager, cfg *config.Config) *Handler {
	return &Handler{store: st, proc: proc, models: models, config: cfg}
}

// SubmitJob handles POST /api/jobs.
func (h *Handler) SubmitJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadSizeBytes())

	url := c.PostForm("url")
	webhookURL := c.PostForm("webhook_url")
	fileHeader, fileErr := c.FormFile("file")
	if fileErr != nil && strings.Contains(fileErr.Error(), "too large") {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds maximum upload size"})
		return
	}

	if url == "" && fileErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either url or file is required"})
		return
	}

	job := &models.Job{
		ID:         models.NewJobID(),
		URL:        url,
		WebhookURL: webhookURL,
		Status:     models.StatusQueued,
		Stage:      models.StatusQueued,
		CreatedAt:  time.Now(),
	}

	if fileErr == nil {
		dirs := pipeline.JobDir(h.config.DataDir, job.ID)
		if err := os.MkdirAll(dirs.Input, 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create job directory"})
			return
		}
		job.Filename = filepath.Base(fileHeader.Filename)
		destPath := filepath.Join(dirs.Input, job.Filename)
		if err := c.SaveUploadedFile(fileHeader, destPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save uploaded file"})
			return
		}
		job.InputPath = destPath
	}

	if err := h.proc.Submit(job, h.config.RetentionWindow()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not submit job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "job queued",
	})
}

// GetJobStatus handles GET /api/jobs/:id.
func (h *Handler) GetJobStatus(c *gin.Context) {
	id := c.Param("id")
	job, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

// ListJobs handles GET /api/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := queryIntDefault(c, "limit", 100)
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := queryIntDefault(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	status := c.Query("status")

	jobs, err := h.store.List(status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list jobs"})
		return
	}
	total, err := h.store.Count(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not count jobs"})
		return
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, newJobView(&jobs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// DownloadJobOutput handles GET /api/jobs/:id/download.
func (h *Handler) DownloadJobOutput(c *gin.Context) {
	id := c.Param("id")
	format := c.Query("format")

	job, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job is not completed"})
		return
	}

	path, ok := outputPath(job, format)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid format; must be one of json,txt,srt,md"})
		return
	}
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact missing"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact missing"})
		return
	}

	c.File(path)
}

func outputPath(job *models.Job, format string) (string, bool) {
	switch format {
	case "json":
		return job.OutputJSON, true
	case "txt":
		return job.OutputTXT, true
	case "srt":
		return job.OutputSRT, true
	case "md":
		return job.OutputMD, true
	default:
		return "", false
	}
}

// DeleteJob handles DELETE /api/jobs/:id.
func (h *Handler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.proc.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete job"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	modelStatus := h.models.Status()
	queueStatus := h.proc.Status()

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"whisper": gin.H{
			"loaded":           modelStatus.Loaded,
			"model_name":       modelStatus.ModelName,
			"last_used":        modelStatus.LastUsed,
			"idle_timeout_s":   modelStatus.IdleTimeout.Seconds(),
			"accelerator_info": modelStatus.AcceleratorInfo,
		},
		"queue": gin.H{
			"size":           queueStatus.Size,
			"current_job_id": queueStatus.CurrentJobID,
			"running":        queueStatus.Running,
		},
	})
}

func queryIntDefault(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
