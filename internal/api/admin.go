package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAdminStats handles GET /api/admin/stats: aggregate job counts by
// status plus the same subsystem snapshots health reports.
func (h *Handler) GetAdminStats(c *gin.Context) {
	statuses := []string{"queued", "downloading", "extracting", "transcribing", "formatting", "completed", "failed"}
	counts := make(map[string]int64, len(statuses))
	for _, s := range statuses {
		n, err := h.store.Count(s)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not count jobs"})
			return
		}
		counts[s] = n
	}

	modelStatus := h.models.Status()
	queueStatus := h.proc.Status()

	c.JSON(http.StatusOK, gin.H{
		"jobs_by_status": counts,
		"whisper": gin.H{
			"loaded":     modelStatus.Loaded,
			"model_name": modelStatus.ModelName,
			"last_used":  modelStatus.LastUsed,
		},
		"queue": gin.H{
			"size":           queueStatus.Size,
			"current_job_id": queueStatus.CurrentJobID,
			"running":        queueStatus.Running,
		},
	})
}

// RunCleanup handles POST /api/admin/cleanup: runs retention GC now.
func (h *Handler) RunCleanup(c *gin.Context) {
	deleted, err := h.proc.RunRetentionGC()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retention gc failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
}

// LoadModel handles POST /api/admin/model/load: forces Load().
func (h *Handler) LoadModel(c *gin.Context) {
	if err := h.models.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "model load failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true})
}

// UnloadModel handles POST /api/admin/model/unload: forces Unload().
func (h *Handler) UnloadModel(c *gin.Context) {
	if err := h.models.Unload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "model unload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": false})
}
