package api

import "voxqueue/internal/models"

// jobView is the wire shape of a job status response, per spec.md §6.
type jobView struct {
	JobID           string               `json:"job_id"`
	Status          models.Status        `json:"status"`
	Stage           models.Status        `json:"stage"`
	Progress        int                  `json:"progress"`
	CreatedAt       string               `json:"created_at"`
	CompletedAt     *string              `json:"completed_at"`
	FailedAt        *string              `json:"failed_at"`
	ExpiresAt       *string              `json:"expires_at"`
	DurationSeconds int                  `json:"duration_seconds"`
	Error           *models.JobError     `json:"error"`
	DownloadURLs    *models.DownloadURLs `json:"download_urls"`
}

func newJobView(j *models.Job) jobView {
	v := jobView{
		JobID:           j.ID,
		Status:          j.Status,
		Stage:           j.Stage,
		Progress:        j.Progress,
		CreatedAt:       j.CreatedAt.UTC().Format(rfc3339),
		DurationSeconds: j.DurationSeconds,
		Error:           j.Error,
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.UTC().Format(rfc3339)
		v.CompletedAt = &s
	}
	if j.FailedAt != nil {
		s := j.FailedAt.UTC().Format(rfc3339)
		v.FailedAt = &s
	}
	if j.ExpiresAt != nil {
		s := j.ExpiresAt.UTC().Format(rfc3339)
		v.ExpiresAt = &s
	}
	if j.Status == models.StatusCompleted {
		v.DownloadURLs = &models.DownloadURLs{
			JSON: downloadURL(j.ID, "json"),
			TXT:  downloadURL(j.ID, "txt"),
			SRT:  downloadURL(j.ID, "srt"),
			MD:   downloadURL(j.ID, "md"),
		}
	}
	return v
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func downloadURL(jobID, format string) string {
	return "/api/jobs/" + jobID + "/download?format=" + format
}
