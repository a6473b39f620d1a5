// Package models defines the Job aggregate persisted by the store and
// exchanged across the pipeline, processor, API, and webhook layers.
package models

import (
	"crypto/rand"
	"time"
)

// Status is the closed sum type for a job's lifecycle position. Stage
// shares the same value space and is always written in lock-step with
// Status (see DESIGN.md "Open Question decisions").
type Status string

const (
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusExtracting   Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusFormatting   Status = "formatting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Index returns the position of a status along the DAG in §4.4, the order
// in which (stage, progress) pairs advance. Terminal states share the
// highest index since either may be reached from any non-terminal stage.
func (s Status) Index() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDownloading:
		return 1
	case StatusExtracting:
		return 2
	case StatusTranscribing:
		return 3
	case StatusFormatting:
		return 4
	case StatusCompleted, StatusFailed:
		return 5
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorKind enumerates the taxonomy in spec.md §7. Only the persisted
// kinds appear here; validation_error/auth_error/not_found are HTTP-layer
// only and never reach a Job row.
type ErrorKind string

const (
	ErrKindDownload      ErrorKind = "download_error"
	ErrKindExtraction    ErrorKind = "extraction_error"
	ErrKindTranscription ErrorKind = "transcription_error"
	ErrKindProcessing    ErrorKind = "processing_error"
)

// JobError is the persisted shape of a terminal failure.
type JobError struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// WhisperOverrides carries the per-job overrides a caller may supply on
// top of the Model Manager's defaults (spec.md §4.2).
type WhisperOverrides struct {
	Language string `json:"language,omitempty" gorm:"column:ov_language"`
	Prompt   string `json:"prompt,omitempty" gorm:"column:ov_prompt"`
	Task     string `json:"task,omitempty" gorm:"column:ov_task"`
}

// Job is the single aggregate in this system; see spec.md §3.
type Job struct {
	ID     string `json:"job_id" gorm:"column:job_id;primaryKey;type:varchar(16)"`
	Status Status `json:"status" gorm:"type:varchar(20);not null;default:'queued'"`
	Stage  Status `json:"stage" gorm:"type:varchar(20);not null;default:'queued'"`
	Progress int  `json:"progress" gorm:"not null;default:0"`

	URL        string `json:"url,omitempty" gorm:"type:text"`
	Filename   string `json:"filename,omitempty" gorm:"type:text"`
	InputPath  string `json:"-" gorm:"column:input_path;type:text"`
	AudioPath  string `json:"-" gorm:"column:audio_path;type:text"`

	OutputJSON string `json:"-" gorm:"column:output_json;type:text"`
	OutputTXT  string `json:"-" gorm:"column:output_txt;type:text"`
	OutputSRT  string `json:"-" gorm:"column:output_srt;type:text"`
	OutputMD   string `json:"-" gorm:"column:output_md;type:text"`

	WebhookURL string `json:"-" gorm:"column:webhook_url;type:text"`

	DurationSeconds int `json:"duration_seconds" gorm:"column:duration_seconds"`

	Error *JobError `json:"error,omitempty" gorm:"embedded;embeddedPrefix:error_"`

	Overrides WhisperOverrides `json:"-" gorm:"embedded"`

	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// NormalizeError clears a zero-value Error left behind by GORM's
// embedded-pointer scan, which always allocates a *JobError on read even
// when every error_* column is NULL. Callers reading a Job back from the
// store must call this so a non-failed job serializes "error": null
// instead of an empty object.
func (j *Job) NormalizeError() {
	if j.Error != nil && j.Error.Type == "" && j.Error.Message == "" && j.Error.Details == "" {
		j.Error = nil
	}
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewJobID generates an opaque JOB-XXXXXX identifier drawn from a
// cryptographic RNG, per spec.md §3.
func NewJobID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; if it ever does there is no safe fallback that
		// preserves the uniqueness guarantee, so surface it loudly.
		panic("models: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "JOB-" + string(out)
}

// DownloadURLs is populated on completed jobs in wire responses.
type DownloadURLs struct {
	JSON string `json:"json"`
	TXT  string `json:"txt"`
	SRT  string `json:"srt"`
	MD   string `json:"md"`
}
