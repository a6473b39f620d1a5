package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"voxqueue/internal/modelmanager"
	"voxqueue/internal/models"
	"voxqueue/pkg/logger"
)

// JobDirs are the per-job subdirectories the Runner reads from and writes
// to, per spec.md §3's filesystem layout.
type JobDirs struct {
	Input  string
	Output string
	Logs   string
}

// JobDir returns the standard per-job directory layout rooted at root.
func JobDir(root, jobID string) JobDirs {
	base := filepath.Join(root, "jobs", jobID)
	return JobDirs{
		Input:  filepath.Join(base, "input"),
		Output: filepath.Join(base, "output"),
		Logs:   filepath.Join(base, "logs"),
	}
}

// Store is the subset of store.Store the Runner needs; declared here so
// this package does not import internal/store directly.
type Store interface {
	Update(j *models.Job) error
}

// Runner drives a single job through the stage DAG in spec.md §4.4.
type Runner struct {
	store    Store
	fetcher  Fetcher
	extractor Extractor
	renderer Renderer
	models   *modelmanager.Manager
}

// NewRunner constructs a Runner around its collaborators.
func NewRunner(store Store, fetcher Fetcher, extractor Extractor, renderer Renderer, mm *modelmanager.Manager) *Runner {
	return &Runner{store: store, fetcher: fetcher, extractor: extractor, renderer: renderer, models: mm}
}

// Run advances job through every stage until it reaches a terminal state.
// The job's Status/Stage/Progress fields are mutated in place and
// persisted via the Store after every transition.
func (r *Runner) Run(ctx context.Context, job *models.Job, dataRoot string) error {
	dirs := JobDir(dataRoot, job.ID)
	if err := os.MkdirAll(dirs.Input, 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir input: %w", err)
	}
	if err := os.MkdirAll(dirs.Output, 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir output: %w", err)
	}
	if err := os.MkdirAll(dirs.Logs, 0o755); err != nil {
		return fmt.Errorf("pipeline: mkdir logs: %w", err)
	}

	now := time.Now()
	job.StartedAt = &now

	sourcePath := job.InputPath
	var fetchDuration float64

	if job.URL != "" {
		if err := r.transition(job, models.StatusDownloading); err != nil {
			return err
		}
		result, err := r.fetcher.Fetch(ctx, job.URL, dirs.Input, job.ID, r.progressFunc(job))
		if err != nil {
			return r.fail(job, dirs, models.ErrKindDownload, err)
		}
		sourcePath = result.Path
		job.InputPath = result.Path
		fetchDuration = result.Duration
		if err := r.flushProgress(job, 100); err != nil {
			return err
		}
	}

	if err := r.transition(job, models.StatusExtracting); err != nil {
		return err
	}
	extractResult, err := r.extractor.Extract(ctx, sourcePath, dirs.Input, job.ID, r.progressFunc(job))
	if err != nil {
		return r.fail(job, dirs, models.ErrKindExtraction, err)
	}
	job.AudioPath = extractResult.Path
	if err := r.flushProgress(job, 100); err != nil {
		return err
	}

	// The extractor measured the actual audio; it wins over the fetcher's
	// estimate per spec.md §4.4.
	duration := extractResult.Duration
	if duration <= 0 {
		duration = fetchDuration
	}
	job.DurationSeconds = int(duration)

	if err := r.transition(job, models.StatusTranscribing); err != nil {
		return err
	}
	transcription, err := r.models.Transcribe(ctx, job.AudioPath, duration, modelmanager.Overrides{
		Language: job.Overrides.Language,
		Prompt:   job.Overrides.Prompt,
		Task:     job.Overrides.Task,
	}, modelmanager.ProgressFunc(r.progressFunc(job)))
	if err != nil {
		return r.fail(job, dirs, models.ErrKindTranscription, err)
	}
	if err := r.flushProgress(job, 100); err != nil {
		return err
	}

	if err := r.transition(job, models.StatusFormatting); err != nil {
		return err
	}
	segments := make([]TranscriptSegment, len(transcription.Segments))
	for i, s := range transcription.Segments {
		segments[i] = TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text}
	}
	render, err := r.renderer.Render(TranscriptionResult{
		Text:     transcription.Text,
		Segments: segments,
		Language: transcription.Language,
		Duration: duration,
	}, dirs.Output, job.ID, RenderMetadata{Title: job.Filename, Duration: duration})
	if err != nil {
		return r.fail(job, dirs, models.ErrKindProcessing, err)
	}
	if render.JSON == "" || render.TXT == "" || render.SRT == "" || render.MD == "" {
		return r.fail(job, dirs, models.ErrKindProcessing, fmt.Errorf("renderer produced incomplete output"))
	}
	job.OutputJSON = render.JSON
	job.OutputTXT = render.TXT
	job.OutputSRT = render.SRT
	job.OutputMD = render.MD

	completedAt := time.Now()
	job.Status = models.StatusCompleted
	job.Stage = models.StatusCompleted
	job.Progress = 100
	job.CompletedAt = &completedAt
	if err := r.store.Update(job); err != nil {
		return fmt.Errorf("pipeline: persist completion: %w", err)
	}

	r.models.ScheduleUnload()
	r.cleanupAudio(job, dirs)
	logger.JobCompleted(job.ID, completedAt.Sub(*job.StartedAt))
	return nil
}

// transition moves a job to the named stage, resetting progress to 0 and
// persisting immediately per spec.md §4.4.
func (r *Runner) transition(job *models.Job, stage models.Status) error {
	job.Status = stage
	job.Stage = stage
	job.Progress = 0
	logger.JobTransition(job.ID, string(stage), 0)
	return r.store.Update(job)
}

// progressFunc returns a callback that clamps to [0,100], discards
// regressions within the current stage, coalesces to at most a few
// updates per second, and always flushes 100 synchronously (the final
// flush happens explicitly via flushProgress, not through this callback,
// since collaborators are not guaranteed to call onProgress(100)).
func (r *Runner) progressFunc(job *models.Job) ProgressFunc {
	var lastSent time.Time
	return func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent < job.Progress {
			return
		}
		if percent != 100 && time.Since(lastSent) < 300*time.Millisecond {
			return
		}
		lastSent = time.Now()
		job.Progress = percent
		if err := r.store.Update(job); err != nil {
			logger.Warn("progress update failed", "job_id", job.ID, "error", err)
		}
	}
}

// flushProgress unconditionally persists a stage's final progress value,
// regardless of the collaborator's own coalescing.
func (r *Runner) flushProgress(job *models.Job, percent int) error {
	job.Progress = percent
	return r.store.Update(job)
}

// fail writes the terminal failed state and runs cleanup, matching every
// stage failure's behavior in spec.md §4.4.
func (r *Runner) fail(job *models.Job, dirs JobDirs, kind models.ErrorKind, cause error) error {
	failedAt := time.Now()
	job.Status = models.StatusFailed
	job.Stage = models.StatusFailed
	job.FailedAt = &failedAt
	job.Error = &models.JobError{Type: kind, Message: cause.Error()}
	if err := r.store.Update(job); err != nil {
		return fmt.Errorf("pipeline: persist failure: %w", err)
	}
	r.cleanupAudio(job, dirs)
	logger.JobFailed(job.ID, time.Since(*job.StartedAt), cause)
	return fmt.Errorf("pipeline: stage failed: %w", cause)
}

// cleanupAudio deletes any *.wav left under the job's input directory
// after a terminal transition; output artifacts are preserved.
func (r *Runner) cleanupAudio(job *models.Job, dirs JobDirs) {
	if job.AudioPath != "" {
		if err := os.Remove(job.AudioPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("audio cleanup failed", "job_id", job.ID, "path", job.AudioPath, "error", err)
		}
	}
	entries, err := os.ReadDir(dirs.Input)
	if err != nil {
		return
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wav" {
			_ = os.Remove(filepath.Join(dirs.Input, e.Name()))
		}
	}
}
