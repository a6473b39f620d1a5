// Package processor implements the Job Processor (C5): the in-memory
// ready queue and single-worker loop that drives jobs through the
// Pipeline Runner, plus startup recovery and retention GC.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voxqueue/internal/models"
	"voxqueue/internal/pipeline"
	"voxqueue/pkg/logger"
)

// Store is the subset of store.Store the Processor needs.
type Store interface {
	Create(j *models.Job) error
	Get(id string) (*models.Job, error)
	Update(j *models.Job) error
	Delete(id string) error
	Queued() ([]models.Job, error)
	InProgress() ([]models.Job, error)
	Expired() ([]models.Job, error)
}

// Runner is the subset of pipeline.Runner the Processor drives.
type Runner interface {
	Run(ctx context.Context, job *models.Job, dataRoot string) error
}

// Notifier is the subset of webhook.Dispatcher the Processor fires after
// a terminal transition. Invoked on a separate goroutine so a slow or
// unreachable webhook endpoint never delays the next queued job.
type Notifier interface {
	Notify(ctx context.Context, job *models.Job) error
}

// Status mirrors spec.md §4.5's QueueStatus() shape.
type Status struct {
	Size         int
	CurrentJobID string
	Running      bool
}

// Processor is the cooperative single-worker scheduler. Exactly one
// worker goroutine ever calls Runner.Run — a deliberate narrowing of the
// teacher's auto-scaling pool, since the Model Manager already serializes
// inference.
type Processor struct {
	store    Store
	runner   Runner
	notifier Notifier
	dataRoot string

	ready  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	currentJobID string
	running      bool
}

// New constructs a Processor. notifier may be nil, in which case terminal
// transitions fire no webhook. Call Start to launch the worker and Stop to
// tear it down.
func New(store Store, runner Runner, notifier Notifier, dataRoot string, queueDepth int) *Processor {
	if queueDepth <= 0 {
		queueDepth = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:    store,
		runner:   runner,
		notifier: notifier,
		dataRoot: dataRoot,
		ready:    make(chan string, queueDepth),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs recovery against the store, then launches the single worker
// goroutine.
func (p *Processor) Start() error {
	if err := p.recover(); err != nil {
		return fmt.Errorf("processor: recovery: %w", err)
	}
	p.wg.Add(1)
	go p.worker()
	return nil
}

// Stop cancels the worker and waits for the in-flight job, if any, to
// return control (it does not interrupt a running pipeline stage).
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
}

// recover re-enqueues every queued job FIFO by created_at, and reclassifies
// any row left in an in-progress state by a prior crash to failed, since
// collaborator state is not journalled and cannot be safely resumed.
func (p *Processor) recover() error {
	inProgress, err := p.store.InProgress()
	if err != nil {
		return fmt.Errorf("list in-progress: %w", err)
	}
	for i := range inProgress {
		job := inProgress[i]
		previousStage := job.Stage
		failedAt := time.Now()
		job.Status = models.StatusFailed
		job.Stage = models.StatusFailed
		job.FailedAt = &failedAt
		job.Error = &models.JobError{Type: models.ErrKindProcessing, Message: "interrupted"}
		if err := p.store.Update(&job); err != nil {
			logger.Warn("recovery: failed to reclassify orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		logger.Warn("recovery: reclassified orphaned job", "job_id", job.ID, "previous_stage", previousStage)
	}

	queued, err := p.store.Queued()
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}
	for _, job := range queued {
		p.enqueue(job.ID)
	}
	logger.Info("recovery complete", "requeued", len(queued), "reclassified", len(inProgress))
	return nil
}

// Submit creates the per-job directory tree, stamps expires_at, persists
// the row, and enqueues it for processing.
func (p *Processor) Submit(job *models.Job, retention time.Duration) error {
	dirs := pipeline.JobDir(p.dataRoot, job.ID)
	for _, d := range []string{dirs.Input, dirs.Output, dirs.Logs} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("processor: mkdir %s: %w", d, err)
		}
	}

	expiresAt := job.CreatedAt.Add(retention)
	job.ExpiresAt = &expiresAt

	if err := p.store.Create(job); err != nil {
		return fmt.Errorf("processor: create: %w", err)
	}

	p.enqueue(job.ID)
	return nil
}

func (p *Processor) enqueue(jobID string) {
	select {
	case p.ready <- jobID:
	case <-p.ctx.Done():
	}
}

// Delete removes the job row and its on-disk directory tree. Idempotent.
func (p *Processor) Delete(jobID string) error {
	if err := p.store.Delete(jobID); err != nil {
		return fmt.Errorf("processor: delete row: %w", err)
	}
	dir := filepath.Join(p.dataRoot, "jobs", jobID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("processor: delete directory: %w", err)
	}
	return nil
}

// RunRetentionGC deletes every job whose expires_at has passed. Returns
// the count deleted.
func (p *Processor) RunRetentionGC() (int, error) {
	expired, err := p.store.Expired()
	if err != nil {
		return 0, fmt.Errorf("processor: list expired: %w", err)
	}
	deleted := 0
	for _, job := range expired {
		if err := p.Delete(job.ID); err != nil {
			logger.Warn("retention gc: delete failed", "job_id", job.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Status reports queue depth, the in-flight job id, and whether the
// worker is currently running a job.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Size:         len(p.ready),
		CurrentJobID: p.currentJobID,
		Running:      p.running,
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case jobID, ok := <-p.ready:
			if !ok {
				return
			}
			p.process(jobID)
		}
	}
}

func (p *Processor) process(jobID string) {
	job, err := p.store.Get(jobID)
	if err != nil {
		logger.Error("processor: load job failed", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		logger.Warn("processor: job vanished before processing", "job_id", jobID)
		return
	}

	p.mu.Lock()
	p.currentJobID = jobID
	p.running = true
	p.mu.Unlock()

	if err := p.runner.Run(context.Background(), job, p.dataRoot); err != nil {
		logger.Warn("processor: pipeline run ended with error", "job_id", jobID, "error", err)
	}

	if p.notifier != nil && job.Status.Terminal() {
		go func(j models.Job) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := p.notifier.Notify(ctx, &j); err != nil {
				logger.Warn("processor: webhook delivery failed", "job_id", j.ID, "error", err)
			}
		}(*job)
	}

	p.mu.Lock()
	p.currentJobID = ""
	p.running = false
	p.mu.Unlock()
}
