package processor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"voxqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[string]*models.Job{}} }

func (s *fakeStore) Create(j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) Get(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) Update(j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *fakeStore) Queued() ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.Status == models.StatusQueued {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *fakeStore) InProgress() ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		switch j.Status {
		case models.StatusDownloading, models.StatusExtracting, models.StatusTranscribing, models.StatusFormatting:
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) Expired() ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	now := time.Now()
	for _, j := range s.jobs {
		if j.ExpiresAt != nil && j.ExpiresAt.Before(now) {
			out = append(out, *j)
		}
	}
	return out, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	ran   []string
	store *fakeStore // when set, the terminal state is persisted like the real Runner does
}

func (r *fakeRunner) Run(ctx context.Context, job *models.Job, dataRoot string) error {
	r.mu.Lock()
	r.ran = append(r.ran, job.ID)
	r.mu.Unlock()
	job.Status = models.StatusCompleted
	job.Stage = models.StatusCompleted
	job.Progress = 100
	if r.store != nil {
		return r.store.Update(job)
	}
	return nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func TestSubmitEnqueuesAndWorkerProcesses(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{store: store}
	p := New(store, runner, nil, t.TempDir(), 10)
	require.NoError(t, p.Start())
	defer p.Stop()

	job := &models.Job{ID: "JOB-P001", Status: models.StatusQueued, Stage: models.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, p.Submit(job, time.Hour))

	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestRecoveryReclassifiesInProgressAsFailed(t *testing.T) {
	store := newFakeStore()
	started := time.Now()
	store.jobs["JOB-ORPHAN"] = &models.Job{ID: "JOB-ORPHAN", Status: models.StatusTranscribing, Stage: models.StatusTranscribing, StartedAt: &started}

	runner := &fakeRunner{}
	p := New(store, runner, nil, t.TempDir(), 10)
	require.NoError(t, p.Start())
	defer p.Stop()

	got, err := store.Get("JOB-ORPHAN")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindProcessing, got.Error.Type)
	assert.Equal(t, "interrupted", got.Error.Message)
}

func TestRecoveryRequeuesQueuedJobsFIFO(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.jobs["JOB-B"] = &models.Job{ID: "JOB-B", Status: models.StatusQueued, Stage: models.StatusQueued, CreatedAt: base.Add(time.Second)}
	store.jobs["JOB-A"] = &models.Job{ID: "JOB-A", Status: models.StatusQueued, Stage: models.StatusQueued, CreatedAt: base}

	runner := &fakeRunner{}
	p := New(store, runner, nil, t.TempDir(), 10)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool { return runner.count() == 2 }, time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"JOB-A", "JOB-B"}, runner.ran)
}

func TestRetentionGCDeletesExpiredJobs(t *testing.T) {
	store := newFakeStore()
	past := time.Now().Add(-time.Hour)
	store.jobs["JOB-EXP"] = &models.Job{ID: "JOB-EXP", Status: models.StatusCompleted, Stage: models.StatusCompleted, ExpiresAt: &past}

	runner := &fakeRunner{}
	p := New(store, runner, nil, t.TempDir(), 10)
	require.NoError(t, p.Start())
	defer p.Stop()

	deleted, err := p.RunRetentionGC()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	got, err := store.Get("JOB-EXP")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStatusReportsQueueDepth(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{}
	p := New(store, runner, nil, t.TempDir(), 10)

	status := p.Status()
	assert.Equal(t, 0, status.Size)
	assert.False(t, status.Running)
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *fakeNotifier) Notify(ctx context.Context, job *models.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, job.ID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func TestTerminalJobFiresWebhookNotification(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	p := New(store, runner, notifier, t.TempDir(), 10)
	require.NoError(t, p.Start())
	defer p.Stop()

	job := &models.Job{ID: "JOB-P002", Status: models.StatusQueued, Stage: models.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, p.Submit(job, time.Hour))

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 10*time.Millisecond)
}
