package pipeline

import (
	"context"
	"fmt"
	"testing"

	"voxqueue/internal/modelmanager"
	"voxqueue/internal/models"
	"voxqueue/internal/pipeline/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	jobs map[string]*models.Job
}

func newMemStore() *memStore { return &memStore{jobs: map[string]*models.Job{}} }

func (s *memStore) Update(j *models.Job) error {
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

type fakeFetcher struct {
	result FetchResult
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, destDir, jobID string, onProgress ProgressFunc) (FetchResult, error) {
	f.calls++
	if onProgress != nil {
		onProgress(0)
		onProgress(50)
		onProgress(100)
	}
	return f.result, f.err
}

type fakeExtractor struct {
	result ExtractResult
	err    error
}

func (e *fakeExtractor) Extract(ctx context.Context, sourcePath, destDir, jobID string, onProgress ProgressFunc) (ExtractResult, error) {
	if onProgress != nil {
		onProgress(100)
	}
	return e.result, e.err
}

type fakeRenderer struct {
	result RenderResult
	err    error
}

func (r *fakeRenderer) Render(result TranscriptionResult, destDir, jobID string, meta RenderMetadata) (RenderResult, error) {
	return r.result, r.err
}

type fakeEngine struct {
	out Output
	err error
}

type Output = engine.Output

func (e *fakeEngine) Load(ctx context.Context, modelName string) error { return nil }
func (e *fakeEngine) Unload() error                                    { return nil }
func (e *fakeEngine) Transcribe(ctx context.Context, audioPath string, params engine.Params, onProgress engine.ProgressFunc) (engine.Output, error) {
	return e.out, e.err
}
func (e *fakeEngine) AcceleratorInfo() string { return "cpu" }

func TestRunnerURLHappyPath(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{result: FetchResult{Path: "/tmp/in.mp4", Duration: 2}}
	extractor := &fakeExtractor{result: ExtractResult{Path: "/tmp/in.wav", Duration: 1}}
	renderer := &fakeRenderer{result: RenderResult{JSON: "j", TXT: "t", SRT: "s", MD: "m"}}
	eng := &fakeEngine{out: engine.Output{Text: "hello", Segments: []engine.Segment{{Start: 0, End: 1, Text: "hello"}}, Language: "en", Duration: 1}}
	mm := modelmanager.New(eng, "test-model", 0)

	runner := NewRunner(store, fetcher, extractor, renderer, mm)

	job := &models.Job{ID: "JOB-RUN001", URL: "http://fixture/clip.mp4", Status: models.StatusQueued, Stage: models.StatusQueued}
	root := t.TempDir()

	err := runner.Run(context.Background(), job, root)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.DurationSeconds) // extractor wins over fetcher
	assert.Equal(t, "j", job.OutputJSON)
	assert.NotNil(t, job.CompletedAt)
}

func TestRunnerFetcherFailureMarksDownloadError(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{err: fmt.Errorf("404")}
	extractor := &fakeExtractor{}
	renderer := &fakeRenderer{}
	eng := &fakeEngine{}
	mm := modelmanager.New(eng, "test-model", 0)

	runner := NewRunner(store, fetcher, extractor, renderer, mm)
	job := &models.Job{ID: "JOB-RUN002", URL: "http://fixture/missing.mp4", Status: models.StatusQueued, Stage: models.StatusQueued}

	err := runner.Run(context.Background(), job, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ErrKindDownload, job.Error.Type)
}

func TestRunnerUploadedFileSkipsDownloadStage(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{result: ExtractResult{Path: "/tmp/in.wav", Duration: 3}}
	renderer := &fakeRenderer{result: RenderResult{JSON: "j", TXT: "t", SRT: "s", MD: "m"}}
	eng := &fakeEngine{out: engine.Output{Text: "hi"}}
	mm := modelmanager.New(eng, "test-model", 0)

	runner := NewRunner(store, fetcher, extractor, renderer, mm)
	job := &models.Job{ID: "JOB-RUN003", InputPath: "/tmp/upload.mp4", Status: models.StatusQueued, Stage: models.StatusQueued}

	err := runner.Run(context.Background(), job, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 0, fetcher.calls)
}

func TestRunnerPartialRenderIsProcessingError(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{result: ExtractResult{Path: "/tmp/in.wav", Duration: 1}}
	renderer := &fakeRenderer{result: RenderResult{JSON: "j", TXT: "t", SRT: "", MD: "m"}}
	eng := &fakeEngine{}
	mm := modelmanager.New(eng, "test-model", 0)

	runner := NewRunner(store, fetcher, extractor, renderer, mm)
	job := &models.Job{ID: "JOB-RUN004", InputPath: "/tmp/upload.mp4", Status: models.StatusQueued, Stage: models.StatusQueued}

	err := runner.Run(context.Background(), job, t.TempDir())
	require.Error(t, err)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ErrKindProcessing, job.Error.Type)
}
