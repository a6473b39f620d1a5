package modelmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxqueue/internal/pipeline/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	loadCalls  int32
	loadErr    error
	out        engine.Output
	transErr   error
	concurrent int32
	maxSeen    int32
}

func (e *fakeEngine) Load(ctx context.Context, modelName string) error {
	atomic.AddInt32(&e.loadCalls, 1)
	return e.loadErr
}

func (e *fakeEngine) Unload() error { return nil }

func (e *fakeEngine) Transcribe(ctx context.Context, audioPath string, params engine.Params, onProgress engine.ProgressFunc) (engine.Output, error) {
	cur := atomic.AddInt32(&e.concurrent, 1)
	defer atomic.AddInt32(&e.concurrent, -1)
	for {
		max := atomic.LoadInt32(&e.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&e.maxSeen, max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return e.out, e.transErr
}

func (e *fakeEngine) AcceleratorInfo() string { return "cpu" }

func TestLoadIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, "test-model", time.Minute)

	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Load(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&eng.loadCalls))
	assert.True(t, m.Status().Loaded)
}

func TestConcurrentLoadCollapsesToOne(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, "test-model", time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Load(context.Background())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&eng.loadCalls))
}

func TestTranscribeLoadsOnDemand(t *testing.T) {
	eng := &fakeEngine{out: engine.Output{Text: "hello", Language: "en", Duration: 1}}
	m := New(eng, "test-model", time.Minute)

	res, err := m.Transcribe(context.Background(), "/tmp/a.wav", 0, Overrides{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.True(t, m.Status().Loaded)
}

func TestTranscribeSerializesInference(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, "test-model", time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Transcribe(context.Background(), "/tmp/a.wav", 0, Overrides{}, nil)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&eng.maxSeen))
}

func TestTranscribeWrapsEngineError(t *testing.T) {
	eng := &fakeEngine{transErr: errors.New("boom")}
	m := New(eng, "test-model", time.Minute)

	_, err := m.Transcribe(context.Background(), "/tmp/a.wav", 0, Overrides{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInference)
}

func TestUnloadIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, "test-model", time.Minute)

	require.NoError(t, m.Unload())
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Unload())
	require.NoError(t, m.Unload())

	assert.False(t, m.Status().Loaded)
}

func TestScheduleUnloadFiresAfterIdleTimeout(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, "test-model", 20*time.Millisecond)
	require.NoError(t, m.Load(context.Background()))

	m.ScheduleUnload()

	require.Eventually(t, func() bool { return !m.Status().Loaded }, time.Second, 5*time.Millisecond)
}

func TestProgressEstimateNeverExceeds95BeforeCompletion(t *testing.T) {
	var max int32
	eng := &fakeEngine{out: engine.Output{Text: "x"}}
	m := New(eng, "test-model", time.Minute)

	var seen []int
	var mu sync.Mutex
	_, err := m.Transcribe(context.Background(), "/tmp/a.wav", 100, Overrides{}, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		if int32(p) > max {
			max = int32(p)
		}
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, p := range seen[:len(seen)-1] {
		assert.LessOrEqual(t, p, 95)
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}
