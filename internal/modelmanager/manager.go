// Package modelmanager implements the Model Manager (C2): a process-wide
// owner of the speech-to-text model's lifecycle, serializing load and
// inference and evicting the model after an idle timeout.
package modelmanager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"voxqueue/internal/pipeline/engine"
	"voxqueue/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// ErrInference wraps any failure surfaced by the underlying engine during
// Transcribe.
var ErrInference = errors.New("modelmanager: inference failed")

// speedRatio is the conservative audio-duration/processing-time ratio used
// to estimate progress when the engine itself reports none. Picked low
// enough that the derived progress bar never has to jump backward.
const speedRatio = 8.0

// Overrides carries the per-job knobs a caller may supply on top of the
// manager's defaults.
type Overrides struct {
	Language string
	Prompt   string
	Task     string
}

// Result is the shape Transcribe returns on success.
type Result struct {
	Text     string
	Segments []engine.Segment
	Language string
	Duration float64
}

// ProgressFunc receives 0-100 progress updates during inference. It may be
// called from a background goroutine and must not block.
type ProgressFunc func(percent int)

// Status summarizes the manager's current lifecycle state.
type Status struct {
	Loaded         bool
	ModelName      string
	LastUsed       *time.Time
	IdleTimeout    time.Duration
	AcceleratorInfo string
}

// Manager is the Model Manager. It is constructed once by internal/app and
// shared by every pipeline run; it is not a package-level singleton.
type Manager struct {
	engine      engine.Engine
	modelName   string
	idleTimeout time.Duration

	mu       sync.Mutex // serializes load AND inference, per spec.md §4.2
	loaded   bool
	lastUsed *time.Time

	unloadTimer *time.Timer
	loadGroup   singleflight.Group
}

// New constructs a Manager around the given inference engine.
func New(eng engine.Engine, modelName string, idleTimeout time.Duration) *Manager {
	return &Manager{
		engine:      eng,
		modelName:   modelName,
		idleTimeout: idleTimeout,
	}
}

// Load is idempotent: if the model is already loaded it returns
// immediately. Concurrent callers collapse onto a single in-flight load via
// singleflight.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.loadGroup.Do("load", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.loaded {
			return nil, nil
		}

		logger.Info("loading model", "model", m.modelName)
		if err := m.engine.Load(ctx, m.modelName); err != nil {
			return nil, fmt.Errorf("modelmanager: load: %w", err)
		}
		m.loaded = true
		now := time.Now()
		m.lastUsed = &now
		logger.Info("model loaded", "model", m.modelName)
		return nil, nil
	})
	return err
}

// Unload is idempotent: it cancels any pending idle timer, drops the model
// reference via the engine's reclaim hook, and clears last-used.
func (m *Manager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelUnloadTimerLocked()

	if !m.loaded {
		return nil
	}

	logger.Info("unloading model", "model", m.modelName)
	if err := m.engine.Unload(); err != nil {
		return fmt.Errorf("modelmanager: unload: %w", err)
	}
	m.loaded = false
	m.lastUsed = nil
	return nil
}

// Transcribe guarantees the model is loaded, cancels any pending idle
// timer, and runs inference under the shared lock so at most one inference
// proceeds at a time.
func (m *Manager) Transcribe(ctx context.Context, audioPath string, audioDuration float64, ov Overrides, onProgress ProgressFunc) (*Result, error) {
	m.mu.Lock()
	m.cancelUnloadTimerLocked()
	wasLoaded := m.loaded
	m.mu.Unlock()

	if !wasLoaded {
		if err := m.Load(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.lastUsed = &now

	if onProgress != nil {
		onProgress(0)
	}

	stopEstimator := make(chan struct{})
	var wg sync.WaitGroup
	if onProgress != nil && audioDuration > 0 {
		expected := audioDuration / speedRatio
		wg.Add(1)
		go func() {
			defer wg.Done()
			estimateProgress(expected, stopEstimator, onProgress)
		}()
	}

	params := engine.Params{
		Language:                 coalesce(ov.Language, "ja"),
		Task:                     coalesce(ov.Task, "transcribe"),
		InitialPrompt:            ov.Prompt,
		BeamSize:                 5,
		BestOf:                   5,
		Temperature:              0,
		ConditionOnPreviousText:  false,
		CompressionRatioThresh:   2.4,
		LogProbThreshold:         -1.0,
		NoSpeechThreshold:        0.6,
		WordTimestamps:           false,
	}

	out, err := m.engine.Transcribe(ctx, audioPath, params, engine.ProgressFunc(onProgress))
	close(stopEstimator)
	wg.Wait()

	now = time.Now()
	m.lastUsed = &now

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	if onProgress != nil {
		onProgress(100)
	}

	return &Result{
		Text:     out.Text,
		Segments: out.Segments,
		Language: out.Language,
		Duration: out.Duration,
	}, nil
}

// estimateProgress reports min(95, elapsed/expected*95) once a second
// until stopped, used when the engine itself emits no progress.
func estimateProgress(expected float64, stop <-chan struct{}, onProgress ProgressFunc) {
	if expected <= 0 {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			pct := int(math.Min(95, math.Floor(elapsed/expected*95)))
			onProgress(pct)
		}
	}
}

// ScheduleUnload (re)starts the idle timer; when it fires, Unload runs.
// Every Transcribe call cancels the timer on entry.
func (m *Manager) ScheduleUnload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelUnloadTimerLocked()
	m.unloadTimer = time.AfterFunc(m.idleTimeout, func() {
		if err := m.Unload(); err != nil {
			logger.Warn("idle unload failed", "error", err)
		}
	})
}

func (m *Manager) cancelUnloadTimerLocked() {
	if m.unloadTimer != nil {
		m.unloadTimer.Stop()
		m.unloadTimer = nil
	}
}

// Status reports the manager's current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Loaded:          m.loaded,
		ModelName:       m.modelName,
		LastUsed:        m.lastUsed,
		IdleTimeout:     m.idleTimeout,
		AcceleratorInfo: m.engine.AcceleratorInfo(),
	}
}

func coalesce(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
