// Package engine defines the speech-to-text inference boundary the Model
// Manager drives, plus a reference implementation that shells out to a
// configurable transcription CLI.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"voxqueue/pkg/binaries"
)

// Segment is one timed span of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Params are the inference knobs the Model Manager resolves from its
// defaults and the caller's overrides before every Transcribe call.
type Params struct {
	Language                string
	Task                    string
	InitialPrompt           string
	BeamSize                int
	BestOf                  int
	Temperature             float64
	ConditionOnPreviousText bool
	CompressionRatioThresh  float64
	LogProbThreshold        float64
	NoSpeechThreshold       float64
	WordTimestamps          bool
}

// Output is the raw result of one inference call.
type Output struct {
	Text     string
	Segments []Segment
	Language string
	Duration float64
}

// ProgressFunc mirrors modelmanager.ProgressFunc without importing it, to
// keep this package dependency-free of the manager.
type ProgressFunc func(percent int)

// Engine is the speech-to-text inference boundary. The Model Manager owns
// load/unload lifecycle and concurrency; Engine only runs the model.
type Engine interface {
	// Load prepares modelName for inference. Called at most once
	// concurrently by the Model Manager.
	Load(ctx context.Context, modelName string) error
	// Unload releases whatever Load acquired.
	Unload() error
	// Transcribe runs inference over audioPath. onProgress, if non-nil,
	// may be called with 0-100 updates; engines that cannot report
	// progress should ignore it and let the caller estimate.
	Transcribe(ctx context.Context, audioPath string, params Params, onProgress ProgressFunc) (Output, error)
	// AcceleratorInfo returns a short human-readable description of the
	// compute device in use, or "" if unknown.
	AcceleratorInfo() string
}

// commandOutput is the JSON shape CommandEngine expects on stdout from the
// configured transcription command.
type commandOutput struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// CommandEngine shells out to a configurable transcription command,
// passing parameters as flags and reading a JSON result off stdout. This is
// the "speech-to-text engine" the core keeps external: swapping models or
// backends only ever means pointing Command at a different executable.
type CommandEngine struct {
	Command   string
	ModelName string
}

// NewCommandEngine constructs a CommandEngine; command defaults to the
// configured transcription binary when empty.
func NewCommandEngine(command string) *CommandEngine {
	if command == "" {
		command = binaries.TranscribeCmd()
	}
	return &CommandEngine{Command: command}
}

func (e *CommandEngine) Load(ctx context.Context, modelName string) error {
	e.ModelName = modelName
	// The reference command-line engine loads the model lazily on first
	// Transcribe call; Load only records which model subsequent calls
	// must request, so there is nothing further to do here.
	return nil
}

func (e *CommandEngine) Unload() error {
	return nil
}

func (e *CommandEngine) Transcribe(ctx context.Context, audioPath string, params Params, onProgress ProgressFunc) (Output, error) {
	args := []string{
		"--model", e.ModelName,
		"--audio", audioPath,
		"--task", params.Task,
		"--beam-size", fmt.Sprintf("%d", params.BeamSize),
		"--best-of", fmt.Sprintf("%d", params.BestOf),
		"--temperature", fmt.Sprintf("%g", params.Temperature),
		"--compression-ratio-threshold", fmt.Sprintf("%g", params.CompressionRatioThresh),
		"--logprob-threshold", fmt.Sprintf("%g", params.LogProbThreshold),
		"--no-speech-threshold", fmt.Sprintf("%g", params.NoSpeechThreshold),
		"--output-format", "json",
	}
	if params.Language != "" {
		args = append(args, "--language", params.Language)
	}
	if params.InitialPrompt != "" {
		args = append(args, "--initial-prompt", params.InitialPrompt)
	}
	if params.ConditionOnPreviousText {
		args = append(args, "--condition-on-previous-text")
	}
	if params.WordTimestamps {
		args = append(args, "--word-timestamps")
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Output{}, fmt.Errorf("engine: %s: %w: %s", e.Command, err, stderr.String())
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Output{}, fmt.Errorf("engine: parse result: %w", err)
	}

	return Output{
		Text:     out.Text,
		Segments: out.Segments,
		Language: out.Language,
		Duration: out.Duration,
	}, nil
}

func (e *CommandEngine) AcceleratorInfo() string {
	return ""
}
