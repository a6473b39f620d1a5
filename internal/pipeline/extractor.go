package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"voxqueue/pkg/binaries"
)

// FFmpegExtractor shells out to ffmpeg to produce the 16kHz mono 16-bit
// PCM WAV the transcription engine expects, then ffprobe to measure it.
type FFmpegExtractor struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegExtractor constructs an FFmpegExtractor; empty paths default to
// the configured binaries.
func NewFFmpegExtractor(ffmpegPath, ffprobePath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = binaries.FFmpeg()
	}
	if ffprobePath == "" {
		ffprobePath = binaries.FFprobe()
	}
	return &FFmpegExtractor{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (e *FFmpegExtractor) Extract(ctx context.Context, sourcePath, destDir, jobID string, onProgress ProgressFunc) (ExtractResult, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return ExtractResult{}, fmt.Errorf("extractor: source not found: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ExtractResult{}, fmt.Errorf("extractor: mkdir: %w", err)
	}

	if onProgress != nil {
		onProgress(0)
	}

	outputPath := filepath.Join(destDir, jobID+".wav")
	args := []string{
		"-i", sourcePath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ExtractResult{}, fmt.Errorf("extractor: ffmpeg: %w: %s", err, stderr.String())
	}

	duration, err := e.duration(ctx, outputPath)
	if err != nil {
		duration = 0
	}

	if onProgress != nil {
		onProgress(100)
	}

	return ExtractResult{Path: outputPath, Duration: duration}, nil
}

func (e *FFmpegExtractor) duration(ctx context.Context, audioPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("extractor: ffprobe: %w", err)
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
