package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StandardRenderer is a pure-Go JSON/TXT/SRT/Markdown formatter; it has no
// external process dependency.
type StandardRenderer struct{}

func NewStandardRenderer() *StandardRenderer { return &StandardRenderer{} }

type jsonSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type jsonOutput struct {
	Metadata map[string]any `json:"metadata"`
	Text     string         `json:"text"`
	Segments []jsonSegment  `json:"segments"`
}

func (r *StandardRenderer) Render(result TranscriptionResult, destDir, jobID string, meta RenderMetadata) (RenderResult, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return RenderResult{}, fmt.Errorf("renderer: mkdir: %w", err)
	}

	var out RenderResult

	jsonPath := filepath.Join(destDir, jobID+".json")
	if err := r.writeJSON(result, meta, jsonPath); err != nil {
		return out, err
	}
	out.JSON = jsonPath

	txtPath := filepath.Join(destDir, jobID+".txt")
	if err := os.WriteFile(txtPath, []byte(result.Text), 0o644); err != nil {
		return out, fmt.Errorf("renderer: write txt: %w", err)
	}
	out.TXT = txtPath

	srtPath := filepath.Join(destDir, jobID+".srt")
	if err := r.writeSRT(result, srtPath); err != nil {
		return out, err
	}
	out.SRT = srtPath

	mdPath := filepath.Join(destDir, jobID+".md")
	if err := r.writeMarkdown(result, meta, mdPath); err != nil {
		return out, err
	}
	out.MD = mdPath

	return out, nil
}

func (r *StandardRenderer) writeJSON(result TranscriptionResult, meta RenderMetadata, path string) error {
	segments := make([]jsonSegment, len(result.Segments))
	for i, seg := range result.Segments {
		segments[i] = jsonSegment{ID: i, Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
	}

	out := jsonOutput{
		Metadata: map[string]any{
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"title":      meta.Title,
			"duration":   meta.Duration,
			"language":   result.Language,
		},
		Text:     result.Text,
		Segments: segments,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("renderer: marshal json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("renderer: write json: %w", err)
	}
	return nil
}

func (r *StandardRenderer) writeSRT(result TranscriptionResult, path string) error {
	var b strings.Builder
	for i, seg := range result.Segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.Start), formatSRTTimestamp(seg.End))
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(seg.Text))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("renderer: write srt: %w", err)
	}
	return nil
}

func (r *StandardRenderer) writeMarkdown(result TranscriptionResult, meta RenderMetadata, path string) error {
	var b strings.Builder
	title := meta.Title
	if title == "" {
		title = "Transcription"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Generated**: %s UTC\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	if meta.Duration > 0 {
		fmt.Fprintf(&b, "**Duration**: %s\n", formatSimpleTimestamp(meta.Duration))
	}
	b.WriteString("\n---\n\n")
	b.WriteString("## Full Transcript\n\n")
	b.WriteString(result.Text)
	b.WriteString("\n\n---\n\n")
	b.WriteString("## Timestamped Segments\n\n")
	for _, seg := range result.Segments {
		fmt.Fprintf(&b, "**[%s]** %s\n\n", formatSimpleTimestamp(seg.Start), strings.TrimSpace(seg.Text))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("renderer: write markdown: %w", err)
	}
	return nil
}

// formatSRTTimestamp formats seconds as SRT's HH:MM:SS,mmm.
func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	millis := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// formatSimpleTimestamp formats seconds as HH:MM:SS.
func formatSimpleTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
