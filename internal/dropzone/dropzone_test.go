package dropzone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxqueue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	submitted []*models.Job
}

func (f *fakeSubmitter) Submit(job *models.Job, retention time.Duration) error {
	f.submitted = append(f.submitted, job)
	return nil
}

func TestExistingAudioFileIsSubmittedOnStart(t *testing.T) {
	dir := t.TempDir()
	dataRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp3"), []byte("audio"), 0o644))

	sub := &fakeSubmitter{}
	w := New(dir, dataRoot, time.Hour, sub)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.Len(t, sub.submitted, 1)
	assert.Equal(t, "clip.mp3", sub.submitted[0].Filename)

	_, err := os.Stat(filepath.Join(dir, "clip.mp3"))
	assert.True(t, os.IsNotExist(err), "source file should be removed after submission")
}

func TestNonAudioFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	dataRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	sub := &fakeSubmitter{}
	w := New(dir, dataRoot, time.Hour, sub)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.Empty(t, sub.submitted)
}

func TestNewlyCreatedFileIsSubmitted(t *testing.T) {
	dir := t.TempDir()
	dataRoot := t.TempDir()

	sub := &fakeSubmitter{}
	w := New(dir, dataRoot, time.Hour, sub)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "later.wav"), []byte("audio"), 0o644))

	require.Eventually(t, func() bool { return len(sub.submitted) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "later.wav", sub.submitted[0].Filename)
}
