// Package dropzone watches a configured directory for media files and
// auto-submits each as a job, mirroring the submission path the HTTP API
// uses for uploads.
package dropzone

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxqueue/internal/models"
	"voxqueue/internal/pipeline"
	"voxqueue/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".aac": true,
	".ogg": true, ".wma": true, ".mp4": true, ".avi": true, ".mov": true,
	".mkv": true, ".webm": true,
}

// Submitter is the subset of processor.Processor the watcher drives.
type Submitter interface {
	Submit(job *models.Job, retention time.Duration) error
}

// Watcher monitors Dir (non-recursively) and submits each newly-created
// media file as a job, then removes the source file once it has been
// copied into the job's input directory.
type Watcher struct {
	dir       string
	dataRoot  string
	retention time.Duration
	submitter Submitter
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// New constructs a Watcher. Start creates dir if absent. dataRoot is the same
// root the Job Processor uses to lay out per-job directories.
func New(dir, dataRoot string, retention time.Duration, submitter Submitter) *Watcher {
	return &Watcher{
		dir:       dir,
		dataRoot:  dataRoot,
		retention: retention,
		submitter: submitter,
		done:      make(chan struct{}),
	}
}

// Start creates the watch directory, processes any files already present,
// and begins watching for new ones in a background goroutine.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				w.handle(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	go w.loop()
	logger.Info("dropzone watcher started", "dir", w.dir)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				w.handle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("dropzone watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if !audioExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}

	// Give slow writers a moment to finish before reading the file.
	time.Sleep(500 * time.Millisecond)

	job := &models.Job{
		ID:        models.NewJobID(),
		Filename:  filepath.Base(path),
		Status:    models.StatusQueued,
		Stage:     models.StatusQueued,
		CreatedAt: time.Now(),
	}

	destDir := pipeline.JobDir(w.dataRoot, job.ID).Input
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		logger.Warn("dropzone: mkdir failed", "path", path, "error", err)
		return
	}
	destPath := filepath.Join(destDir, job.Filename)
	if err := copyFile(path, destPath); err != nil {
		logger.Warn("dropzone: copy failed", "path", path, "error", err)
		return
	}
	job.InputPath = destPath

	if err := w.submitter.Submit(job, w.retention); err != nil {
		logger.Warn("dropzone: submit failed", "path", path, "error", err)
		return
	}

	if err := os.Remove(path); err != nil {
		logger.Warn("dropzone: could not remove source file after submit", "path", path, "error", err)
	}
	logger.Info("dropzone: submitted job", "job_id", job.ID, "source", path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}
