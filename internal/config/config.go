// Package config loads voxqueue's configuration from environment
// variables (optionally via a .env file), layered with defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every configuration value named in spec.md §6.
type Config struct {
	Port  string
	Host  string
	Debug bool

	DataDir            string
	JobRetentionDays   int
	MaxUploadSizeMB    int
	ModelUnloadMinutes int
	ModelName          string
	AdminPassword      string

	DropzoneDir   string
	YtDLPPath     string
	FFmpegPath    string
	TranscribeCmd string
	LogLevel      string
}

// Load reads a .env file if present, then binds viper to the process
// environment and applies defaults, mirroring the teacher's pattern of
// godotenv-then-env-var resolution but through viper's binding instead of
// ad hoc os.Getenv calls.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", "8000")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("debug", false)
	v.SetDefault("data_dir", "data")
	v.SetDefault("job_retention_days", 7)
	v.SetDefault("max_upload_size_mb", 10240)
	v.SetDefault("model_unload_minutes", 5)
	v.SetDefault("model_name", "base")
	v.SetDefault("admin_password", "")
	v.SetDefault("dropzone_dir", "")
	v.SetDefault("yt_dlp_path", "yt-dlp")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("transcribe_cmd", "whisper-engine")
	v.SetDefault("log_level", "info")

	cfg := &Config{
		Port:               v.GetString("port"),
		Host:               v.GetString("host"),
		Debug:              v.GetBool("debug"),
		DataDir:            v.GetString("data_dir"),
		JobRetentionDays:   v.GetInt("job_retention_days"),
		MaxUploadSizeMB:    v.GetInt("max_upload_size_mb"),
		ModelUnloadMinutes: v.GetInt("model_unload_minutes"),
		ModelName:          v.GetString("model_name"),
		AdminPassword:      v.GetString("admin_password"),
		DropzoneDir:        v.GetString("dropzone_dir"),
		YtDLPPath:          v.GetString("yt_dlp_path"),
		FFmpegPath:         v.GetString("ffmpeg_path"),
		TranscribeCmd:      v.GetString("transcribe_cmd"),
		LogLevel:           v.GetString("log_level"),
	}

	// An unset DROPZONE_DIR defaults under data_dir; one set to "" disables
	// the watcher.
	if _, set := os.LookupEnv("DROPZONE_DIR"); !set && cfg.DropzoneDir == "" {
		cfg.DropzoneDir = filepath.Join(cfg.DataDir, "dropzone")
	}

	return cfg
}

// DBPath returns the path to the embedded relational store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// RetentionWindow converts JobRetentionDays into a time.Duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.JobRetentionDays) * 24 * time.Hour
}

// IdleTimeout converts ModelUnloadMinutes into a time.Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.ModelUnloadMinutes) * time.Minute
}

// MaxUploadSizeBytes converts MaxUploadSizeMB into bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// Validate checks the minimum preconditions required to start serving:
// a writable data directory. Missing config or an unwritable data dir is
// a startup failure (exit code 1 per spec.md §6).
func (c *Config) Validate() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("config: data_dir %q is not writable: %w", c.DataDir, err)
	}
	return nil
}
