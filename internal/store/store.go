// Package store implements the Job Store (C1): durable, transactional
// persistence for Job rows backed by an embedded relational engine.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"voxqueue/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrDuplicate is returned by Create when job_id already exists.
var ErrDuplicate = errors.New("store: duplicate job id")

// ErrNotFound is returned by Update on a missing row. Get instead returns
// (nil, nil) and Delete returns nil for a missing row per spec.md §4.1.
var ErrNotFound = errors.New("store: job not found")

// Store is the Job Store. Reads go straight to GORM; writes additionally
// take writeMu so two logical read-modify-write sequences from different
// goroutines cannot interleave, reinforcing SQLite's own single-writer
// discipline rather than relying on it alone.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// Open opens (creating if absent) the embedded database at dbPath and
// migrates the schema.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?"+
		"_pragma=foreign_keys(1)&"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=busy_timeout(5000)",
		dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&models.Job{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new job row. Fails with ErrDuplicate if job_id exists.
func (s *Store) Create(j *models.Job) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int64
	if err := s.db.Model(&models.Job{}).Where("job_id = ?", j.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	if count > 0 {
		return ErrDuplicate
	}
	if err := s.db.Create(j).Error; err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Get returns the job with the given id, or (nil, nil) if absent.
func (s *Store) Get(id string) (*models.Job, error) {
	var j models.Job
	err := s.db.Where("job_id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	j.NormalizeError()
	return &j, nil
}

// Update replaces the full row keyed by job_id.
func (s *Store) Update(j *models.Job) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.Model(&models.Job{}).Where("job_id = ?", j.ID).Select("*").Updates(j)
	if res.Error != nil {
		return fmt.Errorf("store: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the job row. Idempotent: deleting an absent id is not
// an error.
func (s *Store) Delete(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Where("job_id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// List returns jobs newest-first by created_at, optionally filtered by
// status, with limit/offset pagination.
func (s *Store) List(status string, limit, offset int) ([]models.Job, error) {
	var jobs []models.Job
	q := s.db.Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	for i := range jobs {
		jobs[i].NormalizeError()
	}
	return jobs, nil
}

// Count returns the total number of jobs, optionally filtered by status.
func (s *Store) Count(status string) (int64, error) {
	var count int64
	q := s.db.Model(&models.Job{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return count, nil
}

// Expired returns rows whose expires_at is set and strictly in the past.
func (s *Store) Expired() ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("store: expired: %w", err)
	}
	for i := range jobs {
		jobs[i].NormalizeError()
	}
	return jobs, nil
}

// Queued returns status=queued rows oldest-first, used for recovery on
// startup (spec.md §4.5).
func (s *Store) Queued() ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.Where("status = ?", models.StatusQueued).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("store: queued: %w", err)
	}
	for i := range jobs {
		jobs[i].NormalizeError()
	}
	return jobs, nil
}

// InProgress returns rows in any non-terminal, non-queued state, used to
// reclassify orphans after a crash (spec.md §4.5).
func (s *Store) InProgress() ([]models.Job, error) {
	statuses := []models.Status{
		models.StatusDownloading,
		models.StatusExtracting,
		models.StatusTranscribing,
		models.StatusFormatting,
	}
	var jobs []models.Job
	err := s.db.Where("status IN ?", statuses).Order("started_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("store: in_progress: %w", err)
	}
	for i := range jobs {
		jobs[i].NormalizeError()
	}
	return jobs, nil
}
