// Package storage persists execution history using GORM. All ORM usage is
// confined to this package; the session engine only sees the Recorder
// interface it implements.
//
// Two backends are provided: SQLite (default, zero-config, pure Go via
// modernc through the glebarez driver) and PostgreSQL (production).
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/sanduku/internal/session"
)

// ExecutionRecord is one persisted run of a session.
type ExecutionRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Session    string    `gorm:"index;size:128;not null" json:"session"`
	Script     string    `gorm:"size:256" json:"script"`
	Output     string    `gorm:"type:text" json:"output"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (ExecutionRecord) TableName() string { return "executions" }

// Store is the execution-history store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func newStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating executions table: %w", err)
	}
	return &Store{db: db, logger: logger.With(slog.String("component", "storage"))}, nil
}

// RecordExecution persists one run. Implements session.Recorder.
func (s *Store) RecordExecution(ctx context.Context, exec session.Execution) error {
	rec := ExecutionRecord{
		Session:    exec.Session,
		Script:     exec.Script,
		Output:     exec.Output,
		Success:    exec.Success,
		DurationMS: exec.Duration.Milliseconds(),
		StartedAt:  exec.StartedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return nil
}

// ListBySession returns the most recent executions of a session, newest
// first. limit <= 0 selects a default of 50.
func (s *Store) ListBySession(ctx context.Context, name string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []ExecutionRecord
	err := s.db.WithContext(ctx).
		Where("session = ?", name).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing executions for %s: %w", name, err)
	}
	return recs, nil
}

// Health pings the underlying database.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
