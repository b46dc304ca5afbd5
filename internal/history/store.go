// Package history records terminal conversion outcomes in a local sqlite
// ledger. Queued and running work is never persisted — a restart loses
// the queue by design; the ledger stores only finished facts.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/convertworks/convertd/internal/engine"
)

// Record is one finished conversion.
type Record struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	TaskID     string    `gorm:"index" json:"task_id"`
	SourcePath string    `json:"source_path"`
	OutputPath string    `json:"output_path"`
	Status     string    `gorm:"index" json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `gorm:"index" json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists conversion records.
type Store struct {
	db    *gorm.DB
	limit int
}

// Open opens (creating if necessary) the ledger at the given path. Use
// ":memory:" for an ephemeral store.
func Open(path string, limit int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating history db: %w", err)
	}

	if limit < 1 {
		limit = 500
	}
	return &Store{db: db, limit: limit}, nil
}

// Record stores a terminal task snapshot. Non-terminal snapshots are
// ignored. Implements engine.Recorder.
func (s *Store) Record(snap engine.Snapshot) {
	switch snap.Status {
	case "completed", "errored", "cancelled":
	default:
		return
	}

	rec := Record{
		ID:         ulid.Make().String(),
		TaskID:     snap.ID,
		SourcePath: snap.SourcePath,
		OutputPath: snap.OutputPath,
		Status:     snap.Status,
		Error:      snap.Error,
	}
	if snap.StartedAt != nil {
		rec.StartedAt = *snap.StartedAt
	}
	if snap.CompletedAt != nil {
		rec.FinishedAt = *snap.CompletedAt
	}

	s.db.Create(&rec)
	s.trim()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit < 1 || limit > s.limit {
		limit = s.limit
	}

	var records []Record
	err := s.db.Order("finished_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return records, nil
}

// trim drops the oldest records beyond the configured cap.
func (s *Store) trim() {
	var count int64
	s.db.Model(&Record{}).Count(&count)
	if count <= int64(s.limit) {
		return
	}

	var victims []Record
	s.db.Order("finished_at asc").Limit(int(count - int64(s.limit))).Find(&victims)
	for _, v := range victims {
		s.db.Delete(&Record{}, "id = ?", v.ID)
	}
}
