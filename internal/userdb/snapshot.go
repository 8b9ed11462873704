package userdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrSnapshotFinalized indicates use of a snapshot after Finalize.
var ErrSnapshotFinalized = errors.New("userdb: snapshot already finalized")

// Snapshot is a per-owner SQLite database staged on local disk for the
// duration of one task. Callers must Discard it when done; Finalize returns
// the bytes to upload and closes the write handle.
type Snapshot struct {
	db        *gorm.DB
	stageDir  string
	stagePath string
	finalized bool
}

// OpenSnapshot stages the downloaded snapshot bytes into a scratch file and
// opens it. Empty input yields a fresh, schema-complete database (used by
// provisioning and tests; the worker never reaches here without a download).
func OpenSnapshot(data []byte) (*Snapshot, error) {
	stageDir, err := os.MkdirTemp("", "userdb-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("userdb: staging dir: %w", err)
	}
	stagePath := filepath.Join(stageDir, "sync_db.sqlite")

	if len(data) > 0 {
		if err := os.WriteFile(stagePath, data, 0o600); err != nil {
			os.RemoveAll(stageDir)
			return nil, fmt.Errorf("userdb: staging snapshot: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(stagePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.RemoveAll(stageDir)
		return nil, fmt.Errorf("userdb: opening snapshot: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		os.RemoveAll(stageDir)
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Profile{}, &Card{}, &CardSubscription{}); err != nil {
		sqlDB.Close()
		os.RemoveAll(stageDir)
		return nil, fmt.Errorf("userdb: snapshot schema: %w", err)
	}

	return &Snapshot{db: db, stageDir: stageDir, stagePath: stagePath}, nil
}

// DB exposes the snapshot's database handle.
func (s *Snapshot) DB() *gorm.DB {
	return s.db
}

// Finalize commits and closes the snapshot, returning the file bytes to
// upload. The snapshot stays on disk until Discard.
func (s *Snapshot) Finalize() ([]byte, error) {
	if s.finalized {
		return nil, ErrSnapshotFinalized
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Close(); err != nil {
		return nil, fmt.Errorf("userdb: closing snapshot: %w", err)
	}
	s.finalized = true

	data, err := os.ReadFile(s.stagePath)
	if err != nil {
		return nil, fmt.Errorf("userdb: reading snapshot: %w", err)
	}
	return data, nil
}

// Discard releases the staged file and, if still open, the database handle.
// Safe to call after Finalize and safe to call twice.
func (s *Snapshot) Discard() {
	if !s.finalized {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
		s.finalized = true
	}
	if s.stageDir != "" {
		os.RemoveAll(s.stageDir)
		s.stageDir = ""
	}
}
