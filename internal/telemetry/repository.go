package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// SessionRecord summarizes one completed telemetry session for the archive.
type SessionRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Rows      int
	Columns   int
	FilePath  string
}

// Repository persists session summaries across controller runs.
type Repository interface {
	Archive(record SessionRecord) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepository opens (creating if needed) the sqlite session archive.
func NewRepository(dbPath string) (Repository, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Str("path", dbPath).Msg("Initializing telemetry session archive")

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) Archive(record SessionRecord) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO sessions (
            started_at, duration_ms, row_count, column_count, file_path
        ) VALUES (?, ?, ?, ?, ?)
    `,
		record.StartedAt.Unix(),
		record.Duration.Milliseconds(),
		record.Rows,
		record.Columns,
		record.FilePath,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}
