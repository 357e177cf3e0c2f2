package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	context_id    TEXT NOT NULL,
	screen_id     TEXT NOT NULL,
	target        TEXT NOT NULL,
	x             INTEGER NOT NULL,
	y             INTEGER NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_used     TEXT NOT NULL,
	PRIMARY KEY (context_id, screen_id, target)
);
`

// SQLiteMemory - memory backend over a single sqlite database
type SQLiteMemory struct {
	db *sql.DB
}

var _ interfaces.MemoryBackend = (*SQLiteMemory)(nil)

// NewSQLiteMemory - opens the database at path and runs migrations. ":memory:" is accepted.
func NewSQLiteMemory(path string) (*SQLiteMemory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteMemory{db: db}, nil
}

// Load - returns the record for key, nil when absent
func (s *SQLiteMemory) Load(ctx context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT x, y, success_count, failure_count, last_used
		 FROM memory_records WHERE context_id = ? AND screen_id = ? AND target = ?`,
		key.ContextID, key.ScreenID, key.Target,
	)
	rec := entities.MemoryRecord{Key: key}
	var lastUsed string
	if err := row.Scan(&rec.X, &rec.Y, &rec.SuccessCount, &rec.FailureCount, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan memory record: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, lastUsed)
	if err != nil {
		return nil, fmt.Errorf("parse last_used: %w", err)
	}
	rec.LastUsed = t
	return &rec, nil
}

// Save - upserts the record
func (s *SQLiteMemory) Save(ctx context.Context, rec entities.MemoryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_records (context_id, screen_id, target, x, y, success_count, failure_count, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (context_id, screen_id, target) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			last_used = excluded.last_used`,
		rec.Key.ContextID, rec.Key.ScreenID, rec.Key.Target,
		rec.X, rec.Y, rec.SuccessCount, rec.FailureCount,
		rec.LastUsed.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert memory record: %w", err)
	}
	return nil
}

// Delete - removes the record; missing records are ignored
func (s *SQLiteMemory) Delete(ctx context.Context, key entities.MemoryKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE context_id = ? AND screen_id = ? AND target = ?`,
		key.ContextID, key.ScreenID, key.Target,
	)
	if err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	return nil
}

// List - every record of a context ordered by screen, then target
func (s *SQLiteMemory) List(ctx context.Context, contextID string) ([]entities.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT screen_id, target, x, y, success_count, failure_count, last_used
		 FROM memory_records WHERE context_id = ? ORDER BY screen_id, target`,
		contextID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memory records: %w", err)
	}
	defer rows.Close()

	var out []entities.MemoryRecord
	for rows.Next() {
		rec := entities.MemoryRecord{Key: entities.MemoryKey{ContextID: contextID}}
		var lastUsed string
		if err := rows.Scan(&rec.Key.ScreenID, &rec.Key.Target, &rec.X, &rec.Y,
			&rec.SuccessCount, &rec.FailureCount, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		if rec.LastUsed, err = time.Parse(time.RFC3339Nano, lastUsed); err != nil {
			return nil, fmt.Errorf("parse last_used: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close - closes the database
func (s *SQLiteMemory) Close() error {
	return s.db.Close()
}
