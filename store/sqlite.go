package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

// SQLiteStore is the reference Store implementation from spec section 6.2,
// backed by the run_once_record table migrated in store/migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open, already-migrated *sql.DB.
// Use OpenDB/InitDBWithPath to obtain one.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Insert(ctx context.Context, key string, requestBlob []byte) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("store: key must not be empty")
	}
	return Transact(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_once_record (key, started_at, finished_at, status_id, request_blob, response_blob)
			VALUES (?, CURRENT_TIMESTAMP, NULL, ?, ?, NULL)
		`, key, int(StatusRunning), requestBlob)
		if err != nil {
			if IsUniqueConstraintErr(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert record %q: %w", key, err)
		}
		return nil
	})
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var statusID int
	var startedAt time.Time
	var finishedAt sql.NullTime
	var requestBlob, responseBlob []byte

	row := s.db.QueryRowContext(ctx, `
		SELECT key, started_at, finished_at, status_id, request_blob, response_blob
		FROM run_once_record WHERE key = ?
	`, key)
	if err := row.Scan(&rec.Key, &startedAt, &finishedAt, &statusID, &requestBlob, &responseBlob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load record %q: %w", key, err)
	}

	rec.StartedAt = startedAt
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	rec.Status = Status(statusID)
	rec.RequestBlob = requestBlob
	rec.ResponseBlob = responseBlob
	return &rec, nil
}

func (s *SQLiteStore) Finish(ctx context.Context, key string, responseBlob []byte, status Status) error {
	return Transact(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE run_once_record
			SET finished_at = CURRENT_TIMESTAMP, status_id = ?, response_blob = ?
			WHERE key = ?
		`, int(status), responseBlob, key)
		if err != nil {
			return fmt.Errorf("finish record %q: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finish record %q: rows affected: %w", key, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) Claim(ctx context.Context, key string, expected Status) (bool, error) {
	var claimed bool
	err := Transact(ctx, s.db, func(tx *sql.Tx) error {
		var currentStatus int
		row := tx.QueryRowContext(ctx, `SELECT status_id FROM run_once_record WHERE key = ?`, key)
		if err := row.Scan(&currentStatus); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("claim record %q: load: %w", key, err)
		}
		if Status(currentStatus) != expected {
			claimed = false
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE run_once_record
			SET status_id = ?, started_at = CURRENT_TIMESTAMP
			WHERE key = ? AND status_id = ?
		`, int(StatusRunning), key, int(expected))
		if err != nil {
			return fmt.Errorf("claim record %q: update: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim record %q: rows affected: %w", key, err)
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// IsUniqueConstraintErr checks for SQLite duplicate-key violations.
//
// Covers both UNIQUE constraints (2067) and PRIMARY KEY constraints (1555),
// since both signal the same semantic: a row with that key already exists.
// Uses typed sqlite.Error code matching first, falling back to string
// matching for wrapped errors that lose the concrete type.
func IsUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == 2067 || code == 1555
	}
	// Fallback for wrapped errors. Baseline: modernc.org/sqlite v1.45+.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}
