// Package store persists the per-room update log so a replica can come
// back to its best-known state without the network. Appends are
// content-addressed, so replaying or reordering an eventually-complete
// set of updates cannot change the merged result.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

// ErrStore wraps every persistence failure. Callers treat it as degraded
// durability, not as a reason to stop accepting edits.
var ErrStore = errors.New("store failure")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the durable update log, backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger log.Log
}

// Open initializes or connects to the update log database and applies
// migrations.
func Open(path string, logger log.Log) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure directory: %v", ErrStore, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrStore, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: apply pragma %q: %v", ErrStore, pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, logger: logger.With(log.String("component", "store"))}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			digest TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (room_id, digest)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_room ON updates (room_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrStore, err)
		}
	}
	return nil
}

// Close closes the underlying database connection. Durable rows survive.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// AppendUpdate durably records one update payload for the room. Appends
// are idempotent: re-appending bytes already present is a no-op.
func (s *Store) AppendUpdate(ctx context.Context, roomID string, payload []byte) error {
	if roomID == "" || len(payload) == 0 {
		return fmt.Errorf("%w: empty room or payload", ErrStore)
	}
	digest := contentDigest(payload)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO updates (room_id, digest, payload, created_at) VALUES (?, ?, ?, ?)`,
			roomID, digest, payload, timestamp,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("%w: append update: %v", ErrStore, err)
	}
	return nil
}

// LoadAll returns every persisted payload for the room in append order,
// ready to replay into a fresh replica.
func (s *Store) LoadAll(ctx context.Context, roomID string) ([][]byte, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payload FROM updates WHERE room_id = ? ORDER BY id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load updates: %v", ErrStore, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var payloads [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan update: %v", ErrStore, err)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate updates: %v", ErrStore, err)
	}
	return payloads, nil
}

// UpdateCount reports how many rows the room currently holds.
func (s *Store) UpdateCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM updates WHERE room_id = ?`,
		roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count updates: %v", ErrStore, err)
	}
	return count, nil
}

// Compact replaces the room's accumulated rows with a single full
// snapshot. The merged document state is unchanged; only the on-disk
// representation shrinks.
func (s *Store) Compact(ctx context.Context, roomID string, snapshot []byte) error {
	if len(snapshot) == 0 {
		return fmt.Errorf("%w: empty snapshot", ErrStore)
	}
	err := retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if _, txErr = tx.ExecContext(ctx, `DELETE FROM updates WHERE room_id = ?`, roomID); txErr != nil {
			return txErr
		}
		if _, txErr = tx.ExecContext(
			ctx,
			`INSERT INTO updates (room_id, digest, payload, created_at) VALUES (?, ?, ?, ?)`,
			roomID, contentDigest(snapshot), snapshot, time.Now().UTC().Format(time.RFC3339Nano),
		); txErr != nil {
			return txErr
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("%w: compact: %v", ErrStore, err)
	}
	s.logger.Debug("compacted room", log.String("room", roomID), log.Int("snapshot_bytes", len(snapshot)))
	return nil
}

func contentDigest(payload []byte) string {
	sum := xxhash.Sum64(payload)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
