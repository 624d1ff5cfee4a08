package claimstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lyra-systems/convbus/internal/bus"
)

// SQLiteStore is the durable claim backend: a single WAL-mode SQLite file
// shared by every daemon instance on the same volume. It is the default
// backend and the only one guaranteed to survive a Redis outage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the claims database at path and
// ensures its schema, mirroring the manifold auth store's sql.DB-wrapped,
// InitSchema-on-construct shape.
func NewSQLiteStore(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("claimstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claims (
			channel    TEXT NOT NULL,
			message    TEXT NOT NULL,
			instance   TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (channel, message)
		)
	`)
	if err != nil {
		return fmt.Errorf("claimstore: init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TryClaim(ctx context.Context, channel, message, instance string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin tx: %v", bus.ErrTransientIO, err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM claims WHERE channel = ? AND message = ? AND expires_at < ?`,
		channel, message, now.UnixNano(),
	); err != nil {
		return false, fmt.Errorf("%w: sweep on claim: %v", bus.ErrTransientIO, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claims (channel, message, instance, expires_at) VALUES (?, ?, ?, ?)`,
		channel, message, instance, now.Add(ttl).UnixNano(),
	)
	if err != nil {
		// Primary-key collision means a live claim still holds the row.
		if isConstraintErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: insert claim: %v", bus.ErrTransientIO, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit claim: %v", bus.ErrTransientIO, err)
	}
	return true, nil
}

func (s *SQLiteStore) Release(ctx context.Context, channel, message, instance string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM claims WHERE channel = ? AND message = ? AND instance = ?`,
		channel, message, instance,
	)
	if err != nil {
		return fmt.Errorf("%w: release claim: %v", bus.ErrTransientIO, err)
	}
	return nil
}

func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE expires_at < ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep expired claims: %v", bus.ErrTransientIO, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintErr reports whether err is a SQLite UNIQUE/PRIMARY KEY
// violation, recognized by message substring the way modernc.org/sqlite
// surfaces it through database/sql (it does not export a typed sentinel).
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
