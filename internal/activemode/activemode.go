// Package activemode implements the per-channel active-mode registry (spec
// component C4): channels the dispatcher should keep replying in passively,
// without requiring a fresh mention, until a period of inactivity elapses.
package activemode

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lyra-systems/convbus/internal/bus"
)

// Registry is the C4 contract, backed by the same per-process SQLite file
// idiom as claimstore and ledger so active-mode state survives a restart.
type Registry struct {
	db       *sql.DB
	instance string
}

// New opens (creating if absent) the active-mode database at path.
func New(ctx context.Context, path, instance string, busyTimeout time.Duration) (*Registry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("activemode: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, instance: instance}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS active_modes (
			channel_id TEXT PRIMARY KEY,
			entered_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			instance_id TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("activemode: init schema: %w", err)
	}
	return r, nil
}

// Enter marks channel as active, or is a no-op (refreshing last_activity)
// if it already is.
func (r *Registry) Enter(ctx context.Context, channel string) error {
	now := time.Now().UnixNano()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_modes (channel_id, entered_at, last_activity, instance_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET last_activity = excluded.last_activity`,
		channel, now, now, r.instance,
	)
	if err != nil {
		return fmt.Errorf("%w: enter active mode: %v", bus.ErrTransientIO, err)
	}
	return nil
}

// Touch updates last_activity for channel if it is currently active; it is
// a no-op if the channel isn't present, matching Enter-or-ignore semantics
// for a dispatcher turn that only touches, never enters, on a passive reply.
func (r *Registry) Touch(ctx context.Context, channel string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE active_modes SET last_activity = ? WHERE channel_id = ?`, time.Now().UnixNano(), channel)
	if err != nil {
		return fmt.Errorf("%w: touch active mode: %v", bus.ErrTransientIO, err)
	}
	return nil
}

// Exit removes channel from the active set. Exiting a channel that isn't
// active is idempotent.
func (r *Registry) Exit(ctx context.Context, channel string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_modes WHERE channel_id = ?`, channel)
	if err != nil {
		return fmt.Errorf("%w: exit active mode: %v", bus.ErrTransientIO, err)
	}
	return nil
}

// IsActive reports whether channel currently holds an (unexpired-by-reaper)
// active-mode row. The dispatcher calls this rather than list_active
// per-turn since it only needs a single-channel answer.
func (r *Registry) IsActive(ctx context.Context, channel string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_modes WHERE channel_id = ?`, channel).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: is_active: %v", bus.ErrTransientIO, err)
	}
	return n > 0, nil
}

// ListActive returns every channel whose last_activity is within timeout of
// now.
func (r *Registry) ListActive(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-timeout).UnixNano()
	rows, err := r.db.QueryContext(ctx, `SELECT channel_id FROM active_modes WHERE last_activity >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list_active: %v", bus.ErrTransientIO, err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("%w: scan active channel: %v", bus.ErrTransientIO, err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// RunReaper evicts channels where now−last_activity > timeout once per
// period (typically a 1 Hz reaper) until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, timeout, period time.Duration, onEvict func(channel string)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-timeout).UnixNano()
			rows, err := r.db.QueryContext(ctx, `SELECT channel_id FROM active_modes WHERE last_activity < ?`, cutoff)
			if err != nil {
				continue
			}
			var evicted []string
			for rows.Next() {
				var c string
				if rows.Scan(&c) == nil {
					evicted = append(evicted, c)
				}
			}
			rows.Close()

			for _, c := range evicted {
				if _, err := r.db.ExecContext(ctx, `DELETE FROM active_modes WHERE channel_id = ?`, c); err == nil && onEvict != nil {
					onEvict(c)
				}
			}
		}
	}
}

func (r *Registry) Close() error {
	return r.db.Close()
}
