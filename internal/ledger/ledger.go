// Package ledger implements the append-only message log with full-text
// search (spec component C1) — the Conversation Bus's source of truth.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lyra-systems/convbus/internal/bus"
)

// Record is one conversational turn as stored by the ledger.
type Record struct {
	ID         int64
	ExternalID string // empty means none
	Channel    string
	AuthorID   int64
	AuthorName string
	Content    string
	IsSelf     bool
	IsBot      bool
	CreatedAt  time.Time
	SummaryID  int64 // 0 means unset
	BatchID    int64 // 0 means unset
}

// SearchResult is one FTS5 match, ranked by relevance.
type SearchResult struct {
	Record
	Relevance float64
}

// Summary is a rolled-up span of messages produced by the layer-summary
// pipeline (spec §3): the range [StartMessageID, EndMessageID] never
// overlaps another summary for the same channel, and every message in that
// range carries SummaryID set to this Summary's ID.
type Summary struct {
	ID             int64
	Text           string
	StartMessageID int64
	EndMessageID   int64
	MessageCount   int
	Channels       []string
	TimeSpanStart  time.Time
	TimeSpanEnd    time.Time
	Kind           string
	CreatedAt      time.Time
}

// Ledger is the durable message log. A single logical writer is serialised
// by an in-process semaphore (the "advisory write lock" of §5) layered on
// top of SQLite's own busy_timeout, since a single process is always the
// sole writer to its own ledger file.
type Ledger struct {
	db            *sql.DB
	writeSem      chan struct{}
	writeLockWait time.Duration
}

// New opens (creating if absent) the ledger database at path in WAL mode
// and ensures its schema, following the same sql.Open-then-InitSchema shape
// claimstore.NewSQLiteStore uses.
func New(ctx context.Context, path string, busyTimeout, writeLockWait time.Duration) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, writeSem: make(chan struct{}, 1), writeLockWait: writeLockWait}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT UNIQUE,
			channel TEXT NOT NULL,
			author_id INTEGER NOT NULL,
			author_name TEXT NOT NULL,
			content TEXT NOT NULL,
			is_self INTEGER NOT NULL DEFAULT 0,
			is_bot INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			summary_id INTEGER,
			batch_id INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_author_created ON messages(author_id, created_at DESC)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(content, author_name, channel, content_rowid='id')`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			start_message_id INTEGER NOT NULL,
			end_message_id INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			channels TEXT NOT NULL,
			time_span_start INTEGER NOT NULL,
			time_span_end INTEGER NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_range ON summaries(start_message_id, end_message_id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: init schema: %w", err)
		}
	}
	return nil
}

// acquireWrite blocks until the write semaphore is free or writeLockWait
// elapses: an advisory write lock with a bounded max wait.
func (l *Ledger) acquireWrite(ctx context.Context) (func(), error) {
	cctx, cancel := context.WithTimeout(ctx, l.writeLockWait)
	defer cancel()
	select {
	case l.writeSem <- struct{}{}:
		return func() { <-l.writeSem }, nil
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: write lock wait exceeded", bus.ErrTransientIO)
	}
}

// Append inserts record atomically, updating the FTS index in the same
// transaction so a stale FTS entry can never outlive its row. If
// ExternalID is set and already present, Append is a no-op and returns
// (0, true, nil).
func (l *Ledger) Append(ctx context.Context, r Record) (id int64, dup bool, err error) {
	release, err := l.acquireWrite(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()

	if r.ExternalID != "" {
		var existing int64
		err := l.db.QueryRowContext(ctx, `SELECT id FROM messages WHERE external_id = ?`, r.ExternalID).Scan(&existing)
		if err == nil {
			return 0, true, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("%w: external_id lookup: %v", bus.ErrTransientIO, err)
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: begin append tx: %v", bus.ErrTransientIO, err)
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()
	var externalID any
	if r.ExternalID != "" {
		externalID = r.ExternalID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (external_id, channel, author_id, author_name, content, is_self, is_bot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		externalID, r.Channel, r.AuthorID, r.AuthorName, r.Content, boolToInt(r.IsSelf), boolToInt(r.IsBot), createdAt.UnixNano(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("%w: insert message: %v", bus.ErrTransientIO, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("%w: last insert id: %v", bus.ErrTransientIO, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages_fts (rowid, content, author_name, channel) VALUES (?, ?, ?, ?)`,
		newID, r.Content, r.AuthorName, r.Channel,
	); err != nil {
		return 0, false, fmt.Errorf("%w: insert fts row: %v", bus.ErrTransientIO, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("%w: commit append: %v", bus.ErrTransientIO, err)
	}
	return newID, false, nil
}

// GetRange returns messages for channel (prefix-matched) in id-ascending
// order, optionally bounded by beforeID / sinceTS.
func (l *Ledger) GetRange(ctx context.Context, channel string, beforeID int64, sinceTS time.Time, limit int) ([]Record, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, external_id, channel, author_id, author_name, content, is_self, is_bot, created_at, summary_id, batch_id
		FROM messages WHERE channel LIKE ? || '%'`)
	args := []any{channel}
	if beforeID > 0 {
		query.WriteString(` AND id < ?`)
		args = append(args, beforeID)
	}
	if !sinceTS.IsZero() {
		query.WriteString(` AND created_at >= ?`)
		args = append(args, sinceTS.UnixNano())
	}
	query.WriteString(` ORDER BY id ASC LIMIT ?`)
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get_range: %v", bus.ErrTransientIO, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FTSSearch runs a ranked full-text query over content, author_name, and
// channel. Query syntax (AND by juxtaposition, OR, phrase quoting, prefix
// '*', NOT) is FTS5's own MATCH syntax, passed through unmodified.
func (l *Ledger) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT m.id, m.external_id, m.channel, m.author_id, m.author_name, m.content, m.is_self, m.is_bot, m.created_at, m.summary_id, m.batch_id, bm25(messages_fts)
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: fts_search: %v", bus.ErrTransientIO, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r Record
		var extID sql.NullString
		var summaryID, batchID sql.NullInt64
		var createdAtNanos int64
		var isSelf, isBot int
		var rank float64
		if err := rows.Scan(&r.ID, &extID, &r.Channel, &r.AuthorID, &r.AuthorName, &r.Content, &isSelf, &isBot, &createdAtNanos, &summaryID, &batchID, &rank); err != nil {
			return nil, fmt.Errorf("%w: scan fts row: %v", bus.ErrTransientIO, err)
		}
		r.ExternalID = extID.String
		r.IsSelf = isSelf != 0
		r.IsBot = isBot != 0
		r.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		r.SummaryID = summaryID.Int64
		r.BatchID = batchID.Int64
		// bm25 is negative and more-negative-is-better; normalise to [0,1)
		// so that a better match gets a higher relevance.
		score := max0(-rank)
		relevance := score / (1.0 + score)
		results = append(results, SearchResult{Record: r, Relevance: relevance})
	}
	return results, rows.Err()
}

func (l *Ledger) CountUnsummarized(ctx context.Context) (int, error) {
	return l.countWhere(ctx, `summary_id IS NULL`)
}

func (l *Ledger) GetUnsummarized(ctx context.Context, limit int) ([]Record, error) {
	return l.selectWhere(ctx, `summary_id IS NULL ORDER BY id ASC LIMIT ?`, limit)
}

// MarkSummarized sets summary_id on every message with id in [startID, endID].
func (l *Ledger) MarkSummarized(ctx context.Context, startID, endID, summaryID int64) error {
	release, err := l.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()
	_, err = l.db.ExecContext(ctx, `UPDATE messages SET summary_id = ? WHERE id BETWEEN ? AND ?`, summaryID, startID, endID)
	if err != nil {
		return fmt.Errorf("%w: mark_summarized: %v", bus.ErrTransientIO, err)
	}
	return nil
}

// RangeIsSummarized reports whether [startID, endID] overlaps an existing
// summary's range for the invariant in spec §3: a channel's message range
// may be claimed by at most one summary.
func (l *Ledger) RangeIsSummarized(ctx context.Context, startID, endID int64) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM summaries
		WHERE start_message_id <= ? AND end_message_id >= ?`, endID, startID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: range_is_summarized: %v", bus.ErrTransientIO, err)
	}
	return n > 0, nil
}

// CreateSummary inserts s and marks every message in its id range with the
// new summary's id, atomically, then returns the assigned id.
func (l *Ledger) CreateSummary(ctx context.Context, s Summary) (int64, error) {
	release, err := l.acquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin create_summary tx: %v", bus.ErrTransientIO, err)
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO summaries (text, start_message_id, end_message_id, message_count, channels, time_span_start, time_span_end, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Text, s.StartMessageID, s.EndMessageID, s.MessageCount, strings.Join(s.Channels, ","),
		s.TimeSpanStart.UnixNano(), s.TimeSpanEnd.UnixNano(), s.Kind, createdAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert summary: %v", bus.ErrTransientIO, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: summary last insert id: %v", bus.ErrTransientIO, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET summary_id = ? WHERE id BETWEEN ? AND ?`, id, s.StartMessageID, s.EndMessageID); err != nil {
		return 0, fmt.Errorf("%w: mark messages summarized: %v", bus.ErrTransientIO, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit create_summary: %v", bus.ErrTransientIO, err)
	}
	return id, nil
}

// RecentSummaries returns the limit most recently created summaries,
// newest first.
func (l *Ledger) RecentSummaries(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, text, start_message_id, end_message_id, message_count, channels, time_span_start, time_span_end, kind, created_at
		FROM summaries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent_summaries: %v", bus.ErrTransientIO, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var channels string
		var spanStart, spanEnd, createdAt int64
		if err := rows.Scan(&s.ID, &s.Text, &s.StartMessageID, &s.EndMessageID, &s.MessageCount, &channels, &spanStart, &spanEnd, &s.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan summary row: %v", bus.ErrTransientIO, err)
		}
		if channels != "" {
			s.Channels = strings.Split(channels, ",")
		}
		s.TimeSpanStart = time.Unix(0, spanStart).UTC()
		s.TimeSpanEnd = time.Unix(0, spanEnd).UTC()
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (l *Ledger) CountUningested(ctx context.Context) (int, error) {
	return l.countWhere(ctx, `batch_id IS NULL`)
}

func (l *Ledger) GetUningested(ctx context.Context, limit int) ([]Record, error) {
	return l.selectWhere(ctx, `batch_id IS NULL ORDER BY id ASC LIMIT ?`, limit)
}

// MarkIngested sets batch_id on every message with id in [startID, endID].
func (l *Ledger) MarkIngested(ctx context.Context, startID, endID, batchID int64) error {
	release, err := l.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()
	_, err = l.db.ExecContext(ctx, `UPDATE messages SET batch_id = ? WHERE id BETWEEN ? AND ?`, batchID, startID, endID)
	if err != nil {
		return fmt.Errorf("%w: mark_ingested: %v", bus.ErrTransientIO, err)
	}
	return nil
}

func (l *Ledger) countWhere(ctx context.Context, where string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", bus.ErrTransientIO, err)
	}
	return n, nil
}

func (l *Ledger) selectWhere(ctx context.Context, whereAndOrder string, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, external_id, channel, author_id, author_name, content, is_self, is_bot, created_at, summary_id, batch_id
		FROM messages WHERE `+whereAndOrder, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", bus.ErrTransientIO, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var extID sql.NullString
		var summaryID, batchID sql.NullInt64
		var createdAtNanos int64
		var isSelf, isBot int
		if err := rows.Scan(&r.ID, &extID, &r.Channel, &r.AuthorID, &r.AuthorName, &r.Content, &isSelf, &isBot, &createdAtNanos, &summaryID, &batchID); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", bus.ErrTransientIO, err)
		}
		r.ExternalID = extID.String
		r.IsSelf = isSelf != 0
		r.IsBot = isBot != 0
		r.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		r.SummaryID = summaryID.Int64
		r.BatchID = batchID.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

// Backup writes a consistent point-in-time copy of the ledger to dstPath via
// sqlite's VACUUM INTO, holding the write semaphore for the duration so no
// Append can interleave with the snapshot. dstPath's parent directory must
// already exist; VACUUM INTO refuses to create one and refuses to overwrite
// an existing file.
func (l *Ledger) Backup(ctx context.Context, dstPath string) error {
	release, err := l.acquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := l.db.ExecContext(ctx, `VACUUM INTO ?`, dstPath); err != nil {
		return fmt.Errorf("%w: vacuum into %s: %v", bus.ErrTransientIO, dstPath, err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func max0(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
