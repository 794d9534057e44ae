// Package audit persists an append trail of who did what to which chain.
// Entries are written to SQLite, batched asynchronously so that audit I/O
// never sits on the evidence write path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/constat/dbopen"
	"github.com/hazyhaar/constat/idgen"
	"github.com/hazyhaar/constat/kit"
)

const (
	batchSize     = 32
	flushInterval = time.Second
	bufferSize    = 1024
)

// Logger is the sink surface collaborators depend on. Services hold this,
// not the concrete SQLite type.
type Logger interface {
	LogAsync(*Entry)
}

// Entry is one audited operation.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	ChainID    string `json:"chain_id,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Transport  string `json:"transport,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id      TEXT PRIMARY KEY,
	timestamp     INTEGER NOT NULL,
	action        TEXT NOT NULL,
	chain_id      TEXT NOT NULL DEFAULT '',
	parameters    TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	transport     TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_chain ON audit_log(chain_id);
`

// SQLiteLogger writes audit entries to SQLite with async batching.
type SQLiteLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Entry
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets a custom generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// NewSQLiteLogger creates a logger over the given database and starts its
// flush goroutine. Call Init once before logging, Close to flush and stop.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		ch:    make(chan *Entry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table and indexes.
func (l *SQLiteLogger) Init() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	return nil
}

// Log inserts an entry synchronously, filling defaults from ctx.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(ctx, e)
	return l.insert(ctx, e)
}

// LogAsync queues an entry for batched persistence. Falls back to a
// synchronous insert when the buffer is full, so entries are not dropped
// under load.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(context.Background(), e)
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit: buffer full, sync fallback", "action", e.Action)
		if err := l.insert(context.Background(), e); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

func (l *SQLiteLogger) fillDefaults(ctx context.Context, e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
	if e.Transport == "" {
		e.Transport = kit.GetTransport(ctx)
	}
	if e.UserID == "" {
		e.UserID = kit.GetUserID(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = kit.GetRequestID(ctx)
	}
}

func (l *SQLiteLogger) insert(ctx context.Context, e *Entry) error {
	_, err := dbopen.Exec(ctx, l.db, `INSERT INTO audit_log
		(entry_id, timestamp, action, chain_id, parameters,
		 user_id, transport, request_id, status, error_message)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.ChainID, e.Parameters,
		e.UserID, e.Transport, e.RequestID, e.Status, e.Error)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
				(entry_id, timestamp, action, chain_id, parameters,
				 user_id, transport, request_id, status, error_message)
				VALUES (?,?,?,?,?,?,?,?,?,?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range batch {
				if _, err := stmt.ExecContext(ctx,
					e.EntryID, e.Timestamp, e.Action, e.ChainID, e.Parameters,
					e.UserID, e.Transport, e.RequestID, e.Status, e.Error); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			slog.Error("audit: batch flush failed", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close drains the buffer, flushes whatever remains and stops the
// goroutine.
func (l *SQLiteLogger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

// QueryFilter narrows audit queries. Zero fields are ignored.
type QueryFilter struct {
	Action  string
	ChainID string
	UserID  string
	Since   int64 // unix milliseconds
	Limit   int   // default 100
	Offset  int
}

// Query returns matching entries, newest first.
func (l *SQLiteLogger) Query(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, action, chain_id, parameters,
		user_id, transport, request_id, status, error_message
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.ChainID != "" {
		q += " AND chain_id = ?"
		args = append(args, f.ChainID)
	}
	if f.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Since > 0 {
		q += " AND timestamp >= ?"
		args = append(args, f.Since)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.EntryID, &e.Timestamp, &e.Action, &e.ChainID, &e.Parameters,
			&e.UserID, &e.Transport, &e.RequestID, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retentionDays. Returns rows removed.
func (l *SQLiteLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := dbopen.Exec(ctx, l.db, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Middleware audits every call through an endpoint under the given action
// name. The wrapped endpoint's response and error pass through untouched.
func Middleware(l Logger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			e := &Entry{
				Action:    action,
				UserID:    kit.GetUserID(ctx),
				Transport: kit.GetTransport(ctx),
				RequestID: kit.GetRequestID(ctx),
			}
			if req != nil {
				if b, merr := json.Marshal(req); merr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			l.LogAsync(e)
			return resp, err
		}
	}
}
