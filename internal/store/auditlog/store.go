// Package auditlog persists an append-only record of every executor attempt,
// for operator review of what was executed, rejected, or lost to the router.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultd/internal/compound"
	"vaultd/internal/logger"

	_ "modernc.org/sqlite"
)

// AuditStore writes execution traces to SQLite via database/sql. It is kept
// separate from the gorm store so heavy audit reads never contend with the
// vault's bookkeeping writes.
type AuditStore struct {
	db   *sql.DB
	path string
}

// Record is one persisted execution attempt.
type Record struct {
	ID           int64  `json:"id"`
	Timestamp    int64  `json:"ts"`
	Caller       string `json:"caller"`
	Digest       string `json:"digest,omitempty"`
	TokenIn      string `json:"token_in,omitempty"`
	TokenOut     string `json:"token_out,omitempty"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
	AmountOut    string `json:"amount_out"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// Query filters List results.
type Query struct {
	Caller string
	Status string
	Limit  int
	Offset int
}

func NewAuditStore(path string) (*AuditStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditStore{db: db, path: path}, nil
}

func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			caller TEXT NOT NULL,
			digest TEXT,
			token_in TEXT,
			token_out TEXT,
			amount_in TEXT,
			min_amount_out TEXT,
			amount_out TEXT,
			status TEXT NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_audit_ts_id ON execution_audit(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_audit_caller ON execution_audit(caller, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_audit_status ON execution_audit(status, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_audit_digest ON execution_audit(digest);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert appends one record.
func (s *AuditStore) Insert(ctx context.Context, rec Record) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("audit store not initialized")
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_audit
			(ts, caller, digest, token_in, token_out, amount_in, min_amount_out, amount_out, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, rec.Caller, rec.Digest, rec.TokenIn, rec.TokenOut,
		rec.AmountIn, rec.MinAmountOut, rec.AmountOut, rec.Status, rec.Error,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func buildFilter(q Query) (string, []interface{}) {
	var args []interface{}
	var sb strings.Builder
	sb.WriteString(" WHERE 1=1")
	if caller := strings.TrimSpace(q.Caller); caller != "" {
		sb.WriteString(" AND caller=?")
		args = append(args, caller)
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		sb.WriteString(" AND status=?")
		args = append(args, status)
	}
	return sb.String(), args
}

// List returns recent records, newest first.
func (s *AuditStore) List(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit store not initialized")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	filterSQL, args := buildFilter(q)
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, `SELECT id, ts, caller, digest, token_in, token_out,
		amount_in, min_amount_out, amount_out, status, error
		FROM execution_audit`+filterSQL+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Count reports how many records match the filter.
func (s *AuditStore) Count(ctx context.Context, q Query) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("audit store not initialized")
	}
	filterSQL, args := buildFilter(q)
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_audit`+filterSQL, args...).Scan(&total)
	return total, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec                                       Record
		digest, tokenIn, tokenOut                 sql.NullString
		amountIn, minAmountOut, amountOut, errStr sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.Timestamp, &rec.Caller, &digest, &tokenIn, &tokenOut,
		&amountIn, &minAmountOut, &amountOut, &rec.Status, &errStr); err != nil {
		return rec, err
	}
	rec.Digest = digest.String
	rec.TokenIn = tokenIn.String
	rec.TokenOut = tokenOut.String
	rec.AmountIn = amountIn.String
	rec.MinAmountOut = minAmountOut.String
	rec.AmountOut = amountOut.String
	rec.Error = errStr.String
	return rec, nil
}

// Observer adapts the store to the executor's observer hook.
type Observer struct {
	store *AuditStore
}

func NewObserver(store *AuditStore) *Observer {
	if store == nil {
		return nil
	}
	return &Observer{store: store}
}

// AfterExecute persists one trace; write failures are logged, never surfaced.
func (o *Observer) AfterExecute(ctx context.Context, trace compound.ExecutionTrace) {
	if o == nil || o.store == nil {
		return
	}
	rec := Record{
		Timestamp:    trace.At.UnixMilli(),
		Caller:       trace.Caller,
		Digest:       trace.Digest,
		TokenIn:      trace.TokenIn,
		TokenOut:     trace.TokenOut,
		AmountIn:     trace.AmountIn.String(),
		MinAmountOut: trace.MinAmountOut.String(),
		AmountOut:    trace.AmountOut.String(),
		Status:       trace.Status,
		Error:        trace.Error,
	}
	if _, err := o.store.Insert(ctx, rec); err != nil {
		logger.Warnf("audit log write failed: %v", err)
	}
}
