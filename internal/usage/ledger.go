// Package usage keeps a local ledger of finished generation calls in an
// embedded sqlite database, for the stats surface and offline inspection.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/seralys/lorekeeper/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id   TEXT    NOT NULL,
	provider     TEXT    NOT NULL,
	model        TEXT    NOT NULL,
	total_tokens INTEGER NOT NULL,
	latency_ms   INTEGER NOT NULL,
	attempts     INTEGER NOT NULL,
	outcome      TEXT    NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_provider ON calls(provider);
CREATE INDEX IF NOT EXISTS idx_calls_created ON calls(created_at);
`

// Ledger records call outcomes. It satisfies the engine's Recorder
// interface; recording failures are logged and never propagate into the
// call path.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Record inserts one finished call. Implements engine.Recorder.
func (l *Ledger) Record(ctx context.Context, rec engine.CallRecord) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO calls (request_id, provider, model, total_tokens, latency_ms, attempts, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model, rec.TotalTokens, rec.LatencyMS, rec.Attempts, rec.Outcome,
		time.Now().UnixMilli())
	if err != nil {
		log.Warnf("usage ledger insert failed: %v", err)
	}
}

// ProviderSummary aggregates the ledger per provider.
type ProviderSummary struct {
	Provider     string `json:"provider"`
	Calls        int    `json:"calls"`
	TotalTokens  int    `json:"total-tokens"`
	AvgLatencyMS int    `json:"avg-latency-ms"`
	Errors       int    `json:"errors"`
}

// Summary returns per-provider aggregates ordered by call count.
func (l *Ledger) Summary(ctx context.Context) ([]ProviderSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider, COUNT(*), COALESCE(SUM(total_tokens), 0),
		        COALESCE(CAST(AVG(latency_ms) AS INTEGER), 0),
		        COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0)
		 FROM calls GROUP BY provider ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ProviderSummary
	for rows.Next() {
		var s ProviderSummary
		if err = rows.Scan(&s.Provider, &s.Calls, &s.TotalTokens, &s.AvgLatencyMS, &s.Errors); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CallRow is one ledger row for the recent-calls view.
type CallRow struct {
	RequestID   string    `json:"request-id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	TotalTokens int       `json:"total-tokens"`
	LatencyMS   int64     `json:"latency-ms"`
	Attempts    int       `json:"attempts"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created-at"`
}

// Recent returns the newest calls, most recent first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]CallRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT request_id, provider, model, total_tokens, latency_ms, attempts, outcome, created_at
		 FROM calls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []CallRow
	for rows.Next() {
		var r CallRow
		var createdMs int64
		if err = rows.Scan(&r.RequestID, &r.Provider, &r.Model, &r.TotalTokens, &r.LatencyMS, &r.Attempts, &r.Outcome, &createdMs); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}
