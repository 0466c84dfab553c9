// Package journal records how every controller dispatch was resolved in a
// SQLite table. The default DSN is in-memory, so the journal lives as long as
// the process unless a file DSN is configured.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gamepilot/internal/controller"
	"gamepilot/internal/logging"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	prompt_id   TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT '',
	cost_usd    REAL NOT NULL DEFAULT 0.0,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome);
`

// Record is one journaled dispatch.
type Record struct {
	ID        int64
	EventType string
	PromptID  string
	Outcome   controller.Outcome
	Source    string
	Model     string
	Cost      float64
	Latency   time.Duration
	Error     string
	CreatedAt time.Time
}

// Journal is a SQLite-backed decision log.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the journal at dsn. ":memory:" keeps it in process.
func Open(dsn string) (*Journal, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection: in-memory databases are per connection, and SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	logging.Journal("journal opened (%s)", dsn)
	return &Journal{db: db}, nil
}

// FromResolution converts a controller resolution into a record.
func FromResolution(r controller.Resolution) Record {
	rec := Record{
		EventType: r.Event.Type.String(),
		PromptID:  r.Event.PromptID,
		Outcome:   r.Outcome,
		Latency:   r.Latency,
		CreatedAt: time.Now(),
	}
	if r.Response != nil {
		rec.Source = r.Response.Source
		rec.Model = r.Response.Model
		rec.Cost = r.Response.Cost
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Record inserts rec and returns its row id.
func (j *Journal) Record(ctx context.Context, rec Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions (event_type, prompt_id, outcome, source, model, cost_usd, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventType, rec.PromptID, string(rec.Outcome), rec.Source, rec.Model,
		rec.Cost, rec.Latency.Milliseconds(), rec.Error, rec.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert decision: %w", err)
	}
	return res.LastInsertId()
}

// Observe implements controller.Observer. Write failures are logged.
func (j *Journal) Observe(r controller.Resolution) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		return
	}
	if _, err := j.Record(context.Background(), FromResolution(r)); err != nil {
		logging.JournalWarn("dropping journal record for %s: %v", r.Event.Key(), err)
	}
}

// Outcomes counts records per outcome.
func (j *Journal) Outcomes(ctx context.Context) (map[controller.Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM decisions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[controller.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out[controller.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

// TotalCost sums the cost of every record, whatever its outcome. Spend on a
// call whose answer arrived too late still counts.
func (j *Journal) TotalCost(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx, `SELECT SUM(cost_usd) FROM decisions`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return total.Float64, nil
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event_type, prompt_id, outcome, source, model, cost_usd, latency_ms, error, created_at
		FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var outcome string
		var latencyMS, created int64
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.PromptID, &outcome, &rec.Source,
			&rec.Model, &rec.Cost, &latencyMS, &rec.Error, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.Outcome = controller.Outcome(outcome)
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Clear deletes every record.
func (j *Journal) Clear(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM decisions`); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// Close closes the database. Observe becomes a no-op afterwards.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	return j.db.Close()
}
