package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ligustah/sceneslurp/internal/downloader"
	"github.com/ligustah/sceneslurp/internal/order"

	_ "modernc.org/sqlite"
)

// TaskEntry is the last recorded outcome for one product and format.
type TaskEntry struct {
	EntityID   string
	Format     string
	Path       string
	Success    bool
	State      downloader.State
	Message    string
	Attempts   int
	FinishedAt time.Time
}

// Ledger records task outcomes and orders.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Workers record concurrently; a single connection serialises writes.
	db.SetMaxOpenConns(1)

	l, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an open database and creates the schema if needed.
func New(ctx context.Context, db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		entity_id TEXT NOT NULL,
		format TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		state TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		finished_at TEXT NOT NULL,
		PRIMARY KEY (entity_id, format)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		inputs JSON NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

func (l *Ledger) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordTask stores a task outcome, replacing any earlier outcome for the
// same product and format.
func (l *Ledger) RecordTask(ctx context.Context, s downloader.TaskStatus) error {
	query := `INSERT INTO tasks (entity_id, format, path, success, state, message, attempts, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (entity_id, format) DO UPDATE SET
		path = excluded.path,
		success = excluded.success,
		state = excluded.state,
		message = excluded.message,
		attempts = excluded.attempts,
		finished_at = excluded.finished_at`

	state := s.State
	if state == "" {
		state = downloader.StateFailed
		if s.Success {
			state = downloader.StateSucceeded
		}
	}

	_, err := l.db.ExecContext(ctx, query,
		s.EntityID, s.Format, s.Path, s.Success, string(state), s.Message, s.Attempts,
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record task %s: %w", s.EntityID, err)
	}
	return nil
}

// Tasks returns every recorded task, oldest first.
func (l *Ledger) Tasks(ctx context.Context) ([]TaskEntry, error) {
	return l.queryTasks(ctx, `SELECT entity_id, format, path, success, state, message, attempts, finished_at
		FROM tasks ORDER BY finished_at, entity_id, format`)
}

// FailedTasks returns the tasks whose last outcome was a failure.
func (l *Ledger) FailedTasks(ctx context.Context) ([]TaskEntry, error) {
	return l.queryTasks(ctx, `SELECT entity_id, format, path, success, state, message, attempts, finished_at
		FROM tasks WHERE success = 0 ORDER BY finished_at, entity_id, format`)
}

func (l *Ledger) queryTasks(ctx context.Context, query string) ([]TaskEntry, error) {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TaskEntry
	for rows.Next() {
		var (
			e        TaskEntry
			state    string
			finished string
		)
		if err := rows.Scan(&e.EntityID, &e.Format, &e.Path, &e.Success, &state, &e.Message, &e.Attempts, &finished); err != nil {
			return nil, err
		}
		e.State = downloader.State(state)
		e.FinishedAt = parseTime(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordOrder stores an order, replacing its earlier status.
func (l *Ledger) RecordOrder(ctx context.Context, o order.Order) error {
	query := `INSERT INTO orders (order_id, status, inputs, note, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (order_id) DO UPDATE SET
		status = excluded.status,
		inputs = CASE WHEN excluded.inputs = '[]' THEN orders.inputs ELSE excluded.inputs END,
		note = CASE WHEN excluded.note = '' THEN orders.note ELSE excluded.note END,
		updated_at = excluded.updated_at`

	inputs := o.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	created := o.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = l.db.ExecContext(ctx, query,
		o.ID, string(o.Status), string(inputsJSON), o.Note,
		created.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record order %s: %w", o.ID, err)
	}
	return nil
}

// Orders returns every recorded order, oldest first.
func (l *Ledger) Orders(ctx context.Context) ([]order.Order, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT order_id, status, inputs, note, created_at
		FROM orders ORDER BY created_at, order_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []order.Order
	for rows.Next() {
		var (
			o       order.Order
			status  string
			inputs  string
			created string
		)
		if err := rows.Scan(&o.ID, &status, &inputs, &o.Note, &created); err != nil {
			return nil, err
		}
		o.Status = order.Status(status)
		if err := json.Unmarshal([]byte(inputs), &o.Inputs); err != nil {
			return nil, fmt.Errorf("order %s inputs: %w", o.ID, err)
		}
		o.CreatedAt = parseTime(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
