// Package ledger records runs, ranked candidates and training evaluations in
// a SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrUnknownRun is returned when a run id is not in the ledger.
var ErrUnknownRun = errors.New("unknown run")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	incomplete INTEGER NOT NULL DEFAULT 0,
	note TEXT
);
CREATE TABLE IF NOT EXISTS candidates(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	ec TEXT NOT NULL,
	rank INTEGER NOT NULL,
	candidate_index INTEGER NOT NULL,
	batch INTEGER NOT NULL,
	sequence TEXT NOT NULL,
	combined REAL NOT NULL,
	perplexity REAL NOT NULL,
	mean_log_prob REAL NOT NULL,
	predictor_score REAL,
	stop_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS candidates_run ON candidates(run_id, ec, rank);
CREATE TABLE IF NOT EXISTS evaluations(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	perplexity REAL NOT NULL,
	improved INTEGER NOT NULL,
	saved INTEGER NOT NULL,
	handle TEXT
);
`

// Run is one generate or finetune invocation.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Incomplete bool
	Note       string
}

// Candidate is one ranked output row.
type Candidate struct {
	EC             string
	Rank           int
	Index          int
	Batch          int
	Sequence       string
	Combined       float64
	Perplexity     float64
	MeanLogProb    float64
	PredictorScore *float64
	StopReason     string
}

// Evaluation is one held-out measurement during fine-tuning.
type Evaluation struct {
	Step       int64
	Epoch      int
	Perplexity float64
	Improved   bool
	Saved      bool
	Handle     string
}

// Ledger is a handle to the database. It is safe for concurrent use.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and applies the schema.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger schema %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// BeginRun inserts r. An existing run with the same id is left as is.
func (l *Ledger) BeginRun(ctx context.Context, r Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs(id, kind, started_at, note) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Kind, formatTime(r.StartedAt), r.Note)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stamps the run as finished.
func (l *Ledger) FinishRun(ctx context.Context, id string, incomplete bool) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, incomplete = ? WHERE id = ?`,
		formatTime(time.Now()), incomplete, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// AddCandidates inserts rows for runID in one transaction.
func (l *Ledger) AddCandidates(ctx context.Context, runID string, rows []Candidate) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candidates(
		run_id, ec, rank, candidate_index, batch, sequence,
		combined, perplexity, mean_log_prob, predictor_score, stop_reason)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range rows {
		var pred sql.NullFloat64
		if c.PredictorScore != nil {
			pred = sql.NullFloat64{Float64: *c.PredictorScore, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, runID, c.EC, c.Rank, c.Index, c.Batch, c.Sequence,
			c.Combined, c.Perplexity, c.MeanLogProb, pred, c.StopReason); err != nil {
			return fmt.Errorf("insert candidate %s/%d: %w", c.EC, c.Rank, err)
		}
	}
	return tx.Commit()
}

// AddEvaluation records one held-out evaluation.
func (l *Ledger) AddEvaluation(ctx context.Context, runID string, e Evaluation) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO evaluations(run_id, step, epoch, perplexity, improved, saved, handle)
		 VALUES(?,?,?,?,?,?,?)`,
		runID, e.Step, e.Epoch, e.Perplexity, e.Improved, e.Saved, e.Handle)
	if err != nil {
		return fmt.Errorf("insert evaluation %s/%d: %w", runID, e.Step, err)
	}
	return nil
}

// Run returns one run.
func (l *Ledger) Run(ctx context.Context, id string) (Run, error) {
	var (
		r              Run
		started        string
		finished, note sql.NullString
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT id, kind, started_at, finished_at, incomplete, note FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Kind, &started, &finished, &r.Incomplete, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return Run{}, err
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	r.Note = note.String
	return r, nil
}

// Candidates returns the rows of runID ordered by EC code and rank.
func (l *Ledger) Candidates(ctx context.Context, runID string) ([]Candidate, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT ec, rank, candidate_index, batch, sequence,
		combined, perplexity, mean_log_prob, predictor_score, stop_reason
		FROM candidates WHERE run_id = ? ORDER BY ec, rank`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var pred sql.NullFloat64
		if err := rows.Scan(&c.EC, &c.Rank, &c.Index, &c.Batch, &c.Sequence,
			&c.Combined, &c.Perplexity, &c.MeanLogProb, &pred, &c.StopReason); err != nil {
			return nil, err
		}
		if pred.Valid {
			v := pred.Float64
			c.PredictorScore = &v
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Evaluations returns the evaluations of runID in step order.
func (l *Ledger) Evaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT step, epoch, perplexity, improved, saved, handle
		FROM evaluations WHERE run_id = ? ORDER BY step, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var e Evaluation
		var handle sql.NullString
		if err := rows.Scan(&e.Step, &e.Epoch, &e.Perplexity, &e.Improved, &e.Saved, &handle); err != nil {
			return nil, err
		}
		e.Handle = handle.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
