package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("db: run not found")

// Run is one row of the runs table.
type Run struct {
	RunID      uuid.UUID  `json:"run_id"`
	Initiator  string     `json:"initiator"`
	Reflector  string     `json:"reflector"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Pairs      int        `json:"pairs"`
	Summary    string     `json:"summary,omitempty"`
}

// StartRun records a run before any pairs arrive. initiator and reflector
// describe the sources, e.g. a file path or a serial device.
func (db *DB) StartRun(ctx context.Context, runID uuid.UUID, initiator, reflector string, startedAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, initiator, reflector, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID.String(), initiator, reflector, startedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the report totals and its unmatched list.
func (db *DB) FinishRun(ctx context.Context, report *pipeline.Report) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET finished_unix_nanos = ?, pairs = ?, summary = ? WHERE run_id = ?`,
		report.FinishedAt.UnixNano(), report.Pairs, report.String(), report.RunID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", report.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, report.RunID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO unmatched (run_id, side, procedure_counter, reason, seq, received_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range report.Unmatched {
		if _, err := stmt.ExecContext(ctx,
			report.RunID.String(), u.Side.String(), u.Counter, string(u.Reason), u.Seq, u.ReceivedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to record unmatched counter %d: %w", u.Counter, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, initiator, reflector, started_unix_nanos, finished_unix_nanos, pairs, summary
		FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, initiator, reflector, started_unix_nanos, finished_unix_nanos, pairs, summary
		FROM runs WHERE run_id = ?`, runID.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		id       string
		started  int64
		finished sql.NullInt64
		summary  sql.NullString
		run      Run
	)
	if err := s.Scan(&id, &run.Initiator, &run.Reflector, &started, &finished, &run.Pairs, &summary); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad run_id %q: %w", id, err)
	}
	run.RunID = parsed
	run.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	run.Summary = summary.String
	return &run, nil
}

// Unmatched returns the unmatched list stored for a run, ordered the same way
// as the report.
func (db *DB) Unmatched(ctx context.Context, runID uuid.UUID) ([]pipeline.Unmatched, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT side, procedure_counter, reason, seq, received_unix_nanos
		FROM unmatched WHERE run_id = ?
		ORDER BY procedure_counter, CASE side WHEN 'initiator' THEN 0 ELSE 1 END, seq`,
		runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Unmatched
	for rows.Next() {
		var (
			side, reason string
			u            pipeline.Unmatched
			received     int64
		)
		if err := rows.Scan(&side, &u.Counter, &reason, &u.Seq, &received); err != nil {
			return nil, err
		}
		if u.Side, err = pipeline.ParseSide(side); err != nil {
			return nil, err
		}
		u.Reason = pipeline.Reason(reason)
		u.ReceivedAt = time.Unix(0, received).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}
