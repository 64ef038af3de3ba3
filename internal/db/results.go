package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/google/uuid"
)

// RangingRow is the summary stored for one pair.
type RangingRow struct {
	RunID               uuid.UUID `json:"run_id"`
	Counter             uint32    `json:"procedure_counter"`
	PairedAt            time.Time `json:"paired_at"`
	Channels            int       `json:"channels"`
	PeakDelaySeconds    *float64  `json:"peak_delay_s,omitempty"`
	MusicDistanceM      *float64  `json:"music_distance_m,omitempty"`
	PhaseSlopeDistanceM *float64  `json:"phase_slope_distance_m,omitempty"`
}

// RecordPair stores both subevents of p and its ranging result in one
// transaction. It has the pipeline.PairHandler signature.
func (db *DB) RecordPair(ctx context.Context, p pipeline.Pair) error {
	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("failed to encode ranging result: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for side, sub := range map[pipeline.Side]*cs.SubeventResults{
		pipeline.Initiator: p.Initiator,
		pipeline.Reflector: p.Reflector,
	} {
		if err := insertSubevent(ctx, tx, p.RunID, side, sub); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ranging_results (
			run_id, procedure_counter, paired_unix_nanos, channels,
			peak_delay_s, music_distance_m, phase_slope_distance_m, result_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID.String(), p.Counter, p.PairedAt.UnixNano(), len(p.Result.Channels),
		p.Result.PeakDelaySeconds, p.Result.MusicDistanceM, p.Result.PhaseSlopeDistanceM, string(result),
	)
	if err != nil {
		return fmt.Errorf("failed to record ranging result for counter %d: %w", p.Counter, err)
	}
	return tx.Commit()
}

func insertSubevent(ctx context.Context, tx *sql.Tx, runID uuid.UUID, side pipeline.Side, sub *cs.SubeventResults) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode %s subevent: %w", side, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subevents (
			run_id, side, procedure_counter, num_steps_reported, reference_power, freq_offset, subevent_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID.String(), side.String(), sub.ProcedureCounter, sub.NumStepsReported,
		sub.ReferencePowerLevel, sub.MeasuredFreqOffset, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s subevent %d: %w", side, sub.ProcedureCounter, err)
	}
	return nil
}

// RangingResults returns the stored results of a run in pairing order.
func (db *DB) RangingResults(ctx context.Context, runID uuid.UUID) ([]RangingRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT procedure_counter, paired_unix_nanos, channels, peak_delay_s, music_distance_m, phase_slope_distance_m
		FROM ranging_results WHERE run_id = ? ORDER BY id`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RangingRow
	for rows.Next() {
		var (
			r                  = RangingRow{RunID: runID}
			paired             int64
			delay, music, slop sql.NullFloat64
		)
		if err := rows.Scan(&r.Counter, &paired, &r.Channels, &delay, &music, &slop); err != nil {
			return nil, err
		}
		r.PairedAt = time.Unix(0, paired).UTC()
		r.PeakDelaySeconds = nullFloat(delay)
		r.MusicDistanceM = nullFloat(music)
		r.PhaseSlopeDistanceM = nullFloat(slop)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RangingResult returns the full stored result for counter in a run. When the
// counter was paired more than once the latest is returned.
func (db *DB) RangingResult(ctx context.Context, runID uuid.UUID, counter uint32) (*ranging.Result, error) {
	var data string
	err := db.QueryRowContext(ctx,
		`SELECT result_json FROM ranging_results
		WHERE run_id = ? AND procedure_counter = ? ORDER BY id DESC LIMIT 1`,
		runID.String(), counter,
	).Scan(&data)
	if err != nil {
		return nil, err
	}
	var res ranging.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to decode ranging result: %w", err)
	}
	return &res, nil
}

// SubeventCount returns how many subevents a run stored for side.
func (db *DB) SubeventCount(ctx context.Context, runID uuid.UUID, side pipeline.Side) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subevents WHERE run_id = ? AND side = ?`,
		runID.String(), side.String(),
	).Scan(&n)
	return n, err
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Handler returns a named pair handler that stores every pair.
func (db *DB) Handler() pipeline.NamedHandler {
	return pipeline.NamedHandler{Name: "sqlite", Handle: db.RecordPair}
}
