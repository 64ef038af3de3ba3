package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/google/uuid"
)

// Reason says why a result left the pairing buffer without a partner.
type Reason string

const (
	// ReasonEndOfRun: still waiting when both sources ended.
	ReasonEndOfRun Reason = "end_of_run"
	// ReasonSuperseded: a newer result with the same counter arrived on the
	// same side, e.g. after the counter wrapped.
	ReasonSuperseded Reason = "superseded"
	// ReasonOverflow: evicted as the oldest entry when MaxPending was exceeded.
	ReasonOverflow Reason = "overflow"
)

// Unmatched describes one result that was never paired.
type Unmatched struct {
	Side    Side   `json:"side"`
	Counter uint32 `json:"counter"`
	Reason  Reason `json:"reason"`
	// Seq is the arrival order across both sides.
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
}

// SideStats counts what one side delivered.
type SideStats struct {
	Results      int   `json:"results"`
	Placeholders int   `json:"placeholders"`
	Err          error `json:"-"`
}

// Report summarises one pipeline run.
type Report struct {
	RunID      uuid.UUID    `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Sides      [2]SideStats `json:"sides"`
	Pairs      int          `json:"pairs"`
	// Unmatched is sorted by counter, then side, then arrival.
	Unmatched []Unmatched `json:"unmatched"`
}

func (r *Report) evict(side Side, counter uint32, entry pending, reason Reason) {
	r.Unmatched = append(r.Unmatched, Unmatched{
		Side:       side,
		Counter:    counter,
		Reason:     reason,
		Seq:        entry.seq,
		ReceivedAt: entry.receivedAt,
	})
	monitoring.Unmatched.WithLabelValues(side.String(), string(reason)).Inc()
	if reason != ReasonEndOfRun {
		monitoring.Logf("pipeline: %s counter %d evicted (%s)", side, counter, reason)
	}
}

// UnmatchedCounters returns the counters left unmatched on side, in report
// order.
func (r *Report) UnmatchedCounters(side Side) []uint32 {
	var out []uint32
	for _, u := range r.Unmatched {
		if u.Side == side {
			out = append(out, u.Counter)
		}
	}
	return out
}

// String renders a one-line summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pairs=%d", r.Pairs)
	for _, side := range []Side{Initiator, Reflector} {
		s := r.Sides[side]
		fmt.Fprintf(&b, " %s(results=%d placeholders=%d unmatched=%d)", side, s.Results, s.Placeholders, len(r.UnmatchedCounters(side)))
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, " elapsed=%s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}
