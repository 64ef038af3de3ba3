package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/google/uuid"
)

// Pair is one initiator/reflector match and its ranging outputs. The
// subevents are owned by the receiver; the pipeline keeps no reference.
type Pair struct {
	RunID     uuid.UUID
	Counter   uint32
	Initiator *cs.SubeventResults
	Reflector *cs.SubeventResults
	Result    ranging.Result
	PairedAt  time.Time
}

// PairHandler receives every pair in the order it was matched.
type PairHandler func(ctx context.Context, p Pair) error

// NamedHandler labels a PairHandler for logs and metrics.
type NamedHandler struct {
	Name   string
	Handle PairHandler
}

// Handlers fans each pair out to every handler in order. A failing handler is
// logged and counted; the others still run and the combined handler never
// fails.
func Handlers(handlers ...NamedHandler) PairHandler {
	return func(ctx context.Context, p Pair) error {
		for _, h := range handlers {
			if err := h.Handle(ctx, p); err != nil {
				monitoring.HandlerErrors.WithLabelValues(h.Name).Inc()
				monitoring.Logf("pipeline: %s handler failed for counter %d: %v", h.Name, p.Counter, err)
			}
		}
		return nil
	}
}
