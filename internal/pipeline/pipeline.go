// Package pipeline pairs initiator and reflector subevent results by procedure
// counter. Two producers pull from their sources into bounded queues; a single
// consumer matches counters, runs the ranging engine on each pair and hands the
// pair to a PairHandler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/banshee-data/cs-ranging/internal/source"
	"github.com/banshee-data/cs-ranging/internal/timeutil"
	"github.com/google/uuid"
)

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// DefaultQueueCapacity is the per-side queue size used when Options leaves it
// unset.
const DefaultQueueCapacity = 100

// Side identifies one of the two radios.
type Side int

const (
	Initiator Side = iota
	Reflector
)

func (s Side) String() string {
	switch s {
	case Initiator:
		return "initiator"
	case Reflector:
		return "reflector"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide returns the side named name.
func ParseSide(name string) (Side, error) {
	switch name {
	case "initiator":
		return Initiator, nil
	case "reflector":
		return Reflector, nil
	}
	return 0, fmt.Errorf("unknown side %q", name)
}

func (s Side) other() Side { return 1 - s }

// Options configures a Pipeline.
type Options struct {
	// QueueCapacity bounds each side's queue. Zero uses DefaultQueueCapacity.
	QueueCapacity int
	// MaxPending bounds each side's unmatched buffer. When exceeded the
	// oldest entry is evicted as an overflow. Zero means unbounded.
	MaxPending int
	// RunID labels the run. A nil UUID gets a fresh random one.
	RunID   uuid.UUID
	Ranging ranging.Config
	Handler PairHandler
	Clock   timeutil.Clock
}

// Pipeline runs one correlation pass over two sources.
type Pipeline struct {
	opts    Options
	started atomic.Bool
}

// New returns a pipeline with opts, filling in defaults.
func New(opts Options) *Pipeline {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.MaxPending < 0 {
		opts.MaxPending = 0
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	return &Pipeline{opts: opts}
}

// item is one queue entry. A nil result is a placeholder.
type item struct {
	result *cs.SubeventResults
}

type pending struct {
	result     *cs.SubeventResults
	seq        uint64
	receivedAt time.Time
}

// Run pairs the two sources until both are exhausted or ctx is cancelled, and
// returns the run report. Both sources are closed before Run returns. The
// error joins any source read failures; cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context, initiator, reflector source.Source) (*Report, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	report := &Report{
		RunID:     p.opts.RunID,
		StartedAt: p.opts.Clock.Now(),
	}
	monitoring.Logf("pipeline: run %s started (queue=%d max_pending=%d)", report.RunID, p.opts.QueueCapacity, p.opts.MaxPending)

	queues := [2]chan item{
		make(chan item, p.opts.QueueCapacity),
		make(chan item, p.opts.QueueCapacity),
	}
	var srcErrs [2]error
	var wg sync.WaitGroup
	for side, src := range [2]source.Source{initiator, reflector} {
		wg.Add(1)
		go func(side Side, src source.Source) {
			defer wg.Done()
			srcErrs[side] = produce(ctx, side, src, queues[side])
		}(Side(side), src)
	}

	p.consume(ctx, queues, report)
	wg.Wait()

	report.FinishedAt = p.opts.Clock.Now()
	for side, err := range srcErrs {
		report.Sides[side].Err = err
	}
	monitoring.Logf("pipeline: run %s finished: %s", report.RunID, report)
	return report, errors.Join(srcErrs[0], srcErrs[1])
}

// produce pulls from src until it ends, fails or ctx is cancelled, then closes
// out and src. A push blocks while the queue is full.
func produce(ctx context.Context, side Side, src source.Source, out chan<- item) error {
	defer close(out)
	defer func() {
		if cerr := src.Close(); cerr != nil {
			monitoring.Logf("pipeline: closing %s source: %v", side, cerr)
		}
	}()

	for ctx.Err() == nil {
		res, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			monitoring.Logf("pipeline: %s source failed: %v", side, err)
			return fmt.Errorf("%s source: %w", side, err)
		}
		out <- item{result: res}
	}
	return nil
}

// consume alternates between the two queues until both are closed.
func (p *Pipeline) consume(ctx context.Context, queues [2]chan item, report *Report) {
	buffers := [2]map[uint32]pending{{}, {}}
	var closed [2]bool
	var seq uint64

	handlerCtx := context.WithoutCancel(ctx)

	for !closed[Initiator] || !closed[Reflector] {
		for _, side := range []Side{Initiator, Reflector} {
			if closed[side] {
				continue
			}
			it, ok := <-queues[side]
			monitoring.QueueDepth.WithLabelValues(side.String()).Set(float64(len(queues[side])))
			if !ok {
				closed[side] = true
				continue
			}

			stats := &report.Sides[side]
			if it.result == nil {
				stats.Placeholders++
				monitoring.PipelineItems.WithLabelValues(side.String(), "placeholder").Inc()
				continue
			}
			stats.Results++
			monitoring.PipelineItems.WithLabelValues(side.String(), "result").Inc()

			seq++
			counter := it.result.ProcedureCounter
			own, opposite := buffers[side], buffers[side.other()]

			if old, dup := own[counter]; dup {
				report.evict(side, counter, old, ReasonSuperseded)
				delete(own, counter)
			}

			if match, found := opposite[counter]; found {
				delete(opposite, counter)
				pair := Pair{RunID: report.RunID, Counter: counter, PairedAt: p.opts.Clock.Now()}
				if side == Initiator {
					pair.Initiator, pair.Reflector = it.result, match.result
				} else {
					pair.Initiator, pair.Reflector = match.result, it.result
				}
				p.emit(handlerCtx, &pair)
				report.Pairs++
			} else {
				own[counter] = pending{result: it.result, seq: seq, receivedAt: p.opts.Clock.Now()}
				if p.opts.MaxPending > 0 && len(own) > p.opts.MaxPending {
					oldestCounter := oldest(own)
					report.evict(side, oldestCounter, own[oldestCounter], ReasonOverflow)
					delete(own, oldestCounter)
				}
			}

			monitoring.Pending.WithLabelValues(Initiator.String()).Set(float64(len(buffers[Initiator])))
			monitoring.Pending.WithLabelValues(Reflector.String()).Set(float64(len(buffers[Reflector])))
		}
	}

	for _, side := range []Side{Initiator, Reflector} {
		for counter, entry := range buffers[side] {
			report.evict(side, counter, entry, ReasonEndOfRun)
		}
	}
	sort.Slice(report.Unmatched, func(i, j int) bool {
		a, b := report.Unmatched[i], report.Unmatched[j]
		if a.Counter != b.Counter {
			return a.Counter < b.Counter
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return a.Seq < b.Seq
	})
	monitoring.Pending.WithLabelValues(Initiator.String()).Set(0)
	monitoring.Pending.WithLabelValues(Reflector.String()).Set(0)
}

func oldest(buf map[uint32]pending) uint32 {
	var counter uint32
	var minSeq uint64
	first := true
	for c, e := range buf {
		if first || e.seq < minSeq {
			counter, minSeq, first = c, e.seq, false
		}
	}
	return counter
}

// emit runs the ranging engine on pair and passes it to the handler. A
// handler error is logged and the run continues.
func (p *Pipeline) emit(ctx context.Context, pair *Pair) {
	pair.Result = ranging.Compute(pair.Initiator, pair.Reflector, p.opts.Ranging)
	monitoring.PairsEmitted.Inc()
	if p.opts.Handler == nil {
		return
	}
	if err := p.opts.Handler(ctx, *pair); err != nil {
		monitoring.HandlerErrors.WithLabelValues("pipeline").Inc()
		monitoring.Logf("pipeline: handler failed for counter %d: %v", pair.Counter, err)
	}
}
