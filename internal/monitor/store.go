package monitor

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/ranging"
	"github.com/banshee-data/cs-ranging/internal/units"
	"github.com/google/uuid"
)

// DefaultStoreLimit is the number of counters kept when NewStore is given 0.
const DefaultStoreLimit = 1000

const subscriberBuffer = 32

// SubeventInfo is the per-radio header shown next to the charts.
type SubeventInfo struct {
	Description string     `json:"description"`
	Summary     cs.Summary `json:"summary"`
}

// Entry is one paired procedure counter kept for the viewer.
type Entry struct {
	RunID     uuid.UUID      `json:"run_id"`
	Counter   uint32         `json:"procedure_counter"`
	PairedAt  time.Time      `json:"paired_at"`
	Initiator SubeventInfo   `json:"initiator"`
	Reflector SubeventInfo   `json:"reflector"`
	Result    ranging.Result `json:"result"`
}

// NewEntry copies what the viewer shows out of p.
func NewEntry(p pipeline.Pair) *Entry {
	e := &Entry{
		RunID:    p.RunID,
		Counter:  p.Counter,
		PairedAt: p.PairedAt,
		Result:   p.Result,
	}
	if p.Initiator != nil {
		e.Initiator = SubeventInfo{Description: p.Initiator.String(), Summary: p.Initiator.Summarize()}
	}
	if p.Reflector != nil {
		e.Reflector = SubeventInfo{Description: p.Reflector.String(), Summary: p.Reflector.Summarize()}
	}
	return e
}

// Summary is the list view of an Entry with distances in the display unit.
type Summary struct {
	Counter            uint32    `json:"procedure_counter"`
	PairedAt           time.Time `json:"paired_at"`
	Channels           int       `json:"channels"`
	Unit               string    `json:"unit"`
	MusicDistance      *float64  `json:"music_distance,omitempty"`
	PhaseSlopeDistance *float64  `json:"phase_slope_distance,omitempty"`
}

// Store keeps the most recent entry for each counter, evicting the counter
// that was updated longest ago once limit is reached. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	limit   int
	unit    string
	entries map[uint32]*Entry
	// order lists counters from least to most recently updated.
	order []uint32

	subscriberMu sync.Mutex
	subscribers  map[string]chan Summary
}

// NewStore returns an empty store. unit selects the distance unit used in
// summaries; an invalid unit falls back to metres.
func NewStore(limit int, unit string) *Store {
	if limit <= 0 {
		limit = DefaultStoreLimit
	}
	if !units.IsValid(unit) {
		unit = units.M
	}
	return &Store{
		limit:       limit,
		unit:        unit,
		entries:     make(map[uint32]*Entry),
		subscribers: make(map[string]chan Summary),
	}
}

// Unit returns the display unit.
func (s *Store) Unit() string { return s.unit }

// Add records p, replacing any earlier entry for the same counter, and
// notifies subscribers.
func (s *Store) Add(p pipeline.Pair) {
	e := NewEntry(p)

	s.mu.Lock()
	if _, ok := s.entries[p.Counter]; ok {
		s.order = slices.DeleteFunc(s.order, func(c uint32) bool { return c == p.Counter })
	}
	s.entries[p.Counter] = e
	s.order = append(s.order, p.Counter)
	for len(s.order) > s.limit {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	s.broadcast(s.summarize(e))
}

// Handler returns a named pair handler that feeds the store.
func (s *Store) Handler() pipeline.NamedHandler {
	return pipeline.NamedHandler{Name: "viewer", Handle: func(_ context.Context, p pipeline.Pair) error {
		s.Add(p)
		return nil
	}}
}

// Get returns the entry for counter.
func (s *Store) Get(counter uint32) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[counter]
	return e, ok
}

// Counters returns the stored counters in ascending order.
func (s *Store) Counters() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.order)
	slices.Sort(out)
	return out
}

// Summaries returns a summary per stored counter in ascending counter order.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.summarize(e))
	}
	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.Counter, b.Counter) })
	return out
}

// Len returns the number of stored counters.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) summarize(e *Entry) Summary {
	return Summary{
		Counter:            e.Counter,
		PairedAt:           e.PairedAt,
		Channels:           len(e.Result.Channels),
		Unit:               s.unit,
		MusicDistance:      s.convert(e.Result.MusicDistanceM),
		PhaseSlopeDistance: s.convert(e.Result.PhaseSlopeDistanceM),
	}
}

func (s *Store) convert(meters *float64) *float64 {
	if meters == nil {
		return nil
	}
	v := units.ConvertDistance(*meters, s.unit)
	return &v
}

// Subscribe registers for a summary of every added entry. Slow subscribers
// miss updates rather than blocking Add.
func (s *Store) Subscribe() (string, <-chan Summary) {
	id := uuid.NewString()
	ch := make(chan Summary, subscriberBuffer)
	s.subscriberMu.Lock()
	s.subscribers[id] = ch
	s.subscriberMu.Unlock()
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Store) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Store) broadcast(sum Summary) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- sum:
		default:
		}
	}
}
