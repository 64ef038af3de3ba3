package source

import (
	"context"
	"io"

	"github.com/banshee-data/cs-ranging/internal/cs"
)

// SliceSource replays results held in memory, placeholders included.
type SliceSource struct {
	items  []*cs.SubeventResults
	pos    int
	closed bool
}

// FromSlice returns a source yielding items in order and then io.EOF.
func FromSlice(items ...*cs.SubeventResults) *SliceSource {
	return &SliceSource{items: items}
}

func (s *SliceSource) Next(ctx context.Context) (*cs.SubeventResults, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool { return s.closed }
