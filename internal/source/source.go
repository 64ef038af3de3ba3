// Package source acquires subevent results for one radio. A Source yields one
// item per acquisition attempt: a decoded result, or a nil placeholder when the
// attempt produced nothing usable.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source: closed")

// Source is a blocking pull stream of subevent results. Next returns io.EOF
// when no more data will arrive. A nil result with a nil error is a
// placeholder for a failed acquisition attempt.
type Source interface {
	Next(ctx context.Context) (*cs.SubeventResults, error)
	Close() error
}

var (
	_ Source = (*ReaderSource)(nil)
	_ Source = (*UARTSource)(nil)
	_ Source = (*SliceSource)(nil)
)

// ReaderSource frames and assembles blocks read from an io.Reader.
type ReaderSource struct {
	splitter  *logparse.Splitter
	assembler *logparse.Assembler
	closer    io.Closer
	closed    bool
}

// NewReaderSource reads a firmware log from r. If r is also an io.Closer it
// is closed by Close. A nil assembler uses the default one.
func NewReaderSource(r io.Reader, a *logparse.Assembler) *ReaderSource {
	if a == nil {
		a = &logparse.Assembler{}
	}
	s := &ReaderSource{splitter: logparse.NewSplitter(r), assembler: a}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next returns the next block's result. A cancelled ctx is reported before
// any further read.
func (s *ReaderSource) Next(ctx context.Context) (*cs.SubeventResults, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	block, err := s.splitter.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read log: %w", err)
	}
	return s.assembler.Assemble(block), nil
}

// Close releases the underlying reader. It is safe to call more than once.
func (s *ReaderSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
