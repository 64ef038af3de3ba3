package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/serialmux"
)

// UARTOptions configures OpenUART.
type UARTOptions struct {
	Port serialmux.PortOptions
	// Opener defaults to serialmux.OpenPort.
	Opener serialmux.SerialPortOpener
	// RawLog, when set, receives every byte read from the port and is closed
	// with the source.
	RawLog io.WriteCloser
	// Assembler defaults to a zero logparse.Assembler.
	Assembler *logparse.Assembler
}

// UARTSource assembles blocks from a live serial console.
type UARTSource struct {
	path      string
	mux       *serialmux.SerialMux[serialmux.SerialPorter]
	assembler *logparse.Assembler
	framer    logparse.Framer
	rawLog    io.Closer

	monitorDone chan struct{}
	monitorErr  error

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
	eof       bool
}

// OpenUART opens the serial port at path and starts reading lines from it.
// Reading stops when ctx is cancelled or the source is closed.
func OpenUART(ctx context.Context, path string, opts UARTOptions) (*UARTSource, error) {
	opener := opts.Opener
	if opener == nil {
		opener = serialmux.OpenPort
	}
	assembler := opts.Assembler
	if assembler == nil {
		assembler = &logparse.Assembler{}
	}

	closeRaw := func() {
		if opts.RawLog != nil {
			opts.RawLog.Close()
		}
	}
	portOpts, err := opts.Port.Normalise()
	if err != nil {
		closeRaw()
		return nil, err
	}
	port, err := opener(path, portOpts)
	if err != nil {
		closeRaw()
		return nil, err
	}

	mux := serialmux.NewSerialMux(port)
	if opts.RawLog != nil {
		mux.SetRawLog(opts.RawLog)
	}

	s := &UARTSource{
		path:        path,
		mux:         mux,
		assembler:   assembler,
		rawLog:      opts.RawLog,
		monitorDone: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go func() {
		defer close(s.monitorDone)
		s.monitorErr = mux.Monitor(ctx)
	}()

	monitoring.Logf("source: reading %s at %s", path, portOpts)
	return s, nil
}

// Mux exposes the line multiplexer, e.g. for the debug tail route.
func (s *UARTSource) Mux() *serialmux.SerialMux[serialmux.SerialPorter] {
	return s.mux
}

// Next blocks until a complete block has been read. When the port stops
// producing lines any partial block is assembled before io.EOF.
func (s *UARTSource) Next(ctx context.Context) (*cs.SubeventResults, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	if s.eof {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrClosed
		case line, ok := <-s.mux.Lines():
			if !ok {
				return s.finish()
			}
			if block, done := s.framer.Push(line); done {
				return s.assembler.Assemble(block), nil
			}
		}
	}
}

func (s *UARTSource) finish() (*cs.SubeventResults, error) {
	if block, ok := s.framer.Flush(); ok {
		return s.assembler.Assemble(block), nil
	}
	s.eof = true
	<-s.monitorDone
	if err := s.monitorErr; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("uart %s: %w", s.path, err)
	}
	return nil, io.EOF
}

// Close closes the port and the raw log, and waits for the reader to stop.
func (s *UARTSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.mux.Close()
		<-s.monitorDone
		if s.rawLog != nil {
			if err := s.rawLog.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
