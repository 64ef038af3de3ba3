package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by FakePort reads and writes after Close.
var ErrPortClosed = errors.New("serial port closed")

// FakePort is an in-memory SerialPorter for tests. Data queued with
// AddReadData is returned by Read; once drained Read reports io.EOF unless
// BlockReads is set, in which case it waits for more data or Close.
type FakePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending bytes.Buffer
	written bytes.Buffer
	closed  bool

	// ReadError, if set, is returned once by the next Read.
	ReadError error
	// BlockReads makes Read wait on an empty buffer instead of returning EOF.
	BlockReads bool
}

// NewFakePort returns an open port with nothing to read.
func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReadError; err != nil && !p.closed {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.closed && p.pending.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.pending.Read(b)
}

// Write records b; see Written.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.written.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues data for Read and wakes a blocked reader.
func (p *FakePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Write(data)
	p.cond.Broadcast()
}

func (p *FakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Written returns a copy of everything written to the port.
func (p *FakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// Opener returns a SerialPortOpener that hands back p and, if got is not
// nil, stores the options it was called with.
func (p *FakePort) Opener(got *PortOptions) SerialPortOpener {
	return func(_ string, opts PortOptions) (SerialPorter, error) {
		if got != nil {
			*got = opts
		}
		return p, nil
	}
}
