// Package serialmux reads newline-delimited text from a serial port. Every line
// goes to a single primary reader without loss, and any number of debug
// subscribers receive a best-effort copy.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"tailscale.com/tsweb"
)

// maxLineBytes bounds a single UART line. Hex step dumps are wrapped by the
// firmware logger so real lines stay far below this.
const maxLineBytes = 1 << 20

// subscriberBuffer is the per-subscriber backlog before lines are dropped.
const subscriberBuffer = 64

// SerialMux multiplexes the lines read from a single serial port.
type SerialMux[T SerialPorter] struct {
	port  T
	lines chan string

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	rawMu sync.Mutex
	raw   io.Writer

	// scanDone is closed when the goroutine reading the port has exited.
	scanning atomic.Bool
	scanDone chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewSerialMux creates a SerialMux reading from port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		lines:       make(chan string),
		subscribers: make(map[string]chan string),
		scanDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Lines returns the primary line channel. Monitor blocks until each line is
// received and closes the channel when it returns.
func (s *SerialMux[T]) Lines() <-chan string {
	return s.lines
}

// SetRawLog copies every byte read from the port to w before line splitting.
// It must be called before Monitor. Write failures are logged once and the
// copy is abandoned; they never interrupt reading.
func (s *SerialMux[T]) SetRawLog(w io.Writer) {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	s.raw = w
}

// Subscribe registers a lossy copy of the line stream. A subscriber that falls
// behind by more than a small backlog misses lines.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) isClosing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *SerialMux[T]) reader() io.Reader {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	if s.raw == nil {
		return s.port
	}
	return io.TeeReader(s.port, &rawLogWriter{w: s.raw})
}

// Monitor reads lines from the port until it reaches EOF, fails, is closed or
// ctx is cancelled. It must be called at most once.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	defer close(s.lines)

	scan := bufio.NewScanner(s.reader())
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs on its own goroutine so the loop below can
	// still observe cancellation. Close waits for it, so nothing reaches the
	// raw log once Close has returned.
	s.scanning.Store(true)
	go func() {
		defer close(s.scanDone)
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return fmt.Errorf("read serial port: %w", err)
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// subscriber is behind; drop rather than stall the UART
				}
			}
			s.subscriberMu.Unlock()

			select {
			case s.lines <- line:
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close closes all subscribed channels and closes the serial port, which also
// unblocks a pending read in Monitor. It returns once the port reader has
// stopped.
func (s *SerialMux[T]) Close() error {
	s.closeOnce.Do(func() {
		s.subscriberMu.Lock()
		close(s.done)
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subscriberMu.Unlock()
		s.closeErr = s.port.Close()
		if s.scanning.Load() {
			<-s.scanDone
		}
	})
	return s.closeErr
}

// AttachAdminRoutes registers /debug/<name>-tail, a Server-Sent Events feed of
// the raw UART lines.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, name string) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc(name+"-tail", fmt.Sprintf("live %s UART lines (SSE)", name), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

// rawLogWriter forwards to w until the first error.
type rawLogWriter struct {
	w      io.Writer
	failed bool
}

func (r *rawLogWriter) Write(p []byte) (int, error) {
	if r.failed {
		return len(p), nil
	}
	if _, err := r.w.Write(p); err != nil {
		r.failed = true
		monitoring.Logf("serialmux: raw log disabled after write error: %v", err)
	}
	return len(p), nil
}
