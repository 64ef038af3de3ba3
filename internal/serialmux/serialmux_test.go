package serialmux

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func newPort(data string) *FakePort {
	port := NewFakePort()
	port.AddReadData([]byte(data))
	return port
}

func collect(ch <-chan string) []string {
	var out []string
	for line := range ch {
		out = append(out, line)
	}
	return out
}

func subscriberCount[T SerialPorter](s *SerialMux[T]) int {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return len(s.subscribers)
}

func TestMonitor_DeliversLinesInOrder(t *testing.T) {
	mux := NewSerialMux(newPort("first\r\nsecond\nthird\n"))

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	got := collect(mux.Lines())
	want := []string{"first", "second", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if err := <-done; err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
}

func TestMonitor_PrimaryReaderIsLossless(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 500; i++ {
		input.WriteString("I: line\n")
	}
	mux := NewSerialMux(newPort(input.String()))

	// A subscriber that never reads must not cost the primary reader a line.
	_, _ = mux.Subscribe()

	go mux.Monitor(context.Background())

	count := 0
	for range mux.Lines() {
		count++
		if count%100 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if count != 500 {
		t.Errorf("received %d lines, want 500", count)
	}
}

func TestMonitor_RawLog(t *testing.T) {
	const input = "I: CS Subevent result received:\n  0a0b\n"
	mux := NewSerialMux(newPort(input))
	var raw bytes.Buffer
	mux.SetRawLog(&raw)

	go mux.Monitor(context.Background())
	collect(mux.Lines())

	if raw.String() != input {
		t.Errorf("raw log = %q, want %q", raw.String(), input)
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestMonitor_RawLogFailureKeepsReading(t *testing.T) {
	mux := NewSerialMux(newPort("a\nb\n"))
	w := &failingWriter{}
	mux.SetRawLog(w)

	go mux.Monitor(context.Background())
	got := collect(mux.Lines())

	if len(got) != 2 {
		t.Errorf("lines = %q, want 2 lines", got)
	}
	if w.calls != 1 {
		t.Errorf("raw writer called %d times, want 1", w.calls)
	}
}

func TestMonitor_ReadError(t *testing.T) {
	port := NewFakePort()
	port.ReadError = errors.New("framing error")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || !strings.Contains(err.Error(), "framing error") {
		t.Fatalf("Monitor() error = %v, want framing error", err)
	}
	if _, ok := <-mux.Lines(); ok {
		t.Error("Lines() should be closed after Monitor returns")
	}
}

func TestMonitor_ContextCancel(t *testing.T) {
	port := NewFakePort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	mux.Close()
}

func TestClose_UnblocksMonitor(t *testing.T) {
	port := NewFakePort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	_, sub := mux.Subscribe()
	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() error = %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	if _, ok := <-sub; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.IsClosed() {
		t.Error("port should be closed")
	}
	// second close is a no-op
	if err := mux.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, ok := <-func() chan string { _, c := mux.Subscribe(); return c }(); ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

// lateReadPort blocks in Read until Close, then delivers one more line after
// a delay, like a driver flushing its buffer on close.
type lateReadPort struct {
	reading   chan struct{}
	closed    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	flushed   bool
}

func newLateReadPort() *lateReadPort {
	return &lateReadPort{reading: make(chan struct{}), closed: make(chan struct{})}
}

func (p *lateReadPort) Read(b []byte) (int, error) {
	p.startOnce.Do(func() { close(p.reading) })
	<-p.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushed {
		return 0, ErrPortClosed
	}
	p.flushed = true
	time.Sleep(20 * time.Millisecond)
	return copy(b, "late\n"), nil
}

func (p *lateReadPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *lateReadPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func TestClose_WaitsForPendingRead(t *testing.T) {
	for _, cancelFirst := range []bool{false, true} {
		port := newLateReadPort()
		mux := NewSerialMux(port)
		raw := &lockedBuffer{}
		mux.SetRawLog(raw)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- mux.Monitor(ctx) }()
		<-port.reading

		if cancelFirst {
			cancel()
			<-done
		}
		if err := mux.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if got := raw.String(); got != "late\n" {
			t.Errorf("cancelFirst=%v: raw log after Close = %q, want the read to have finished", cancelFirst, got)
		}
		if !cancelFirst {
			<-done
		}
		cancel()
	}
}

func TestSubscribe_ReceivesCopies(t *testing.T) {
	mux := NewSerialMux(newPort("one\ntwo\n"))
	id, sub := mux.Subscribe()

	go mux.Monitor(context.Background())
	collect(mux.Lines())

	mux.Unsubscribe(id)
	got := collect(sub)
	if strings.Join(got, "|") != "one|two" {
		t.Errorf("subscriber lines = %q", got)
	}
	if subscriberCount(mux) != 0 {
		t.Error("Unsubscribe should remove the subscriber")
	}
	// unknown ids are ignored
	mux.Unsubscribe("missing")
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	mux := NewSerialMux(newPort("I: hello\nI: world\n"))
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, "initiator")

	t.Run("POST method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		httpMux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/initiator-tail"))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Code)
		}
	})

	t.Run("streams lines", func(t *testing.T) {
		w := httptest.NewRecorder()
		served := make(chan struct{})
		go func() {
			defer close(served)
			httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/initiator-tail"))
		}()

		deadline := time.Now().Add(2 * time.Second)
		for subscriberCount(mux) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("tail handler never subscribed")
			}
			time.Sleep(5 * time.Millisecond)
		}

		go mux.Monitor(context.Background())
		collect(mux.Lines())
		mux.Close()
		<-served

		if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Expected Content-Type 'text/event-stream', got %q", ct)
		}
		body := w.Body.String()
		for _, want := range []string{": ping", "data: I: hello\n\n", "data: I: world\n\n"} {
			if !strings.Contains(body, want) {
				t.Errorf("body %q missing %q", body, want)
			}
		}
	})
}
