package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/serialmux"
	"github.com/banshee-data/cs-ranging/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = &logparse.Assembler{Sink: cs.DiscardSink}

// threeBlockLog holds counters 1 and 3 around a block without step data.
func threeBlockLog() string {
	steps := testutil.UnitSteps([]int{2, 3, 4})
	return testutil.Log(
		testutil.Block{Counter: 1, NumSteps: 3, Steps: steps},
		testutil.Block{Counter: 2, NumSteps: 3, Steps: steps, OmitStepData: true},
		testutil.Block{Counter: 3, NumSteps: 3, Steps: steps},
	)
}

// drain reads until an error and returns the counters seen, with -1 for a
// placeholder.
func drain(t *testing.T, s Source) ([]int, error) {
	t.Helper()
	var counters []int
	for {
		res, err := s.Next(context.Background())
		if err != nil {
			return counters, err
		}
		if res == nil {
			counters = append(counters, -1)
			continue
		}
		counters = append(counters, int(res.ProcedureCounter))
	}
}

func TestReaderSource(t *testing.T) {
	s := NewReaderSource(strings.NewReader(threeBlockLog()), quiet)

	counters, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int{1, -1, 3}, counters, "one item per block, placeholder included")

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReaderSource_Cancelled(t *testing.T) {
	s := NewReaderSource(strings.NewReader(threeBlockLog()), quiet)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestReaderSource_ClosesReader(t *testing.T) {
	r := &closeTracker{Reader: strings.NewReader("")}
	s := NewReaderSource(r, nil)

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, s.Close())
	assert.True(t, r.closed)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("usb unplugged") }

func TestReaderSource_ReadError(t *testing.T) {
	s := NewReaderSource(brokenReader{}, quiet)
	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "usb unplugged")
}

func TestOpenFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("logs/initiator.txt", []byte(threeBlockLog()), 0o644))

	s, err := OpenFile(fsys, "logs/initiator.txt", quiet)
	require.NoError(t, err)
	defer s.Close()

	counters, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int{1, -1, 3}, counters)

	_, err = OpenFile(fsys, "logs/missing.txt", quiet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs/missing.txt")
}

func TestSliceSource(t *testing.T) {
	s := FromSlice(&cs.SubeventResults{ProcedureCounter: 5}, nil)

	counters, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int{5, -1}, counters)

	assert.False(t, s.Closed())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRawLogPath(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "log/reflector_20250314_092653.txt", RawLogPath("log", "reflector", at))
}

func TestUARTSource(t *testing.T) {
	input := threeBlockLog()
	port := serialmux.NewFakePort()
	port.AddReadData([]byte(strings.ReplaceAll(input, "\n", "\r\n")))

	fsys := fsutil.NewMemoryFileSystem()
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	rawLog, path, err := CreateRawLog(fsys, "log", "initiator", at)
	require.NoError(t, err)
	assert.Equal(t, "log/initiator_20250314_092653.txt", path)

	var opened serialmux.PortOptions
	s, err := OpenUART(context.Background(), "/dev/ttyACM0", UARTOptions{
		Port:      serialmux.PortOptions{BaudRate: 115200},
		Opener:    port.Opener(&opened),
		RawLog:    rawLog,
		Assembler: quiet,
	})
	require.NoError(t, err)
	assert.Equal(t, 115200, opened.BaudRate)

	counters, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int{1, -1, 3}, counters)

	require.NoError(t, s.Close())
	assert.True(t, port.IsClosed())

	raw, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll(input, "\n", "\r\n"), string(raw))

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUARTSource_PartialBlockAtEOF(t *testing.T) {
	block := testutil.Block{Counter: 8, NumSteps: 2, Steps: testutil.UnitSteps([]int{5, 6})}.Render()
	block = strings.TrimSuffix(block, "I: CS Subevent end\n")

	port := serialmux.NewFakePort()
	port.AddReadData([]byte(block))

	s, err := OpenUART(context.Background(), "/dev/ttyACM1", UARTOptions{Opener: port.Opener(nil), Assembler: quiet})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, uint32(8), res.ProcedureCounter)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUARTSource_CloseUnblocksNext(t *testing.T) {
	port := serialmux.NewFakePort()
	port.BlockReads = true

	s, err := OpenUART(context.Background(), "/dev/ttyACM0", UARTOptions{Opener: port.Opener(nil), Assembler: quiet})
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestUARTSource_ContextCancel(t *testing.T) {
	port := serialmux.NewFakePort()
	port.BlockReads = true

	s, err := OpenUART(context.Background(), "/dev/ttyACM0", UARTOptions{Opener: port.Opener(nil), Assembler: quiet})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUARTSource_OpenError(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	rawLog, _, err := CreateRawLog(fsys, "log", "reflector", time.Unix(0, 0))
	require.NoError(t, err)

	_, err = OpenUART(context.Background(), "/dev/none", UARTOptions{
		Opener: func(string, serialmux.PortOptions) (serialmux.SerialPorter, error) {
			return nil, errors.New("no such device")
		},
		RawLog: rawLog,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
}

func TestUARTSource_InvalidPortOptions(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	rawLog, _, err := CreateRawLog(fsys, "log", "initiator", time.Unix(0, 0))
	require.NoError(t, err)

	opened := false
	_, err = OpenUART(context.Background(), "/dev/ttyACM0", UARTOptions{
		Port: serialmux.PortOptions{BaudRate: 12345},
		Opener: func(string, serialmux.PortOptions) (serialmux.SerialPorter, error) {
			opened = true
			return serialmux.NewFakePort(), nil
		},
		RawLog: rawLog,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid baud rate 12345")
	assert.False(t, opened, "port opened with invalid options")

	_, err = rawLog.Write([]byte("x"))
	assert.ErrorIs(t, err, fs.ErrClosed, "raw log left open")
}

func TestUARTSource_OpenerGetsNormalisedOptions(t *testing.T) {
	port := serialmux.NewFakePort()
	var opened serialmux.PortOptions
	s, err := OpenUART(context.Background(), "/dev/ttyACM0", UARTOptions{
		Port:      serialmux.PortOptions{Parity: "even"},
		Opener:    port.Opener(&opened),
		Assembler: quiet,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}, opened)
}
