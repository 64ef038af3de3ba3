package logparse

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/banshee-data/cs-ranging/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBlocksIgnoresPreamble(t *testing.T) {
	text := testutil.Log(
		testutil.Block{Counter: 1, NumSteps: 1, Steps: testutil.StepRecord(0, 1, 0, 0, 0)},
		testutil.Block{Counter: 2},
	)
	blocks := SplitBlocks(text)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.True(t, strings.HasPrefix(b, Marker), "block %q", b)
		assert.NotContains(t, b, EndMarker)
		assert.NotContains(t, b, "Booting")
	}
	assert.Contains(t, blocks[0], "Procedure counter: 1")
	assert.Contains(t, blocks[1], "Procedure counter: 2")

	// One assembly attempt per block: the second has no step data.
	assert.NotNil(t, Assemble(blocks[0]))
	assert.Nil(t, Assemble(blocks[1]))
}

func TestSplitterMarkerClosesPreviousBlock(t *testing.T) {
	text := "noise\n" + Marker + "\nI:  - Procedure counter: 1\n" +
		Marker + "\nI:  - Procedure counter: 2\n"
	s := NewSplitter(strings.NewReader(text))

	b, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Marker+"\nI:  - Procedure counter: 1\n", b)

	b, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Marker+"\nI:  - Procedure counter: 2\n", b)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSplitterNormalisesCRLF(t *testing.T) {
	text := strings.ReplaceAll(testutil.SubeventBlock75Steps, "\n", "\r\n")
	blocks := SplitBlocks(text)
	require.Len(t, blocks, 1)
	assert.NotContains(t, blocks[0], "\r")
	res := Assemble(blocks[0])
	require.NotNil(t, res)
	assert.Len(t, res.Steps, 75)
}

func TestSplitterMarkerWithLogPrefix(t *testing.T) {
	text := "[00:00:04.512,000] " + Marker + "\nI:  - Procedure counter: 9\nI: CS Subevent end\n"
	blocks := SplitBlocks(text)
	require.Len(t, blocks, 1)
	assert.True(t, strings.HasPrefix(blocks[0], Marker))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestSplitterPropagatesReadError(t *testing.T) {
	s := NewSplitter(failingReader{})
	_, err := s.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "device gone")
}

func TestSplitterStreamsIncrementally(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewSplitter(pr)

	got := make(chan string, 1)
	go func() {
		b, err := s.Next()
		if err == nil {
			got <- b
		}
		close(got)
	}()

	block := testutil.Block{Counter: 4, NumSteps: 1, Steps: testutil.StepRecord(0, 1, 0, 0, 0)}.Render()
	_, err := io.WriteString(pw, block)
	require.NoError(t, err)

	b, ok := <-got
	require.True(t, ok, "block returned once its end marker arrived")
	res := Assemble(b)
	require.NotNil(t, res)
	assert.Equal(t, uint32(4), res.ProcedureCounter)
	pw.Close()
}

func TestFramer(t *testing.T) {
	var f Framer

	_, ok := f.Push("*** Booting ***")
	assert.False(t, ok, "preamble is ignored")
	_, ok = f.Push(Marker + "\r")
	assert.False(t, ok)
	_, ok = f.Push("I:  - Procedure counter: 1")
	assert.False(t, ok)

	block, ok := f.Push(Marker)
	require.True(t, ok, "a new marker closes the open block")
	assert.Equal(t, Marker+"\nI:  - Procedure counter: 1\n", block)

	f.Push("I:  - Procedure counter: 2")
	block, ok = f.Push("I: CS Subevent end")
	require.True(t, ok)
	assert.Equal(t, Marker+"\nI:  - Procedure counter: 2\n", block)

	_, ok = f.Flush()
	assert.False(t, ok, "nothing left after the end marker")

	f.Push(Marker)
	f.Push("I:  - Procedure counter: 3")
	block, ok = f.Flush()
	require.True(t, ok)
	assert.Contains(t, block, "counter: 3")
}
