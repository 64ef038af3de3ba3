package logparse

import (
	"bufio"
	"io"
	"strings"
)

const (
	// Marker opens every subevent block in the firmware log.
	Marker = "I: CS Subevent result received:"
	// EndMarker is logged after the last step data line of a block.
	EndMarker = "CS Subevent end"

	maxLineBytes = 1 << 20
)

// Framer is the line-at-a-time core of Splitter, for callers that already
// receive input as lines. Text before the first marker is ignored. A block ends
// at the next marker, at the end marker line, or when Flush is called.
type Framer struct {
	cur     strings.Builder
	inBlock bool
}

// Push adds one line, without its terminator. It returns a block when the
// line completes one.
func (f *Framer) Push(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if idx := strings.Index(line, Marker); idx >= 0 {
		block, ok := f.Flush()
		f.inBlock = true
		f.cur.WriteString(line[idx:])
		f.cur.WriteByte('\n')
		return block, ok
	}
	if !f.inBlock {
		return "", false
	}
	if strings.Contains(line, EndMarker) {
		return f.Flush()
	}
	f.cur.WriteString(line)
	f.cur.WriteByte('\n')
	return "", false
}

// Flush returns the block in progress, if any, and resets the framer.
func (f *Framer) Flush() (string, bool) {
	if !f.inBlock {
		return "", false
	}
	f.inBlock = false
	out := f.cur.String()
	f.cur.Reset()
	return out, true
}

// Splitter frames a line-oriented firmware log read from an io.Reader into
// subevent blocks using a Framer. Line endings are normalised so CRLF console
// output parses the same as a saved log.
type Splitter struct {
	scan   *bufio.Scanner
	framer Framer
}

// NewSplitter returns a Splitter reading lines from r.
func NewSplitter(r io.Reader) *Splitter {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Splitter{scan: scan}
}

// Next returns the next block's text. It returns io.EOF once the input is
// exhausted and every block has been returned, or the underlying read error.
// Next blocks while waiting for input, so a block is only returned once its
// terminating line has been read.
func (s *Splitter) Next() (string, error) {
	for s.scan.Scan() {
		if block, ok := s.framer.Push(s.scan.Text()); ok {
			return block, nil
		}
	}
	if err := s.scan.Err(); err != nil {
		return "", err
	}
	if block, ok := s.framer.Flush(); ok {
		return block, nil
	}
	return "", io.EOF
}

// SplitBlocks frames a complete log held in memory.
func SplitBlocks(text string) []string {
	s := NewSplitter(strings.NewReader(text))
	var blocks []string
	for {
		b, err := s.Next()
		if err != nil {
			return blocks
		}
		blocks = append(blocks, b)
	}
}
