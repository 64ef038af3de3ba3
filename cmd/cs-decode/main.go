// Command cs-decode assembles every subevent block of a Channel Sounding
// firmware log and prints one JSON line per block. A block that fails to
// assemble prints null so line numbers match block numbers.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/spf13/pflag"
)

func main() {
	err := run(os.Args[1:], fsutil.OSFileSystem{}, os.Stdin, os.Stdout, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cs-decode: %v\n", err)
		os.Exit(1)
	}
}

// stats counts what decode saw.
type stats struct {
	Blocks    int
	Assembled int
	Failed    int
	Steps     int
}

func (s stats) String() string {
	return fmt.Sprintf("blocks=%d assembled=%d failed=%d steps=%d", s.Blocks, s.Assembled, s.Failed, s.Steps)
}

// summaryLine is the --summary output for one assembled block.
type summaryLine struct {
	Counter uint32     `json:"procedure_counter"`
	Summary cs.Summary `json:"summary"`
}

func run(args []string, fsys fsutil.FileSystem, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("cs-decode", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	quiet := fs.BoolP("quiet", "q", false, "Do not print decode diagnostics")
	summary := fs.Bool("summary", false, "Print per-block step counts instead of full subevents")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: cs-decode [flags] LOGFILE\n\nLOGFILE may be - for standard input.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one log file")
	}

	in := stdin
	if path := fs.Arg(0); path != "-" {
		f, err := fsys.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	st, err := decode(in, stdout, stderr, *quiet, *summary)
	fmt.Fprintln(stderr, st)
	return err
}

// decode writes one JSON line per block of r to w. Diagnostics go to diag,
// prefixed with the 1-based block number.
func decode(r io.Reader, w, diag io.Writer, quiet, summary bool) (stats, error) {
	var st stats
	asm := &logparse.Assembler{Sink: cs.DiscardSink}
	if !quiet {
		asm.Sink = func(e cs.Event) {
			fmt.Fprintf(diag, "block %d: %s\n", st.Blocks, e)
		}
	}

	enc := json.NewEncoder(w)
	splitter := logparse.NewSplitter(r)
	for {
		block, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("read log: %w", err)
		}

		st.Blocks++
		res := asm.Assemble(block)
		var out any = res
		if res == nil {
			st.Failed++
		} else {
			st.Assembled++
			st.Steps += len(res.Steps)
			if summary {
				out = summaryLine{Counter: res.ProcedureCounter, Summary: res.Summarize()}
			}
		}
		if err := enc.Encode(out); err != nil {
			return st, fmt.Errorf("write: %w", err)
		}
	}
}
