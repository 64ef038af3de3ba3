package source

import (
	"fmt"

	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
)

// OpenFile opens a saved firmware log on fsys.
func OpenFile(fsys fsutil.FileSystem, path string, a *logparse.Assembler) (*ReaderSource, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	monitoring.Logf("source: reading %s", path)
	return NewReaderSource(f, a), nil
}
