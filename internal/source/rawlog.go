package source

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/banshee-data/cs-ranging/internal/fsutil"
)

// rawLogLayout is the timestamp format used in raw UART log names.
const rawLogLayout = "20060102_150405"

// RawLogPath returns dir/<side>_<YYYYmmdd_HHMMSS>.txt.
func RawLogPath(dir, side string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.txt", side, at.Format(rawLogLayout)))
}

// CreateRawLog creates the raw UART capture file for side, making dir first.
func CreateRawLog(fsys fsutil.FileSystem, dir, side string, at time.Time) (io.WriteCloser, string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create raw log dir: %w", err)
	}
	path := RawLogPath(dir, side, at)
	w, err := fsys.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create raw log: %w", err)
	}
	return w, path, nil
}
