package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// Deadletter appends signals that a sink failed to persist to
// failed_batches.jsonl, for offline replay (spec.md §4.5).
type Deadletter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewDeadletter opens (creating if necessary) the deadletter file at dir/failed_batches.jsonl.
func NewDeadletter(dir string) (*Deadletter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deadletter: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "failed_batches.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open %s: %w", path, err)
	}
	return &Deadletter{path: path, f: f}, nil
}

// Write appends one failed signal as a JSON line.
func (d *Deadletter) Write(sig domain.Signal) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("deadletter: marshal %s: %w", sig.SignalID, err)
	}
	line = append(line, '\n')
	if _, err := d.f.Write(line); err != nil {
		return fmt.Errorf("deadletter: write %s: %w", sig.SignalID, err)
	}
	return d.f.Sync()
}

// Close closes the underlying file handle.
func (d *Deadletter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// Replay reads every JSON line from the deadletter file and feeds it to
// writeFn (typically SQLiteSink.Write), returning the count successfully
// replayed. Callers are responsible for truncating/rotating the
// deadletter file afterward if the replay fully succeeds.
//
// limiter paces the replay against writeFn; a large backlog replayed
// straight into a SQLite sink that just tripped its breaker would hammer
// it right back into tripping again. Pass nil to replay as fast as
// writeFn allows.
func Replay(path string, limiter *rate.Limiter, writeFn func(domain.Signal) error) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("deadletter replay: read %s: %w", path, err)
	}
	lines := splitLines(data)
	replayed := 0
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var sig domain.Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			return replayed, fmt.Errorf("deadletter replay: unmarshal line %d: %w", replayed+1, err)
		}
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return replayed, fmt.Errorf("deadletter replay: rate limiter: %w", err)
			}
		}
		if err := writeFn(sig); err != nil {
			return replayed, fmt.Errorf("deadletter replay: write %s: %w", sig.SignalID, err)
		}
		replayed++
	}
	return replayed, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
