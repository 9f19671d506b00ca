// Package sinks implements the dual JSONL/SQLite signal persistence
// layer and their equivalence/parity machinery, per spec.md §4.5. Each
// sink type follows the teacher's internal/artifacts.AtomicWriter
// write-to-tmp-then-rename convention, generalized to a long-lived
// rotating writer instead of one-shot report dumps.
package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/paths"
)

// JsonlSink appends Signal rows as newline-terminated JSON, rotating onto
// a fresh partition file on a UTC hour boundary or when rotate.max_rows
// / rotate.max_sec is exceeded (spec.md §4.5).
type JsonlSink struct {
	layout paths.Layout
	kind   domain.PartitionKind
	symbol string

	maxRows     int
	maxSec      int
	fsyncEveryN int

	log zerolog.Logger

	f            *os.File
	tmpPath      string
	finalPath    string
	hourStart    time.Time
	partSeq      int
	rowsInFile   int
	writesSinceFsync int
}

// NewJsonlSink builds a JsonlSink for one (symbol, kind) stream.
func NewJsonlSink(layout paths.Layout, kind domain.PartitionKind, symbol string, maxRows, maxSec, fsyncEveryN int, log zerolog.Logger) *JsonlSink {
	return &JsonlSink{
		layout:      layout,
		kind:        kind,
		symbol:      symbol,
		maxRows:     maxRows,
		maxSec:      maxSec,
		fsyncEveryN: fsyncEveryN,
		log:         log.With().Str("sink", "jsonl").Str("symbol", symbol).Logger(),
	}
}

// Write appends one signal, rotating beforehand if needed.
func (s *JsonlSink) Write(sig domain.Signal) error {
	tsMs := sig.TsMs
	hour := time.UnixMilli(tsMs).UTC().Truncate(time.Hour)

	if s.f == nil || !hour.Equal(s.hourStart) || s.rowsInFile >= s.maxRows ||
		(s.maxSec > 0 && time.Since(s.hourStart) >= time.Duration(s.maxSec)*time.Second) {
		if err := s.rotate(hour); err != nil {
			return err
		}
	}

	line, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("jsonl sink: marshal signal %s: %w", sig.SignalID, err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("jsonl sink: write signal %s: %w", sig.SignalID, err)
	}
	s.rowsInFile++
	s.writesSinceFsync++

	if s.fsyncEveryN > 0 && s.writesSinceFsync >= s.fsyncEveryN {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("jsonl sink: fsync: %w", err)
		}
		s.writesSinceFsync = 0
	}
	return nil
}

// rotate closes (atomically renaming) the current file and opens a new
// .tmp file for hour, bumping the within-hour part sequence so successive
// rotations inside the same hour never share a final name.
func (s *JsonlSink) rotate(hour time.Time) error {
	if err := s.closeCurrent(); err != nil {
		return err
	}

	dir := s.layout.ReadyDir(s.kind, s.symbol, hour)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonl sink: mkdir %s: %w", dir, err)
	}

	if hour.Equal(s.hourStart) {
		s.partSeq++
	} else {
		s.partSeq = nextPartSeq(dir, s.kind, hour)
	}

	finalName := paths.ReadyFileName(s.kind, hour, s.partSeq, false)
	tmpName := paths.ReadyFileName(s.kind, hour, s.partSeq, true)

	s.finalPath = filepath.Join(dir, finalName)
	s.tmpPath = filepath.Join(dir, tmpName)

	f, err := os.OpenFile(s.tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl sink: open %s: %w", s.tmpPath, err)
	}
	s.f = f
	s.hourStart = hour
	s.rowsInFile = 0
	s.writesSinceFsync = 0
	return nil
}

// nextPartSeq scans dir for existing final partitions of kind/hour and
// returns one past the highest sequence found, so a sink resuming after a
// restart never reuses (and overwrites) a partition a prior process wrote.
func nextPartSeq(dir string, kind domain.PartitionKind, hour time.Time) int {
	prefix := fmt.Sprintf("%s-%s.", kind, hour.Format("20060102T15"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	next := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || strings.Contains(name, ".part") {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		rest = strings.TrimSuffix(rest, ".jsonl")
		seq, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if seq+1 > next {
			next = seq + 1
		}
	}
	return next
}

// closeCurrent flushes, fsyncs, closes, and atomically renames the
// in-progress file, if any. Never leaves a half-written final file: the
// rename only happens after a clean close.
func (s *JsonlSink) closeCurrent() error {
	if s.f == nil {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("jsonl sink: final fsync %s: %w", s.tmpPath, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("jsonl sink: close %s: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		return fmt.Errorf("jsonl sink: rename %s -> %s: %w", s.tmpPath, s.finalPath, err)
	}
	s.log.Debug().Str("file", s.finalPath).Int("rows", s.rowsInFile).Msg("rotated jsonl partition")
	s.f = nil
	return nil
}

// Close drains and renames the final in-progress file.
func (s *JsonlSink) Close() error {
	return s.closeCurrent()
}
