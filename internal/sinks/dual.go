package sinks

import (
	"github.com/rs/zerolog"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// Sink is the common write surface JsonlSink and SQLiteSink both satisfy.
type Sink interface {
	Write(domain.Signal) error
	Close() error
}

// MultiSink fans a signal out to every configured sink. Per spec.md
// §4.5: success means written to at least one; any sink that rejects the
// row is logged rather than aborting the whole write.
type MultiSink struct {
	sinks []Sink
	log   zerolog.Logger

	writeCounts []int64
	errorCounts []int64
}

// NewMultiSink builds a MultiSink fanning out to sinks, in order.
func NewMultiSink(log zerolog.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{
		sinks:       sinks,
		log:         log.With().Str("sink", "dual").Logger(),
		writeCounts: make([]int64, len(sinks)),
		errorCounts: make([]int64, len(sinks)),
	}
}

// Write writes sig to every sink, returning nil iff at least one
// succeeded.
func (m *MultiSink) Write(sig domain.Signal) error {
	var lastErr error
	succeeded := 0
	for i, sink := range m.sinks {
		if err := sink.Write(sig); err != nil {
			m.errorCounts[i]++
			m.log.Error().Err(err).Int("sink_index", i).Str("signal_id", sig.SignalID).Msg("sink rejected row")
			lastErr = err
			continue
		}
		m.writeCounts[i]++
		succeeded++
	}
	if succeeded == 0 {
		return lastErr
	}
	return nil
}

// Close closes every sink, returning the first error encountered (after
// attempting to close all of them).
func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Counts returns per-sink successful write counts, used by tests and the
// equivalence check in spec.md §4.5.
func (m *MultiSink) Counts() []int64 {
	out := make([]int64, len(m.writeCounts))
	copy(out, m.writeCounts)
	return out
}
