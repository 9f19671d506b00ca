// Package feeder implements the backtest ReplayFeeder: it drives decoded
// rows from the reader package through CoreAlgorithm (feature-replay mode,
// spec.md's backtest mode feeding on persisted AlignedFeatureRow
// partitions) or passes already-confirmed Signal rows straight through
// (signals-replay mode), counting processed/malformed rows and
// emitted/confirmed signals the way the teacher's smoke90 Runner.Run
// counts processed/skipped windows.
package feeder

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/reader"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/core"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// Stats tallies one Feed call's outcome, folded into the run manifest's
// feeder_stats field.
type Stats struct {
	RowsProcessed  int
	RowsMalformed  int
	SignalsEmitted int
	SignalsConfirmed int
}

// ReplayFeeder drives rows through CoreAlgorithm deterministically: nowMs
// always comes from the row's own ts_ms, never wall time, matching
// CoreAlgorithm.Process's replay-mode contract.
type ReplayFeeder struct {
	algo *core.CoreAlgorithm
}

// NewReplayFeeder builds a feeder bound to algo for feature-replay mode.
func NewReplayFeeder(algo *core.CoreAlgorithm) *ReplayFeeder {
	return &ReplayFeeder{algo: algo}
}

// FeedFeatures decodes each row's Raw JSON as an AlignedFeatureRow and
// drives it through CoreAlgorithm.Process, returning the emitted signals
// in ts_ms order. A malformed row is counted and dropped, never fatal,
// per spec.md §7's input-malformation handling.
func (f *ReplayFeeder) FeedFeatures(rows []reader.Row) ([]domain.Signal, Stats, error) {
	var signals []domain.Signal
	var stats Stats

	for _, r := range rows {
		var row domain.AlignedFeatureRow
		if err := json.Unmarshal(r.Raw, &row); err != nil {
			stats.RowsMalformed++
			continue
		}
		stats.RowsProcessed++

		sig := f.algo.Process(row, row.TsMs)
		signals = append(signals, sig)
		stats.SignalsEmitted++
		if sig.Confirm {
			stats.SignalsConfirmed++
		}
	}
	return signals, stats, nil
}

// FeedSignals decodes each row's Raw JSON directly as a Signal, skipping
// CoreAlgorithm entirely (signals-src replay mode): the gating decision
// was already made by the run that produced the signals partition.
func FeedSignals(rows []reader.Row) ([]domain.Signal, Stats, error) {
	var signals []domain.Signal
	var stats Stats

	for _, r := range rows {
		var sig domain.Signal
		if err := json.Unmarshal(r.Raw, &sig); err != nil {
			stats.RowsMalformed++
			continue
		}
		stats.RowsProcessed++
		if err := sig.ValidateInvariants(); err != nil {
			return nil, stats, fmt.Errorf("feeder: signal invariant violated: %w", err)
		}
		signals = append(signals, sig)
		stats.SignalsEmitted++
		if sig.Confirm {
			stats.SignalsConfirmed++
		}
	}
	return signals, stats, nil
}
