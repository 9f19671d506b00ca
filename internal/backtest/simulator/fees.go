package simulator

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// FeeResult is one fill's fee outcome, including the maker/taker draw used
// for determinism checks and metrics breakdowns.
type FeeResult struct {
	FeeBps          float64
	MakerProbability float64
	IsMakerActual   bool
}

// ComputeFee dispatches on cfg.Backtest.FeeModel, per spec.md §4.7.
func ComputeFee(cfg config.Config, runID string, tsMs int64, symbol string, side domain.PositionSide, notional, spreadBps float64, scenario domain.Scenario2x2) FeeResult {
	switch cfg.Backtest.FeeModel {
	case config.FeeTiered:
		return FeeResult{FeeBps: tieredFeeBps(cfg, notional)}
	case config.FeeMakerTaker:
		return makerTakerFee(cfg, runID, tsMs, symbol, side, spreadBps, scenario)
	default: // taker_static
		return FeeResult{FeeBps: cfg.Backtest.TakerFeeBps}
	}
}

// tieredFeeBps applies a simple notional-banded taker schedule: larger
// clips pay a smaller taker fee, grounded on the config's taker_fee_bps as
// the top-band rate and stepping down to 75% of it from 10,000 notional
// and 50% from 100,000; maker_fee_bps plays no part. The original_source config schema names the "tiered" enum value
// without publishing the band edges, so the bands below are a deliberate,
// documented choice (see DESIGN.md) rather than a literal port.
func tieredFeeBps(cfg config.Config, notional float64) float64 {
	base := cfg.Backtest.TakerFeeBps
	switch {
	case notional >= 100000:
		return base * 0.5
	case notional >= 10000:
		return base * 0.75
	default:
		return base
	}
}

// normalizeScenario maps a raw scenario_2x2 string onto the configured
// root buckets: "A_H_unknown" -> "A_H", empty -> "unknown", any other
// unrecognized root -> "default". Ported from original_source's
// TradeSimulator._normalize_scenario.
func normalizeScenario(raw string) string {
	if raw == "" {
		return "unknown"
	}
	for _, root := range []string{"A_H", "A_L", "Q_H", "Q_L"} {
		if raw == root || strings.HasPrefix(raw, root+"_") {
			return root
		}
	}
	return "default"
}

// makerTakerFee implements spec.md §4.7's maker_prob formula and expected
// fee bps, plus the deterministic per-draw Bernoulli is_maker_actual.
func makerTakerFee(cfg config.Config, runID string, tsMs int64, symbol string, side domain.PositionSide, spreadBps float64, scenario domain.Scenario2x2) FeeResult {
	mt := cfg.MakerTaker
	root := normalizeScenario(string(scenario))
	base, ok := mt.ScenarioProbs[root]
	if !ok {
		base = mt.ScenarioProbs["default"]
	}

	narrow, wide := mt.SpreadThresholdNarrow, mt.SpreadThresholdWide
	relSpread := 0.0
	if wide > narrow {
		relSpread = (spreadBps - narrow) / (wide - narrow)
	}
	relSpread = clamp(relSpread, 0, 1)

	sideKey := "buy"
	if side == domain.PositionShort {
		sideKey = "sell"
	}
	bias, ok := mt.SideBias[sideKey]
	if !ok {
		bias = 1.0
	}

	makerProb := clamp(base*(1-mt.SpreadSlope*relSpread)*bias, 0, 1)
	makerFeeBps := cfg.Backtest.MakerFeeBps
	if makerFeeBps == 0 && mt.MakerFeeRatio > 0 {
		makerFeeBps = cfg.Backtest.TakerFeeBps * mt.MakerFeeRatio
	}
	expectedFeeBps := makerProb*makerFeeBps + (1-makerProb)*cfg.Backtest.TakerFeeBps

	isMaker := seededBernoulli(runID, tsMs, symbol, sideKey, makerProb)

	return FeeResult{FeeBps: expectedFeeBps, MakerProbability: makerProb, IsMakerActual: isMaker}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// seededBernoulli draws a deterministic pseudo-random boolean keyed on
// (run_id, ts_ms, symbol, side), per spec.md §9's "per-draw seeded PRNG"
// redesign note: a fresh *rand.Rand is seeded from a hash of the key for
// every draw, so identical inputs always produce the identical draw
// regardless of call order or how many draws preceded it — no shared
// global RNG state to make results call-order-dependent.
func seededBernoulli(runID string, tsMs int64, symbol, side string, p float64) bool {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", runID, tsMs, symbol, side)
	sum := h.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))
	return rng.Float64() < p
}
