// Package strategy implements the pure, side-effect-free policy layer
// (spec.md §4.4): is_tradeable, decide_side, and the StrategyEmulator
// quality-mode/legacy-mode wrapper that backtest and live execution both
// call so their trading decisions never drift apart.
package strategy

import (
	"fmt"
	"math"
	"strings"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// GatingMode mirrors config.GatingMode without importing internal/config,
// keeping this package dependency-free per its pure-function contract.
type GatingMode string

const (
	GatingStrict     GatingMode = "strict"
	GatingIgnoreSoft GatingMode = "ignore_soft"
	GatingIgnoreAll  GatingMode = "ignore_all"
)

// QualityMode mirrors config.QualityMode.
type QualityMode string

const (
	QualityConservative QualityMode = "conservative"
	QualityBalanced     QualityMode = "balanced"
	QualityAggressive   QualityMode = "aggressive"
	QualityAll          QualityMode = "all"
)

// Side is the decided trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsTradeable implements spec.md §4.4's is_tradeable: hard gating reasons
// always block, soft reasons are dropped from view per mode, and
// confirm=false always blocks once gating is satisfied.
func IsTradeable(sig domain.Signal, mode GatingMode) (bool, string) {
	var hardBlocks []string
	for _, g := range sig.Gating {
		if domain.IsHardGuard(g) {
			hardBlocks = append(hardBlocks, g)
		}
	}
	if len(hardBlocks) > 0 {
		return false, "gating_hard_" + strings.Join(hardBlocks, ",")
	}

	view := sig.Gating
	switch mode {
	case GatingIgnoreSoft:
		var filtered []string
		for _, g := range view {
			if !domain.IsSoftGuard(g) {
				filtered = append(filtered, g)
			}
		}
		view = filtered
	case GatingIgnoreAll:
		view = nil
	}

	if len(view) > 0 {
		return false, "gating_" + strings.Join(view, ",")
	}

	if !sig.Confirm {
		return false, "confirm_false"
	}
	return true, ""
}

// DecideSide implements spec.md §4.4's decide_side: signal_type takes
// priority, then side_hint, then sign(score) gated by minAbsScoreForSide.
// Returns ("", false) when no direction can be determined.
func DecideSide(sig domain.Signal, minAbsScoreForSide float64) (Side, bool) {
	switch sig.SignalType {
	case domain.SignalBuy, domain.SignalStrongBuy:
		return SideBuy, true
	case domain.SignalSell, domain.SignalStrongSell:
		return SideSell, true
	}

	switch sig.SideHint {
	case domain.SideHintBuy:
		return SideBuy, true
	case domain.SideHintSell:
		return SideSell, true
	}

	if math.Abs(sig.Score) > minAbsScoreForSide {
		if sig.Score > 0 {
			return SideBuy, true
		}
		return SideSell, true
	}
	return "", false
}

// Emulator wraps is_tradeable/decide_side with quality-mode filtering and
// an optional legacy mode, matching StrategyEmulator.should_trade in
// original_source/src/alpha_core/strategy/policy.py.
type Emulator struct {
	GatingMode         GatingMode
	QualityMode        QualityMode
	LegacyBacktestMode bool
	MinAbsScoreForSide float64
}

// NewEmulator builds an Emulator with the given gating/quality modes.
func NewEmulator(gatingMode GatingMode, qualityMode QualityMode, legacy bool, minAbsScoreForSide float64) *Emulator {
	return &Emulator{
		GatingMode:         gatingMode,
		QualityMode:        qualityMode,
		LegacyBacktestMode: legacy,
		MinAbsScoreForSide: minAbsScoreForSide,
	}
}

// ShouldTrade implements StrategyEmulator.should_trade: legacy mode
// ignores confirm/gating entirely and decides solely on score magnitude;
// normal mode delegates to IsTradeable then applies quality-mode
// filtering.
func (e *Emulator) ShouldTrade(sig domain.Signal) (bool, string) {
	if e.LegacyBacktestMode {
		if math.Abs(sig.Score) >= e.MinAbsScoreForSide {
			return true, ""
		}
		return false, "score_too_low_for_legacy_mode"
	}

	canTrade, reason := IsTradeable(sig, e.GatingMode)
	if !canTrade {
		return false, reason
	}

	switch e.QualityMode {
	case QualityConservative:
		if sig.QualityTier != domain.QualityStrong {
			return false, fmt.Sprintf("quality_tier_%s_not_allowed_in_conservative_mode", sig.QualityTier)
		}
	case QualityBalanced:
		switch sig.QualityTier {
		case domain.QualityStrong:
		case domain.QualityNormal:
			if sig.HasQualityFlag(domain.QualityFlagLowConsistency) {
				return false, "low_consistency_not_allowed_in_balanced_mode"
			}
		default:
			return false, fmt.Sprintf("quality_tier_%s_not_allowed_in_balanced_mode", sig.QualityTier)
		}
	case QualityAggressive, QualityAll:
		// no additional filter
	default:
		return false, fmt.Sprintf("unknown_quality_mode_%s", e.QualityMode)
	}

	return true, ""
}
