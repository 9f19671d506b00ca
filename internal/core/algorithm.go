// Package core implements CoreAlgorithm: the per-row gating pipeline and
// consecutive-confirmation/cooldown state machine that turns an
// AlignedFeatureRow into one Signal, per spec.md §4.3.
package core

import (
	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// symbolState is the per-symbol decision state CoreAlgorithm carries
// across rows: direction streak, cooldown deadline, and dedup history.
// Reset whenever run_id changes (spec.md §4.3 "State lifetime").
type symbolState struct {
	dirStreak        int
	lastDir          int // -1, 0, +1
	cooldownDeadline int64
	lastConfirmedDir int
	lastEmittedType  map[domain.SignalType]int64 // signal_type -> last ts_ms confirmed
}

func newSymbolState() *symbolState {
	return &symbolState{lastEmittedType: make(map[domain.SignalType]int64)}
}

// CoreAlgorithm holds all per-symbol state for one run_id and config.
type CoreAlgorithm struct {
	cfg        config.Config
	runID      string
	configHash string

	states map[string]*symbolState
	seq    int64
}

// New builds a CoreAlgorithm bound to one run_id/config pair.
func New(cfg config.Config, runID string) *CoreAlgorithm {
	hash, _ := config.ConfigHash(cfg)
	return &CoreAlgorithm{
		cfg:        cfg,
		runID:      runID,
		configHash: hash,
		states:     make(map[string]*symbolState),
	}
}

func (a *CoreAlgorithm) stateFor(symbol string) *symbolState {
	s, ok := a.states[symbol]
	if !ok {
		s = newSymbolState()
		a.states[symbol] = s
	}
	return s
}

// directionOf maps a SignalType to -1/0/+1 for streak tracking.
func directionOf(t domain.SignalType) int {
	switch t {
	case domain.SignalBuy, domain.SignalStrongBuy:
		return 1
	case domain.SignalSell, domain.SignalStrongSell:
		return -1
	default:
		return 0
	}
}

func thresholdsFor(cfg config.Config, regime domain.Regime) config.Thresholds {
	key := string(regime)
	if t, ok := cfg.Signal.Thresholds[key]; ok {
		return t
	}
	return cfg.Signal.Thresholds["active"]
}

// classifySignalType buckets score against per-regime thresholds into one
// of strong_buy/buy/sell/strong_sell/neutral.
func classifySignalType(score float64, t config.Thresholds) domain.SignalType {
	switch {
	case score >= t.StrongBuy:
		return domain.SignalStrongBuy
	case score >= t.Buy:
		return domain.SignalBuy
	case score <= t.StrongSell:
		return domain.SignalStrongSell
	case score <= t.Sell:
		return domain.SignalSell
	default:
		return domain.SignalNeutral
	}
}

func sideHintFor(t domain.SignalType) domain.SideHint {
	switch t {
	case domain.SignalBuy, domain.SignalStrongBuy:
		return domain.SideHintBuy
	case domain.SignalSell, domain.SignalStrongSell:
		return domain.SideHintSell
	default:
		return domain.SideHintNone
	}
}

// Process runs one AlignedFeatureRow through the gating pipeline in the
// exact order of spec.md §4.3 and returns the resulting Signal. nowMs
// drives cooldown/dedup comparisons and must come from the row's own
// clock (ts_ms), never wall time, to preserve determinism.
func (a *CoreAlgorithm) Process(row domain.AlignedFeatureRow, nowMs int64) domain.Signal {
	st := a.stateFor(row.Symbol)
	a.seq++

	score := row.FusionScore

	regime := row.Regime
	if regime == "" {
		regime = domain.RegimeActive
	}
	t := thresholdsFor(a.cfg, regime)

	sig := domain.Signal{
		RunID:         a.runID,
		Symbol:        row.Symbol,
		TsMs:          row.TsMs,
		SignalID:      domain.NewSignalID(a.runID, row.Symbol, row.TsMs, a.seq),
		SchemaVersion: domain.SchemaVersion,
		Score:         score,
		Regime:        regime,
		Scenario:      row.Scenario,
		Consistency:   row.Consistency,
		ZOFI:          row.ZOFI,
		ZCVD:          row.ZCVD,
		SpreadBps:     row.SpreadBps,
		LagSec:        row.LagMsPrice / 1000,
		MidPx:         row.Mid,
		QualityTier:   row.QualityTier,
		QualityFlags:  row.QualityFlags,
		ConfigHash:    a.configHash,
		SignalType:    domain.SignalPending,
		SideHint:      domain.SideHintNone,
	}

	// 1. Warmup.
	if row.Warmup {
		sig.Gating = append(sig.Gating, domain.ReasonWarmup)
		sig.SignalType = domain.SignalPending
		sig.DecisionCode = "pending"
		sig.DecisionReason = domain.ReasonWarmup
		return sig
	}

	// 2. Spread guard (hard).
	if row.SpreadBps > a.cfg.Signal.SpreadBpsCap {
		sig.Gating = append(sig.Gating, domain.GuardSpreadBpsExceeded)
		sig.GuardReason = domain.GuardSpreadBpsExceeded
	}
	// 3. Lag guard (hard).
	if sig.LagSec > a.cfg.Signal.LagCapSec {
		sig.Gating = append(sig.Gating, domain.GuardLagSecExceeded)
		if sig.GuardReason == "" {
			sig.GuardReason = domain.GuardLagSecExceeded
		}
	}
	// 4. Weak signal (soft).
	if absf(score) < a.cfg.Signal.WeakSignalThreshold {
		sig.Gating = append(sig.Gating, domain.GuardWeakSignal)
	}
	// 5. Low consistency (soft).
	if row.Consistency < a.cfg.Signal.ConsistencyMin {
		sig.Gating = append(sig.Gating, domain.GuardLowConsistency)
	}

	// 6. Classify signal_type / side_hint.
	sig.SignalType = classifySignalType(score, t)
	sig.SideHint = sideHintFor(sig.SignalType)

	dir := directionOf(sig.SignalType)
	hardBlocked := sig.HasHardGating()

	// 7. Dedup window.
	if last, ok := st.lastEmittedType[sig.SignalType]; ok && nowMs-last < a.cfg.Signal.DedupeMs {
		sig.Gating = append(sig.Gating, domain.ReasonDuplicateWithinWindow)
	}

	// 8. Consecutive confirmation (streak updates regardless of gating
	// outcome, since spec.md §4.3 step 8 tracks direction continuity
	// independent of whether this particular row confirms).
	if dir != 0 && dir == st.lastDir {
		st.dirStreak++
	} else if dir != 0 {
		st.dirStreak = 1
	} else {
		st.dirStreak = 0
	}
	st.lastDir = dir

	if dir != 0 && st.dirStreak < a.cfg.Signal.MinConsecutiveSameDir {
		sig.Gating = append(sig.Gating, domain.ReasonReverseCooldownInsufficientTicks)
	}

	// 9. Cooldown after exit/reverse.
	if nowMs < st.cooldownDeadline && dir != 0 && dir != st.lastConfirmedDir {
		sig.Gating = append(sig.Gating, domain.ReasonAdaptiveCooldown)
	}

	sig.CooldownMs = a.cfg.Signal.BaseCooldownMs

	// 10. Confirm.
	policyPermitsSoft := true // CoreAlgorithm itself never filters soft reasons; StrategyEmulator does.
	_ = policyPermitsSoft
	if !hardBlocked && !sig.HasGatingReason(domain.ReasonDuplicateWithinWindow) &&
		!sig.HasGatingReason(domain.ReasonReverseCooldownInsufficientTicks) &&
		!sig.HasGatingReason(domain.ReasonAdaptiveCooldown) &&
		dir != 0 {
		sig.Confirm = true
		deadline := nowMs + int64(a.cfg.Signal.AdaptiveCooldownK*float64(a.cfg.Signal.BaseCooldownMs))
		st.cooldownDeadline = deadline
		sig.ExpiryMs = deadline
		st.lastConfirmedDir = dir
		st.lastEmittedType[sig.SignalType] = nowMs
		sig.DecisionCode = "confirmed"
	} else {
		sig.DecisionCode = "rejected"
	}
	if len(sig.Gating) > 0 {
		sig.DecisionReason = sig.Gating[len(sig.Gating)-1]
	}

	return sig
}

// Reset clears all per-symbol state, matching spec.md §4.3's "state reset
// on run_id change".
func (a *CoreAlgorithm) Reset(runID string) {
	a.runID = runID
	a.states = make(map[string]*symbolState)
	a.seq = 0
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
