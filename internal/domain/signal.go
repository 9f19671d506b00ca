package domain

import "fmt"

// SchemaVersion is the canonical signal schema tag (spec.md §3).
const SchemaVersion = "v2"

// SignalType is the classified direction/strength of a fused score.
type SignalType string

const (
	SignalBuy        SignalType = "buy"
	SignalStrongBuy  SignalType = "strong_buy"
	SignalSell       SignalType = "sell"
	SignalStrongSell SignalType = "strong_sell"
	SignalNeutral    SignalType = "neutral"
	SignalPending    SignalType = "pending"
)

// SideHint is the coarse direction hint carried alongside SignalType.
type SideHint string

const (
	SideHintBuy  SideHint = "BUY"
	SideHintSell SideHint = "SELL"
	SideHintNone SideHint = "NONE"
)

// Hard guard reasons always block confirmation, even under ignore_* gating
// modes (spec.md §4.3).
const (
	GuardFallback           = "fallback"
	GuardPriceCacheFailed   = "price_cache_failed"
	GuardNoPrice            = "no_price"
	GuardSpreadBpsExceeded  = "spread_bps_exceeded"
	GuardLagSecExceeded     = "lag_sec_exceeded"
	GuardKillSwitch         = "kill_switch"
	GuardGuarded            = "guarded"
)

// Soft guard reasons may be bypassed by gating mode.
const (
	GuardWeakSignal     = "weak_signal"
	GuardLowConsistency = "low_consistency"
)

// Other gating reasons emitted by the confirm state machine.
const (
	ReasonWarmup                            = "warmup"
	ReasonDuplicateWithinWindow              = "duplicate_within_window"
	ReasonReverseCooldownInsufficientTicks   = "reverse_cooldown_insufficient_ticks"
	ReasonAdaptiveCooldown                   = "adaptive_cooldown"
)

// HardGuards is the fixed set of hard guard reasons (spec.md §4.3).
var HardGuards = map[string]bool{
	GuardFallback:          true,
	GuardPriceCacheFailed:  true,
	GuardNoPrice:           true,
	GuardSpreadBpsExceeded: true,
	GuardLagSecExceeded:    true,
	GuardKillSwitch:        true,
	GuardGuarded:           true,
}

// SoftGuards is the fixed set of soft guard reasons (spec.md §4.3).
var SoftGuards = map[string]bool{
	GuardWeakSignal:     true,
	GuardLowConsistency: true,
}

// IsHardGuard reports whether reason is one of the hard guards.
func IsHardGuard(reason string) bool { return HardGuards[reason] }

// IsSoftGuard reports whether reason is one of the soft guards.
func IsSoftGuard(reason string) bool { return SoftGuards[reason] }

// gatingBitOrder fixes a stable bit position for every gating reason the
// confirm state machine can emit (spec.md §4.3's closed guard/reason
// vocabulary), so the bitmask the SQLite sink stores in its `gating
// INTEGER` column (spec.md §6) round-trips losslessly for any reason this
// package defines.
var gatingBitOrder = []string{
	GuardFallback, GuardPriceCacheFailed, GuardNoPrice, GuardSpreadBpsExceeded,
	GuardLagSecExceeded, GuardKillSwitch, GuardGuarded,
	GuardWeakSignal, GuardLowConsistency,
	ReasonWarmup, ReasonDuplicateWithinWindow, ReasonReverseCooldownInsufficientTicks, ReasonAdaptiveCooldown,
}

// EncodeGatingBitmask packs reasons into the bitmask stored in SQLite's
// `gating INTEGER` column. Unrecognized reasons are dropped; the guard
// constants above are the full closed set the confirm state machine emits.
func EncodeGatingBitmask(reasons []string) int64 {
	var mask int64
	for _, r := range reasons {
		for bit, known := range gatingBitOrder {
			if r == known {
				mask |= 1 << uint(bit)
			}
		}
	}
	return mask
}

// DecodeGatingBitmask is EncodeGatingBitmask's inverse, used to recover
// the reason list from a stored bitmask for inspection/tests.
func DecodeGatingBitmask(mask int64) []string {
	var reasons []string
	for bit, known := range gatingBitOrder {
		if mask&(1<<uint(bit)) != 0 {
			reasons = append(reasons, known)
		}
	}
	return reasons
}

// Signal is the versioned, schema-v2 decision record emitted by
// CoreAlgorithm (spec.md §3).
type Signal struct {
	RunID      string
	Symbol     string
	TsMs       int64
	SignalID   string
	SchemaVersion string

	Score      float64
	SignalType SignalType
	SideHint   SideHint
	Confirm    bool
	Gating     []string

	Regime      Regime
	Scenario    Scenario2x2
	Consistency float64
	ZOFI        float64
	ZCVD        float64
	SpreadBps   float64
	LagSec      float64
	MidPx       float64

	CooldownMs     int64
	ExpiryMs       int64
	DecisionCode   string
	DecisionReason string
	GuardReason    string
	QualityTier    QualityTier
	QualityFlags   []string
	ConfigHash     string

	// Meta collects non-canonical extras that do not map onto the fields
	// above, per spec.md §9's "meta collects non-canonical extras as a
	// typed map" re-architecture note.
	Meta map[string]string
}

// NewSignalID builds the canonical signal_id: "{run_id}-{symbol}-{ts_ms}-{seq}".
func NewSignalID(runID, symbol string, tsMs int64, seq int64) string {
	return fmt.Sprintf("%s-%s-%d-%d", runID, symbol, tsMs, seq)
}

// HasQualityFlag reports whether s carries the given quality flag.
func (s Signal) HasQualityFlag(flag string) bool {
	for _, f := range s.QualityFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// HasGatingReason reports whether s.Gating contains reason.
func (s Signal) HasGatingReason(reason string) bool {
	for _, g := range s.Gating {
		if g == reason {
			return true
		}
	}
	return false
}

// HasHardGating reports whether any gating reason on s is a hard guard.
func (s Signal) HasHardGating() bool {
	for _, g := range s.Gating {
		if IsHardGuard(g) {
			return true
		}
	}
	return false
}

// ValidateInvariants checks the schema invariants from spec.md §3/§8:
//   - confirm=true implies no hard reasons in gating.
//   - if side_hint is BUY/SELL, signal_type direction must match.
func (s Signal) ValidateInvariants() error {
	if s.Confirm && s.HasHardGating() {
		return fmt.Errorf("signal %s: confirm=true but gating contains a hard guard: %v", s.SignalID, s.Gating)
	}
	switch s.SideHint {
	case SideHintBuy:
		if s.SignalType == SignalSell || s.SignalType == SignalStrongSell {
			return fmt.Errorf("signal %s: side_hint BUY conflicts with signal_type %s", s.SignalID, s.SignalType)
		}
	case SideHintSell:
		if s.SignalType == SignalBuy || s.SignalType == SignalStrongBuy {
			return fmt.Errorf("signal %s: side_hint SELL conflicts with signal_type %s", s.SignalID, s.SignalType)
		}
	}
	return nil
}
