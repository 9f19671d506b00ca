package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func TestIsTradeable_SpreadGuardHardBlocksAllModes(t *testing.T) {
	sig := domain.Signal{Confirm: false, Gating: []string{domain.GuardSpreadBpsExceeded}}
	for _, mode := range []GatingMode{GatingStrict, GatingIgnoreSoft, GatingIgnoreAll} {
		ok, reason := IsTradeable(sig, mode)
		assert.False(t, ok)
		assert.Contains(t, reason, "gating_hard_")
	}
}

func TestIsTradeable_SoftGuardIgnoredUnderIgnoreSoft(t *testing.T) {
	sig := domain.Signal{Confirm: true, Gating: []string{domain.GuardWeakSignal}}

	ok, reason := IsTradeable(sig, GatingStrict)
	assert.False(t, ok)
	assert.Equal(t, "gating_weak_signal", reason)

	ok2, reason2 := IsTradeable(sig, GatingIgnoreSoft)
	assert.True(t, ok2)
	assert.Empty(t, reason2)
}

func TestIsTradeable_ConfirmFalseBlocksAfterGatingClears(t *testing.T) {
	sig := domain.Signal{Confirm: false}
	ok, reason := IsTradeable(sig, GatingStrict)
	assert.False(t, ok)
	assert.Equal(t, "confirm_false", reason)
}

func TestDecideSide_PrefersSignalTypeOverScore(t *testing.T) {
	sig := domain.Signal{SignalType: domain.SignalStrongSell, Score: 5.0}
	side, ok := DecideSide(sig, 0.1)
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
}

func TestDecideSide_FallsBackToSideHint(t *testing.T) {
	sig := domain.Signal{SignalType: domain.SignalNeutral, SideHint: domain.SideHintBuy}
	side, ok := DecideSide(sig, 0.1)
	assert.True(t, ok)
	assert.Equal(t, SideBuy, side)
}

func TestDecideSide_FallsBackToScoreSign(t *testing.T) {
	sig := domain.Signal{SignalType: domain.SignalNeutral, SideHint: domain.SideHintNone, Score: -0.5}
	side, ok := DecideSide(sig, 0.1)
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
}

func TestDecideSide_NoDirectionBelowThreshold(t *testing.T) {
	sig := domain.Signal{Score: 0.05}
	_, ok := DecideSide(sig, 0.1)
	assert.False(t, ok)
}

func TestEmulator_LegacyModeIgnoresConfirmAndGating(t *testing.T) {
	e := NewEmulator(GatingStrict, QualityAll, true, 0.1)
	sig := domain.Signal{Confirm: false, Gating: []string{domain.GuardSpreadBpsExceeded}, Score: 0.5}
	ok, reason := e.ShouldTrade(sig)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestEmulator_ConservativeQualityRejectsNormal(t *testing.T) {
	e := NewEmulator(GatingStrict, QualityConservative, false, 0.1)
	sig := domain.Signal{Confirm: true, QualityTier: domain.QualityNormal}
	ok, reason := e.ShouldTrade(sig)
	assert.False(t, ok)
	assert.Contains(t, reason, "conservative_mode")
}

func TestEmulator_BalancedQualityRejectsLowConsistencyNormal(t *testing.T) {
	e := NewEmulator(GatingStrict, QualityBalanced, false, 0.1)
	sig := domain.Signal{Confirm: true, QualityTier: domain.QualityNormal, QualityFlags: []string{domain.QualityFlagLowConsistency}}
	ok, _ := e.ShouldTrade(sig)
	assert.False(t, ok)

	sig2 := domain.Signal{Confirm: true, QualityTier: domain.QualityNormal}
	ok2, _ := e.ShouldTrade(sig2)
	assert.True(t, ok2)
}
