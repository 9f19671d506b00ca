package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func baseCfg() config.Config {
	cfg := config.Default()
	cfg.Signal.Thresholds["active"] = config.Thresholds{Buy: 0.6, StrongBuy: 1.2, Sell: -0.6, StrongSell: -1.2}
	cfg.Signal.WeakSignalThreshold = 0.2
	cfg.Signal.ConsistencyMin = 0.15
	cfg.Signal.MinConsecutiveSameDir = 2
	cfg.Signal.SpreadBpsCap = 20
	cfg.Signal.LagCapSec = 5
	return cfg
}

func strongBuyRow(tsMs int64) domain.AlignedFeatureRow {
	return domain.AlignedFeatureRow{
		Symbol: "BTCUSDT", TsMs: tsMs,
		ZOFI: 1.5, ZCVD: 1.2, FusionScore: 1.38,
		Consistency: 0.9, SpreadBps: 5, LagMsPrice: 100,
		Regime: domain.RegimeActive,
	}
}

func TestCoreAlgorithm_StrongBuyConfirmOnSecondTick(t *testing.T) {
	a := New(baseCfg(), "run-1")

	sig1 := a.Process(strongBuyRow(1000), 1000)
	assert.False(t, sig1.Confirm)
	assert.True(t, sig1.HasGatingReason(domain.ReasonReverseCooldownInsufficientTicks))

	sig2 := a.Process(strongBuyRow(2000), 2000)
	assert.True(t, sig2.Confirm)
	assert.Equal(t, domain.SignalStrongBuy, sig2.SignalType)
}

func TestCoreAlgorithm_SpreadGuardHard(t *testing.T) {
	a := New(baseCfg(), "run-1")
	row := strongBuyRow(1000)
	row.SpreadBps = 25
	sig := a.Process(row, 1000)
	require.False(t, sig.Confirm)
	assert.True(t, sig.HasGatingReason(domain.GuardSpreadBpsExceeded))
	assert.True(t, sig.HasHardGating())
}

func TestCoreAlgorithm_WeakSignalSoftGuard(t *testing.T) {
	a := New(baseCfg(), "run-1")
	row := strongBuyRow(1000)
	row.FusionScore = 0.1
	row.ZOFI, row.ZCVD = 0.1, 0.1
	sig := a.Process(row, 1000)
	assert.True(t, sig.HasGatingReason(domain.GuardWeakSignal))
	assert.False(t, sig.HasHardGating())
}

func TestCoreAlgorithm_WarmupRowsPending(t *testing.T) {
	a := New(baseCfg(), "run-1")
	row := strongBuyRow(1000)
	row.Warmup = true
	sig := a.Process(row, 1000)
	assert.False(t, sig.Confirm)
	assert.Equal(t, domain.SignalPending, sig.SignalType)
	assert.True(t, sig.HasGatingReason(domain.ReasonWarmup))
}

func TestCoreAlgorithm_ResetClearsStreak(t *testing.T) {
	a := New(baseCfg(), "run-1")
	a.Process(strongBuyRow(1000), 1000)
	a.Reset("run-2")
	sig := a.Process(strongBuyRow(2000), 2000)
	assert.False(t, sig.Confirm, "streak must restart after a run_id reset")
}
