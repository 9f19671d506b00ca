package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/strategy"
)

func TestTradeSimulator_ReversalExit_EmitsOneTradeAndOpensOpposite(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.ReverseOnSignal = true
	cfg.Backtest.MinHoldTimeSec = 60
	cfg.Backtest.SlippageModel = config.SlippageStatic
	cfg.Backtest.SlippageBps = 0
	cfg.Backtest.NotionalPerTrade = 100
	cfg.Backtest.FeeModel = config.FeeTakerStatic
	cfg.Backtest.TakerFeeBps = 0

	sim := New(cfg, "run-1", strategy.GatingStrict, strategy.QualityAll, false)

	longSignal := domain.Signal{
		Symbol: "BTCUSDT", TsMs: 0, MidPx: 100, Score: 2.0,
		SignalType: domain.SignalStrongBuy, Confirm: true,
	}
	opened := sim.OnSignal(longSignal)
	require.Len(t, opened, 1)
	assert.Equal(t, domain.ReasonEntry, opened[0].Reason)
	assert.Equal(t, domain.PositionLong, opened[0].Side)

	shortSignal := domain.Signal{
		Symbol: "BTCUSDT", TsMs: 60000, MidPx: 101, Score: -2.0,
		SignalType: domain.SignalStrongSell, Confirm: true,
	}
	result := sim.OnSignal(shortSignal)
	require.Len(t, result, 2, "a reversal must emit exactly one exit and one new entry, not two exits")

	exit := result[0]
	assert.Equal(t, domain.ReasonReverse, exit.Reason)
	assert.Equal(t, int64(60000), exit.TsMs)
	assert.InDelta(t, 1.0*opened[0].Qty, exit.GrossPnL, 1e-6)

	entry := result[1]
	assert.Equal(t, domain.ReasonEntry, entry.Reason)
	assert.Equal(t, domain.PositionShort, entry.Side)
	assert.Equal(t, int64(60000), entry.TsMs)
}

func TestMakerTakerFee_NormalizesScenarioSuffixAndAppliesSideBias(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.FeeModel = config.FeeMakerTaker
	cfg.MakerTaker.ScenarioProbs = map[string]float64{"A_H": 0.5, "default": 0.2}
	cfg.MakerTaker.SideBias = map[string]float64{"buy": 1.1, "sell": 0.9}
	cfg.MakerTaker.SpreadThresholdNarrow = 2.0
	cfg.MakerTaker.SpreadThresholdWide = 20.0
	cfg.MakerTaker.SpreadSlope = 0.5

	result := ComputeFee(cfg, "run-1", 1000, "BTCUSDT", domain.PositionLong, 1000, 2.0, "A_H_unknown")
	assert.InDelta(t, 0.55, result.MakerProbability, 1e-9)
}

func TestMakerTakerFee_UnknownScenarioFallsBackToDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.FeeModel = config.FeeMakerTaker
	cfg.MakerTaker.ScenarioProbs = map[string]float64{"A_H": 0.5, "default": 0.2}
	cfg.MakerTaker.SideBias = map[string]float64{"buy": 1.0, "sell": 1.0}
	cfg.MakerTaker.SpreadThresholdNarrow = 0
	cfg.MakerTaker.SpreadThresholdWide = 0
	cfg.MakerTaker.SpreadSlope = 0

	result := ComputeFee(cfg, "run-1", 1000, "BTCUSDT", domain.PositionLong, 1000, 5.0, "TOTALLY_UNKNOWN")
	assert.InDelta(t, 0.2, result.MakerProbability, 1e-9)
}

func TestSeededBernoulli_DeterministicAcrossRepeatedCalls(t *testing.T) {
	cfg := config.Default()
	cfg.Backtest.FeeModel = config.FeeMakerTaker

	first := ComputeFee(cfg, "run-1", 5000, "ETHUSDT", domain.PositionLong, 1000, 3.0, domain.ScenarioActiveHigh)
	second := ComputeFee(cfg, "run-1", 5000, "ETHUSDT", domain.PositionLong, 1000, 3.0, domain.ScenarioActiveHigh)
	assert.Equal(t, first.IsMakerActual, second.IsMakerActual)
	assert.Equal(t, first.MakerProbability, second.MakerProbability)
}

func TestTradeSimulator_StopLossFiresBeforeReverseCheck(t *testing.T) {
	cfg := config.Default()
	stopLoss := 50.0
	cfg.Backtest.StopLossBps = &stopLoss
	cfg.Backtest.ReverseOnSignal = true
	cfg.Backtest.MinHoldTimeSec = 0
	cfg.Backtest.SlippageBps = 0
	cfg.Backtest.TakerFeeBps = 0
	cfg.Backtest.NotionalPerTrade = 100

	sim := New(cfg, "run-1", strategy.GatingStrict, strategy.QualityAll, false)
	sim.OnSignal(domain.Signal{Symbol: "BTCUSDT", TsMs: 0, MidPx: 100, SignalType: domain.SignalStrongBuy, Confirm: true})

	losing := sim.OnSignal(domain.Signal{Symbol: "BTCUSDT", TsMs: 1000, MidPx: 99, SignalType: domain.SignalStrongSell, Confirm: true})
	require.Len(t, losing, 1, "stop_loss should close without simultaneously reopening a reverse position")
	assert.Equal(t, domain.ReasonStopLoss, losing[0].Reason)
}
