package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func entryTrade(symbol string, tsMs int64, qty, execPx, feeBps float64) domain.Trade {
	return domain.Trade{
		TsMs: tsMs, Symbol: symbol, Side: domain.PositionLong,
		Reason: domain.ReasonEntry, ExecPx: execPx, Qty: qty,
		Fee: feeBps / 10000.0 * qty * execPx,
	}
}

func exitTrade(symbol string, tsMs int64, qty, execPx float64, netPnL float64, holdSec float64, reason domain.TradeReason, scenario domain.Scenario2x2) domain.Trade {
	return domain.Trade{
		TsMs: tsMs, Symbol: symbol, Side: domain.PositionLong,
		Reason: reason, ExecPx: execPx, Qty: qty,
		NetPnL: netPnL, GrossPnL: netPnL, HoldTimeSec: holdSec,
		Scenario2x2: scenario,
	}
}

func TestPairRoundTrips_MatchesEntryToNextTradeForSameSymbol(t *testing.T) {
	trades := []domain.Trade{
		entryTrade("BTCUSDT", 0, 1.0, 100, 0),
		exitTrade("BTCUSDT", 60000, 1.0, 101, 1.0, 60, domain.ReasonTakeProfit, domain.ScenarioActiveHigh),
	}
	trips := PairRoundTrips(trades)
	require.Len(t, trips, 1)
	assert.Equal(t, "BTCUSDT", trips[0].Symbol)
	assert.InDelta(t, 1.0, trips[0].NetPnL, 1e-9)
	assert.Equal(t, 60.0, trips[0].HoldTimeSec)
}

func TestPairRoundTrips_DropsUnmatchedTrailingEntry(t *testing.T) {
	trades := []domain.Trade{
		entryTrade("BTCUSDT", 0, 1.0, 100, 0),
	}
	trips := PairRoundTrips(trades)
	assert.Len(t, trips, 0, "an open position with no matching exit is not a closed pair")
}

func TestCompute_WinRateAndAvgHoldSec(t *testing.T) {
	trips := []RoundTrip{
		{Symbol: "BTCUSDT", NetPnL: 10, HoldTimeSec: 60, Turnover: 1000},
		{Symbol: "BTCUSDT", NetPnL: -5, HoldTimeSec: 120, Turnover: 1000},
	}
	m := Compute(trips)
	assert.Equal(t, 2, m.TotalTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 90.0, m.AvgHoldSec, 1e-9)
	assert.InDelta(t, 5.0, m.TotalPnL, 1e-9)
}

func TestCompute_MARIsPositiveInfinityWhenNoDrawdownAndPositivePnL(t *testing.T) {
	trips := []RoundTrip{
		{Symbol: "BTCUSDT", EntryTsMs: 0, ExitTsMs: 0, NetPnL: 10},
	}
	m := Compute(trips)
	assert.True(t, math.IsInf(m.MAR, 1))
}

func TestCompute_MARIsZeroWhenNoDrawdownAndNonPositivePnL(t *testing.T) {
	trips := []RoundTrip{
		{Symbol: "BTCUSDT", EntryTsMs: 0, ExitTsMs: 0, NetPnL: 0},
	}
	m := Compute(trips)
	assert.Equal(t, 0.0, m.MAR)
}

func TestCompute_CostBpsOnTurnover(t *testing.T) {
	trips := []RoundTrip{
		{Symbol: "BTCUSDT", Fee: 1.0, SlippageCost: 0.5, Turnover: 1000, NetPnL: 5},
	}
	m := Compute(trips)
	assert.InDelta(t, 15.0, m.CostBpsOnTurnover, 1e-9) // (1+0.5)/1000*10000
}

func TestScenarioBreakdown_SeparatesByScenario(t *testing.T) {
	trips := []RoundTrip{
		{Symbol: "BTCUSDT", Scenario: domain.ScenarioActiveHigh, NetPnL: 10},
		{Symbol: "BTCUSDT", Scenario: domain.ScenarioQuietLow, NetPnL: -3},
	}
	breakdown := ScenarioBreakdown(trips)
	require.Contains(t, breakdown, domain.ScenarioActiveHigh)
	require.Contains(t, breakdown, domain.ScenarioQuietLow)
	assert.Equal(t, 1, breakdown[domain.ScenarioActiveHigh].TotalTrades)
}

func TestDailyPnL_SumsByUTCCalendarDayOfEntry(t *testing.T) {
	dayMs := int64(86400000)
	trips := []RoundTrip{
		{EntryTsMs: 0, NetPnL: 10},
		{EntryTsMs: 1000, NetPnL: 5},
		{EntryTsMs: dayMs, NetPnL: -2},
	}
	daily := DailyPnL(trips)
	require.Len(t, daily, 2)
	assert.Equal(t, "1970-01-01", daily[0].Date)
	assert.InDelta(t, 15.0, daily[0].NetPnL, 1e-9)
	assert.Equal(t, 2, daily[0].Trades)
	assert.Equal(t, "1970-01-02", daily[1].Date)
}

func TestCompute_EmptyRoundTripsReturnsZeroValue(t *testing.T) {
	m := Compute(nil)
	assert.Equal(t, Metrics{}, m)
}
