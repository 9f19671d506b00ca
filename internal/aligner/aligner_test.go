package aligner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func bookEvent(symbol string, tsMs int64, bid, ask float64) domain.Event {
	return domain.Event{Kind: domain.EventBookTicker, Symbol: symbol, TsMs: tsMs, BestBid: bid, BestAsk: ask, BestBidSize: 1, BestAskSize: 1}
}

func tradeEvent(symbol string, tsMs int64, price, qty float64, side domain.Side) domain.Event {
	return domain.Event{Kind: domain.EventTrade, Symbol: symbol, TsMs: tsMs, TradePrice: price, TradeQty: qty, TradeSide: side}
}

func TestAligner_CarriesForwardAndComputesMidSpread(t *testing.T) {
	events := []domain.Event{
		bookEvent("BTCUSDT", 500, 100, 100.1),
		tradeEvent("BTCUSDT", 600, 100.05, 1, domain.SideBuy),
	}
	rows, stats := Run("BTCUSDT", 5, events)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, int64(0), row.SecondTs)
	assert.InDelta(t, 100.05, row.Mid, 1e-9)
	assert.False(t, row.IsGapSecond)
	assert.Equal(t, 0, stats.MalformedDropped)
}

func TestAligner_GapSecondFlaggedAndCarriesForward(t *testing.T) {
	events := []domain.Event{
		bookEvent("ETHUSDT", 100, 10, 10.02),
		bookEvent("ETHUSDT", 8100, 11, 11.02), // 8s later: seconds 1..7 are gap seconds
	}
	rows, _ := Run("ETHUSDT", 3, events)
	require.True(t, len(rows) >= 7)
	for _, r := range rows[1:7] {
		assert.True(t, r.IsGapSecond)
		assert.InDelta(t, 10.01, r.Mid, 1e-9) // carried forward from the first book tick
	}
	assert.True(t, rows[6].HasQualityFlag(domain.QualityFlagGap))
}

func TestAligner_OutOfOrderEventDropped(t *testing.T) {
	a := New("SOLUSDT", 5)
	a.Feed(bookEvent("SOLUSDT", 5000, 20, 20.02))
	rows := a.EmitThrough(5)
	require.Len(t, rows, 1)
	a.Feed(bookEvent("SOLUSDT", 2000, 19, 19.02)) // > 1s behind head
	assert.Equal(t, 1, a.Stats().OutOfOrderDropped)
}

func TestAligner_MalformedEventCounted(t *testing.T) {
	a := New("SOLUSDT", 5)
	a.Feed(domain.Event{Kind: domain.EventTrade, Symbol: "SOLUSDT", TsMs: 1000, TradeQty: -1})
	assert.Equal(t, 1, a.Stats().MalformedDropped)
}

func TestAligner_SymbolMismatchCountedAsMalformed(t *testing.T) {
	a := New("SOLUSDT", 5)
	a.Feed(bookEvent("OTHER", 1000, 1, 1.01))
	assert.Equal(t, 1, a.Stats().MalformedDropped)
}
