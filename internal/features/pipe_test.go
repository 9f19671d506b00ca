package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func TestFeaturePipe_WarmupUntilWindowsFill(t *testing.T) {
	cfg := config.Default()
	p := NewFeaturePipe("BTCUSDT", cfg)

	row := domain.AlignedFeatureRow{Symbol: "BTCUSDT", Mid: 100, SpreadBps: 1}
	out := p.Enrich(row)
	assert.True(t, out.Warmup)
	assert.Equal(t, domain.QualityWeak, out.QualityTier)
}

func TestFeaturePipe_TradeUpdatesCVD(t *testing.T) {
	cfg := config.Default()
	p := NewFeaturePipe("ETHUSDT", cfg)

	for i := 0; i < 20; i++ {
		p.OnEvent(domain.Event{
			Kind: domain.EventTrade, Symbol: "ETHUSDT", TsMs: int64(i * 100),
			TradePrice: 10, TradeQty: 1, TradeSide: domain.SideBuy,
		})
	}
	row := p.Enrich(domain.AlignedFeatureRow{Symbol: "ETHUSDT", Mid: 10, SpreadBps: 1})
	assert.Equal(t, float64(20), p.cvd.Cumulative())
	require.NotNil(t, row)
}

func TestFeaturePipe_IgnoresOtherSymbolEvents(t *testing.T) {
	cfg := config.Default()
	p := NewFeaturePipe("BTCUSDT", cfg)
	p.OnEvent(domain.Event{Kind: domain.EventTrade, Symbol: "ETHUSDT", TsMs: 100, TradePrice: 10, TradeQty: 1, TradeSide: domain.SideBuy})
	assert.Equal(t, float64(0), p.cvd.Cumulative())
}

func TestFusion_WeightedAndConsistency(t *testing.T) {
	f := NewFuser(FusionWeighted, 0.5, 0.5)
	score, consistency, agree := f.Combine(1.0, 1.0)
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.True(t, agree)
	assert.InDelta(t, 1.0, consistency, 1e-6)

	score2, _, agree2 := f.Combine(1.0, -1.0)
	assert.InDelta(t, 0.0, score2, 1e-9)
	assert.False(t, agree2)
}

func TestDivergenceDetector_LabelsOnOppositeSlopes(t *testing.T) {
	d := NewDivergenceDetector(3)
	d.Update(100, -1)
	d.Update(99, 0)
	label := d.Update(98, 1) // price falling, fusion rising -> bullish divergence
	assert.Equal(t, domain.DivergenceBullish, label)
}
