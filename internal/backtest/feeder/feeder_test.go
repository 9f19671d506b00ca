package feeder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/reader"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/core"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func featureRow(tsMs int64, score float64) reader.Row {
	row := domain.AlignedFeatureRow{
		Symbol: "BTCUSDT", TsMs: tsMs, SecondTs: tsMs / 1000,
		FusionScore: score, Consistency: 0.9, SpreadBps: 1, Regime: domain.RegimeActive,
		QualityTier: domain.QualityStrong,
	}
	raw, _ := json.Marshal(row)
	return reader.Row{TsMs: tsMs, Symbol: "BTCUSDT", Kind: domain.KindFeatures, Raw: raw}
}

func TestReplayFeeder_FeedFeatures_DrivesCoreAlgorithm(t *testing.T) {
	cfg := config.Default()
	algo := core.New(cfg, "run-1")
	f := NewReplayFeeder(algo)

	rows := []reader.Row{featureRow(1000, 5.0), featureRow(2000, 5.0)}
	signals, stats, err := f.FeedFeatures(rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RowsProcessed)
	assert.Equal(t, 0, stats.RowsMalformed)
	assert.Len(t, signals, 2)
}

func TestReplayFeeder_FeedFeatures_DropsMalformedRow(t *testing.T) {
	cfg := config.Default()
	algo := core.New(cfg, "run-1")
	f := NewReplayFeeder(algo)

	bad := reader.Row{TsMs: 1000, Symbol: "BTCUSDT", Kind: domain.KindFeatures, Raw: []byte(`not json`)}
	signals, stats, err := f.FeedFeatures([]reader.Row{bad, featureRow(2000, 5.0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RowsMalformed)
	assert.Len(t, signals, 1)
}

func TestFeedSignals_PassesThroughWithoutCoreAlgorithm(t *testing.T) {
	sig := domain.Signal{
		RunID: "run-1", Symbol: "BTCUSDT", TsMs: 1000,
		SignalID: domain.NewSignalID("run-1", "BTCUSDT", 1000, 1),
		SignalType: domain.SignalBuy, Confirm: true,
	}
	raw, _ := json.Marshal(sig)
	rows := []reader.Row{{TsMs: 1000, Symbol: "BTCUSDT", Kind: domain.KindSignals, Raw: raw}}

	signals, stats, err := FeedSignals(rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RowsProcessed)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].Confirm)
}
