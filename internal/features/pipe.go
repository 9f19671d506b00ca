package features

import (
	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// minWarmupSamples is the minimum number of z-score-window samples
// required before a component is considered primed, per spec.md §4.2's
// "Warmup" rule. Chosen conservatively relative to the default
// zscore_window/window_ms ratios in config.Default().
const minWarmupSamples = 10

// FeaturePipe owns one symbol's OFI/CVD/fusion/divergence/regime rolling
// state and turns raw depth/trade events plus per-second AlignedFeatureRows
// from the Aligner into fully enriched rows, per spec.md §4.2. One
// instance is owned by exactly one goroutine, matching the Aligner's
// single-threaded-per-symbol contract.
type FeaturePipe struct {
	symbol string

	ofi    *OFIEngine
	cvd    *CVDEngine
	fuser  *Fuser
	div    *DivergenceDetector
	regime *RegimeClassifier

	tradeThisSecond bool
}

// NewFeaturePipe builds a FeaturePipe for one symbol from the loaded config.
func NewFeaturePipe(symbol string, cfg config.Config) *FeaturePipe {
	oc := cfg.Components.OFI
	cc := cfg.Components.CVD
	fc := cfg.Components.Fusion
	dc := cfg.Components.Divergence
	rc := cfg.Components.Regime

	return &FeaturePipe{
		symbol: symbol,
		ofi:    NewOFIEngine(oc.Levels, oc.Weights, oc.EMAAlpha, oc.WindowMs, oc.ZScoreWindow, minWarmupSamples),
		cvd:    NewCVDEngine(ZMode(cc.ZMode), cc.WindowMs, oc.ZScoreWindow, minWarmupSamples),
		fuser:  NewFuser(FusionMethod(fc.Method), fc.WOfi, fc.WCvd),
		div:    NewDivergenceDetector(dc.LookbackBars),
		regime: NewRegimeClassifier(rc.ActivityWindowBars, rc.ActivityHighQuantile, rc.SpreadHighBps),
	}
}

// OnEvent feeds one raw trade or depth event into the OFI/CVD rolling
// state. BookTicker-only streams never update OFI (spec.md §4.2: "Missing
// depth -> OFI not updated but CVD may still progress").
func (p *FeaturePipe) OnEvent(e domain.Event) {
	if e.Symbol != p.symbol || !e.Valid() {
		return
	}
	switch e.Kind {
	case domain.EventTrade:
		signedQty := e.TradeQty
		if e.TradeSide == domain.SideSell {
			signedQty = -signedQty
		}
		p.cvd.Trade(e.TsMs, signedQty)
		p.tradeThisSecond = true
	case domain.EventDepth:
		bidSizes := make([]float64, len(e.Bids))
		askSizes := make([]float64, len(e.Asks))
		for i, lvl := range e.Bids {
			bidSizes[i] = lvl.Size
		}
		for i, lvl := range e.Asks {
			askSizes[i] = lvl.Size
		}
		p.ofi.DepthUpdate(e.TsMs, bidSizes, askSizes)
	}
}

// Enrich fills z_ofi/z_cvd/fusion_score/consistency/sign_agree/regime/
// scenario_2x2/div_type/warmup/quality_tier/quality_flags onto row using
// the pipe's current rolling state, and returns the enriched row. Call
// once per second, after all events belonging to that second have been
// fed through OnEvent.
func (p *FeaturePipe) Enrich(row domain.AlignedFeatureRow) domain.AlignedFeatureRow {
	zOFI, ofiWarm := p.ofi.LastZ()
	zCVD, cvdWarm := p.cvd.LastZ()
	row.ZOFI = zOFI
	row.ZCVD = zCVD

	score, consistency, signAgree := p.fuser.Combine(zOFI, zCVD)
	row.FusionScore = score
	row.Consistency = consistency
	row.SignAgree = signAgree

	intensity := 0.0
	if p.tradeThisSecond {
		intensity = 1.0
	}
	spreadKnown := !row.HasReasonCode("no_price")
	row.Regime, row.Scenario = p.regime.Classify(intensity, row.SpreadBps, spreadKnown)
	p.tradeThisSecond = false

	if spreadKnown {
		row.DivType = p.div.Update(row.Mid, row.FusionScore)
	} else {
		row.DivType = domain.DivergenceNone
	}

	row.Warmup = ofiWarm || cvdWarm

	row.QualityTier = classifyQuality(row)
	if row.Consistency < 0 {
		row.QualityFlags = append(row.QualityFlags, domain.QualityFlagLowConsistency)
	}

	return row
}

// classifyQuality buckets a row's overall confidence from consistency and
// sign agreement, a coarse tri-level summary consumed by the strategy
// policy's quality-mode gating.
func classifyQuality(row domain.AlignedFeatureRow) domain.QualityTier {
	switch {
	case row.Warmup:
		return domain.QualityWeak
	case row.SignAgree && row.Consistency >= 0.5:
		return domain.QualityStrong
	case row.SignAgree:
		return domain.QualityNormal
	default:
		return domain.QualityWeak
	}
}
