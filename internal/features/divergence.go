package features

import "github.com/sawpanic/ofi-cvd-pipeline/internal/domain"

// DivergenceDetector compares the short-window slope of mid price against
// the slope of fusion_score over divergence.lookback_bars and labels
// bull_div/bear_div/none (spec.md §4.2).
type DivergenceDetector struct {
	lookback int
	prices   []float64
	scores   []float64
}

// NewDivergenceDetector builds a detector over lookbackBars rows.
func NewDivergenceDetector(lookbackBars int) *DivergenceDetector {
	if lookbackBars < 2 {
		lookbackBars = 2
	}
	return &DivergenceDetector{lookback: lookbackBars}
}

// Update pushes one (mid, fusion_score) pair and returns the divergence
// label for this row. Prices/scores with fewer than lookback samples
// return DivergenceNone.
func (d *DivergenceDetector) Update(mid, fusionScore float64) domain.DivergenceType {
	d.prices = pushCapped(d.prices, mid, d.lookback)
	d.scores = pushCapped(d.scores, fusionScore, d.lookback)

	if len(d.prices) < d.lookback {
		return domain.DivergenceNone
	}

	priceSlope := slope(d.prices)
	scoreSlope := slope(d.scores)

	switch {
	case priceSlope < 0 && scoreSlope > 0:
		return domain.DivergenceBullish
	case priceSlope > 0 && scoreSlope < 0:
		return domain.DivergenceBearish
	default:
		return domain.DivergenceNone
	}
}

func pushCapped(buf []float64, v float64, cap_ int) []float64 {
	buf = append(buf, v)
	if len(buf) > cap_ {
		buf = buf[len(buf)-cap_:]
	}
	return buf
}

// slope returns the simple first-to-last difference over the series,
// a cheap linear trend proxy sufficient to classify direction.
func slope(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	return series[len(series)-1] - series[0]
}
