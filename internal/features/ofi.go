package features

import "math"

// DefaultOFILevelWeights returns the geometric-decay default weighting
// over N top-of-book levels (spec.md §4.2: "configurable level weights
// (default geometric decay)"), normalized to sum to 1.
func DefaultOFILevelWeights(levels int, decay float64) []float64 {
	if levels <= 0 {
		levels = 1
	}
	if decay <= 0 || decay >= 1 {
		decay = 0.5
	}
	w := make([]float64, levels)
	var sum float64
	for i := range w {
		w[i] = math.Pow(decay, float64(i))
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// OFIEngine maintains one symbol's order-flow-imbalance rolling state:
// previous top-N level sizes, an EMA of the per-update weighted delta,
// a short accumulation window, and a longer normalization window for the
// z-score (spec.md §4.2).
type OFIEngine struct {
	levels  int
	weights []float64

	prevBid []float64
	prevAsk []float64
	havePrev bool

	emaSmoother *ema
	window      *slidingWindow // window_ms accumulation of EMA'd deltas
	zWindow     *slidingWindow // zscore_window normalization history

	minWarmupSamples int

	lastZ    float64
	lastWarm bool
}

// NewOFIEngine builds an OFIEngine from the configured window sizes.
func NewOFIEngine(levels int, weights []float64, emaAlpha float64, windowMs, zscoreWindowMs int64, minWarmupSamples int) *OFIEngine {
	if len(weights) == 0 {
		weights = DefaultOFILevelWeights(levels, 0.5)
	}
	return &OFIEngine{
		levels:           levels,
		weights:          weights,
		emaSmoother:      newEMA(emaAlpha),
		window:           newSlidingWindow(windowMs),
		zWindow:          newSlidingWindow(zscoreWindowMs),
		minWarmupSamples: minWarmupSamples,
		lastWarm:         true,
	}
}

// DepthUpdate processes one depth snapshot's top-N bid/ask sizes, positionally
// (level i vs level i of the prior snapshot), and returns the z-score of
// the updated, EMA-smoothed, windowed OFI value plus whether the engine
// is warm.
//
// Per spec.md §4.2: "weighted sum over top-N levels of signed change in
// bid/ask size (bid add -> +size, bid remove -> -size; symmetric for ask)".
// An ask-side size increase represents added sell pressure and is
// subtracted; an ask-side size decrease is added back.
func (o *OFIEngine) DepthUpdate(tsMs int64, bidSizes, askSizes []float64) (ofiZ float64, warm bool) {
	bidSizes = padOrTrim(bidSizes, o.levels)
	askSizes = padOrTrim(askSizes, o.levels)

	if !o.havePrev {
		o.prevBid = bidSizes
		o.prevAsk = askSizes
		o.havePrev = true
		o.lastZ, o.lastWarm = 0, true
		return 0, true
	}

	var raw float64
	for i := 0; i < o.levels; i++ {
		bidDelta := bidSizes[i] - o.prevBid[i]
		askDelta := askSizes[i] - o.prevAsk[i]
		raw += o.weights[i] * (bidDelta - askDelta)
	}
	o.prevBid = bidSizes
	o.prevAsk = askSizes

	smoothed := o.emaSmoother.Update(raw)
	o.window.Add(tsMs, smoothed)
	windowed := o.window.Sum()
	o.zWindow.Add(tsMs, windowed)

	o.lastZ, o.lastWarm = zscore(o.zWindow, windowed, o.minWarmupSamples)
	return o.lastZ, o.lastWarm
}

// LastZ returns the most recently computed z-score and its warmup state,
// for callers (the FeaturePipe) that enrich rows on a timer independent
// of depth-update arrival.
func (o *OFIEngine) LastZ() (float64, bool) { return o.lastZ, o.lastWarm }

func padOrTrim(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	return out
}
