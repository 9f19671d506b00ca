package features

// ZMode selects how CVDEngine normalizes its windowed value into a z-score,
// per spec.md §4.2 ("z_mode: delta|cumulative").
type ZMode string

const (
	// ZModeDelta z-scores the windowed delta (sum of signed trade qty
	// inside window_ms), resetting distributional context every window.
	ZModeDelta ZMode = "delta"
	// ZModeCumulative z-scores the running cumulative volume delta series
	// itself, so the z-score reflects deviation of the level, not the
	// flow rate.
	ZModeCumulative ZMode = "cumulative"
)

// CVDEngine maintains one symbol's cumulative-volume-delta rolling state:
// a running signed-volume accumulator, a short window for the delta
// variant, and a longer window for z-score normalization (spec.md §4.2).
type CVDEngine struct {
	mode ZMode

	cumulative float64

	window  *slidingWindow // window_ms accumulation of signed trade qty
	zWindow *slidingWindow // zscore_window normalization history

	minWarmupSamples int

	lastZ    float64
	lastWarm bool
}

// NewCVDEngine builds a CVDEngine. windowMs sizes the short accumulation
// window used by ZModeDelta; zscoreWindowMs sizes the normalization window
// used by both modes.
func NewCVDEngine(mode ZMode, windowMs, zscoreWindowMs int64, minWarmupSamples int) *CVDEngine {
	if mode != ZModeCumulative {
		mode = ZModeDelta
	}
	return &CVDEngine{
		mode:             mode,
		window:           newSlidingWindow(windowMs),
		zWindow:          newSlidingWindow(zscoreWindowMs),
		minWarmupSamples: minWarmupSamples,
		lastWarm:         true,
	}
}

// Trade feeds one signed trade quantity (positive = taker buy, negative =
// taker sell, per the Side convention resolved by the caller) and returns
// the updated CVD z-score.
func (c *CVDEngine) Trade(tsMs int64, signedQty float64) (cvdZ float64, warm bool) {
	c.cumulative += signedQty
	c.window.Add(tsMs, signedQty)

	switch c.mode {
	case ZModeCumulative:
		c.zWindow.Add(tsMs, c.cumulative)
		c.lastZ, c.lastWarm = zscore(c.zWindow, c.cumulative, c.minWarmupSamples)
	default:
		windowed := c.window.Sum()
		c.zWindow.Add(tsMs, windowed)
		c.lastZ, c.lastWarm = zscore(c.zWindow, windowed, c.minWarmupSamples)
	}
	return c.lastZ, c.lastWarm
}

// Cumulative returns the running (never-reset) cumulative volume delta.
func (c *CVDEngine) Cumulative() float64 { return c.cumulative }

// LastZ returns the most recently computed z-score and its warmup state.
func (c *CVDEngine) LastZ() (float64, bool) { return c.lastZ, c.lastWarm }
