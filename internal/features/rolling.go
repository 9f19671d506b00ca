// Package features implements the FeaturePipe: OFI, CVD, fusion, quality,
// and divergence computation per spec.md §4.2, owning one instance of
// rolling state (ring buffers, EMAs) per symbol per spec.md §3's
// ownership note.
package features

import "math"

// sample is one timestamped scalar observation kept in a sliding window.
type sample struct {
	tsMs  int64
	value float64
}

// slidingWindow is a deque-backed rolling window over a time span in
// milliseconds, used for both the OFI/CVD accumulation window and the
// longer z-score normalization window.
type slidingWindow struct {
	windowMs int64
	buf      []sample
}

func newSlidingWindow(windowMs int64) *slidingWindow {
	return &slidingWindow{windowMs: windowMs}
}

// Add appends a sample and evicts anything older than windowMs relative
// to tsMs.
func (w *slidingWindow) Add(tsMs int64, value float64) {
	w.buf = append(w.buf, sample{tsMs: tsMs, value: value})
	w.evict(tsMs)
}

func (w *slidingWindow) evict(tsMs int64) {
	cut := tsMs - w.windowMs
	i := 0
	for i < len(w.buf) && w.buf[i].tsMs < cut {
		i++
	}
	if i > 0 {
		w.buf = append(w.buf[:0], w.buf[i:]...)
	}
}

// Sum returns the sum of samples currently in the window.
func (w *slidingWindow) Sum() float64 {
	var s float64
	for _, sm := range w.buf {
		s += sm.value
	}
	return s
}

// Len returns the number of samples currently retained.
func (w *slidingWindow) Len() int { return len(w.buf) }

// Last returns the most recently added value, or 0 if empty.
func (w *slidingWindow) Last() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.buf[len(w.buf)-1].value
}

// MeanStd returns the population mean and standard deviation of the
// values currently retained.
func (w *slidingWindow) MeanStd() (mean, std float64) {
	n := len(w.buf)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, sm := range w.buf {
		sum += sm.value
	}
	mean = sum / float64(n)
	var variance float64
	for _, sm := range w.buf {
		d := sm.value - mean
		variance += d * d
	}
	variance /= float64(n)
	std = math.Sqrt(variance)
	return mean, std
}

// zscore computes a z-score against the window's own distribution,
// returning 0 when the window holds too little history to normalize
// against (caller should treat this as "warmup" via minSamples).
func zscore(w *slidingWindow, x float64, minSamples int) (z float64, warm bool) {
	if w.Len() < minSamples {
		return 0, true
	}
	mean, std := w.MeanStd()
	if std < 1e-12 {
		return 0, false
	}
	return (x - mean) / std, false
}

// ema is a single exponential moving average accumulator.
type ema struct {
	alpha   float64
	value   float64
	primed  bool
}

func newEMA(alpha float64) *ema { return &ema{alpha: alpha} }

func (e *ema) Update(x float64) float64 {
	if !e.primed {
		e.value = x
		e.primed = true
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}
