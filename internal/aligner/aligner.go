// Package aligner synchronizes per-symbol trade and order-book event
// streams onto one AlignedFeatureRow per integer second, using
// last-value-carry-forward and annotating gap/lag metadata, per spec.md
// §4.1. One Aligner instance owns exactly one symbol's state and must
// only be driven from a single goroutine (spec.md §5's "strictly
// single-threaded per symbol").
package aligner

import (
	"math"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// Stats accumulates the failure counters spec.md §4.1/§7 require the
// aligner to track without aborting the stream.
type Stats struct {
	MalformedDropped   int
	OutOfOrderDropped  int
}

// runningMean is a streaming mean accumulator (Welford-style, single pass).
type runningMean struct {
	n    int64
	mean float64
}

func (r *runningMean) add(x float64) {
	r.n++
	r.mean += (x - r.mean) / float64(r.n)
}

// Aligner holds one symbol's rolling last-observation state.
type Aligner struct {
	symbol          string
	gapThresholdSec int64

	started    bool
	headSecond int64 // last second already emitted

	haveBook    bool
	bestBid     float64
	bestAsk     float64
	bestBidSize float64
	bestAskSize float64

	lastBookObsMs  int64
	lastTradeObsMs int64

	bookGapMean  runningMean
	tradeGapMean runningMean

	obsSeconds map[int64]bool

	stats Stats
}

// New creates an Aligner for one symbol. gapThresholdSec is the number of
// consecutive silent seconds after which a row is additionally flagged
// with the "gap" quality flag (spec.md §4.1).
func New(symbol string, gapThresholdSec int64) *Aligner {
	return &Aligner{
		symbol:          symbol,
		gapThresholdSec: gapThresholdSec,
		obsSeconds:      make(map[int64]bool),
	}
}

// Stats returns a snapshot of the failure counters.
func (a *Aligner) Stats() Stats { return a.stats }

// Feed ingests one raw event for this symbol, updating last-observation
// state. It does not itself emit rows — call EmitThrough to drive
// row emission forward once the caller knows no earlier event remains
// unprocessed.
func (a *Aligner) Feed(e domain.Event) {
	if !e.Valid() || e.Symbol != a.symbol {
		a.stats.MalformedDropped++
		return
	}
	sec := e.TsMs / 1000

	if !a.started {
		a.headSecond = sec - 1
		a.started = true
	} else if sec < a.headSecond {
		// More than one second behind the current aligner head.
		a.stats.OutOfOrderDropped++
		return
	}

	a.obsSeconds[sec] = true

	switch e.Kind {
	case domain.EventTrade:
		if a.lastTradeObsMs > 0 {
			a.tradeGapMean.add(float64(e.TsMs - a.lastTradeObsMs))
		}
		a.lastTradeObsMs = e.TsMs
	case domain.EventBookTicker:
		a.bestBid, a.bestAsk = e.BestBid, e.BestAsk
		a.bestBidSize, a.bestAskSize = e.BestBidSize, e.BestAskSize
		a.haveBook = true
		if a.lastBookObsMs > 0 {
			a.bookGapMean.add(float64(e.TsMs - a.lastBookObsMs))
		}
		a.lastBookObsMs = e.TsMs
	case domain.EventDepth:
		updated := false
		if len(e.Bids) > 0 {
			a.bestBid, a.bestBidSize = e.Bids[0].Price, e.Bids[0].Size
			updated = true
		}
		if len(e.Asks) > 0 {
			a.bestAsk, a.bestAskSize = e.Asks[0].Price, e.Asks[0].Size
			updated = true
		}
		if updated {
			a.haveBook = true
			if a.lastBookObsMs > 0 {
				a.bookGapMean.add(float64(e.TsMs - a.lastBookObsMs))
			}
			a.lastBookObsMs = e.TsMs
		}
	}
}

// EmitThrough emits one AlignedFeatureRow for every second in
// (headSecond, through], using the last-value-carry-forward state
// accumulated by Feed. Rows are returned in non-decreasing second_ts
// order, matching the Aligner contract in spec.md §4.1. Call this after
// feeding every event whose second is <= through, and before feeding any
// event belonging to a later second.
func (a *Aligner) EmitThrough(through int64) []domain.AlignedFeatureRow {
	if !a.started || through <= a.headSecond {
		return nil
	}
	rows := make([]domain.AlignedFeatureRow, 0, through-a.headSecond)
	for s := a.headSecond + 1; s <= through; s++ {
		rows = append(rows, a.buildRow(s))
	}
	a.headSecond = through
	for k := range a.obsSeconds {
		if k <= through {
			delete(a.obsSeconds, k)
		}
	}
	return rows
}

func (a *Aligner) buildRow(second int64) domain.AlignedFeatureRow {
	secondEndMs := (second + 1) * 1000

	row := domain.AlignedFeatureRow{
		Symbol:      a.symbol,
		SecondTs:    second,
		TsMs:        secondEndMs,
		IsGapSecond: !a.obsSeconds[second],
	}

	if a.haveBook && a.bestBid > 0 && a.bestAsk > 0 && a.bestAsk >= a.bestBid {
		row.BestBid = a.bestBid
		row.BestAsk = a.bestAsk
		row.Mid = (a.bestBid + a.bestAsk) / 2
		row.SpreadBps = (a.bestAsk - a.bestBid) / row.Mid * 10000
	} else {
		row.Mid = math.NaN()
		row.SpreadBps = math.NaN()
		row.ReasonCodes = append(row.ReasonCodes, "no_price")
	}

	if a.lastTradeObsMs > 0 {
		row.LagMsPrice = float64(secondEndMs - a.lastTradeObsMs)
	} else {
		row.LagMsPrice = math.Inf(1)
		row.ReasonCodes = append(row.ReasonCodes, "no_trade_obs")
	}
	if a.lastBookObsMs > 0 {
		row.LagMsBook = float64(secondEndMs - a.lastBookObsMs)
	} else {
		row.LagMsBook = math.Inf(1)
		row.ReasonCodes = append(row.ReasonCodes, "no_book_obs")
	}
	row.ObsGapMsPriceAvg = a.tradeGapMean.mean
	row.ObsGapMsBookAvg = a.bookGapMean.mean

	if row.IsGapSecond && a.gapThresholdSec > 0 {
		// Count the silent run only if the lag on either source already
		// exceeds the configured threshold.
		if row.LagMsPrice >= float64(a.gapThresholdSec*1000) || row.LagMsBook >= float64(a.gapThresholdSec*1000) {
			row.QualityFlags = append(row.QualityFlags, domain.QualityFlagGap)
		}
	}

	return row
}

// Run drives events (assumed pre-sorted/merged across sources by TsMs, as
// the k-way heap merge in internal/backtest/reader produces) through one
// Aligner and returns every emitted row plus final stats. It is a
// convenience for batch/offline use such as the tests; a caller that
// streams events calls Feed/EmitThrough directly per event.
func Run(symbol string, gapThresholdSec int64, events []domain.Event) ([]domain.AlignedFeatureRow, Stats) {
	a := New(symbol, gapThresholdSec)
	var rows []domain.AlignedFeatureRow
	for _, e := range events {
		sec := e.TsMs / 1000
		if a.started && sec > a.headSecond {
			rows = append(rows, a.EmitThrough(sec-1)...)
		}
		a.Feed(e)
	}
	if a.started {
		rows = append(rows, a.EmitThrough(a.headSecond+1)...)
	}
	return rows, a.Stats()
}
