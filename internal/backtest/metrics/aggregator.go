// Package metrics implements the backtest MetricsAggregator: it pairs
// entry/exit trades into closed round trips and computes the overall and
// per-symbol/per-hour/per-scenario metric breakdowns named in spec.md
// §4.8, grounded on the teacher's internal/backtest/smoke90 aggregation
// style (per-bucket breakdown structs, sqrt-based stddev annualization).
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

const tradingDaysPerYear = 252

// RoundTrip is one closed entry+exit pair.
type RoundTrip struct {
	Symbol      string
	Scenario    domain.Scenario2x2
	EntryTsMs   int64
	ExitTsMs    int64
	NetPnL      float64
	GrossPnL    float64
	Fee         float64
	SlippageCost float64
	Turnover    float64
	HoldTimeSec float64
}

// PairRoundTrips walks trades in chronological order per symbol, matching
// each entry with the next trade for that symbol (its exit, possibly a
// reverse-exit leg), per spec.md §8's "unique prior entry trade" property.
// An entry with no matching exit (position open at end-of-run, before
// RolloverClose runs) is dropped, matching "avg_hold_sec only counts
// closed pairs".
func PairRoundTrips(trades []domain.Trade) []RoundTrip {
	pending := make(map[string]domain.Trade)
	var trips []RoundTrip

	for _, t := range trades {
		if t.Reason == domain.ReasonEntry {
			pending[t.Symbol] = t
			continue
		}
		entry, ok := pending[t.Symbol]
		if !ok {
			continue
		}
		delete(pending, t.Symbol)

		trips = append(trips, RoundTrip{
			Symbol:      t.Symbol,
			Scenario:    t.Scenario2x2,
			EntryTsMs:   entry.TsMs,
			ExitTsMs:    t.TsMs,
			NetPnL:      t.NetPnL,
			GrossPnL:    t.GrossPnL,
			Fee:         entry.Fee + t.Fee,
			SlippageCost: notionalOf(entry) * entry.SlippageBps / 10000.0,
			Turnover:    notionalOf(entry) + notionalOf(t),
			HoldTimeSec: t.HoldTimeSec,
		})
	}

	sort.Slice(trips, func(i, j int) bool { return trips[i].ExitTsMs < trips[j].ExitTsMs })
	return trips
}

func notionalOf(t domain.Trade) float64 { return t.Qty * t.ExecPx }

// Metrics is the overall or per-bucket computed metric set spec.md §4.8
// names.
type Metrics struct {
	TotalPnL       float64 `json:"total_pnl"`
	TotalFee       float64 `json:"total_fee"`
	TotalSlippage  float64 `json:"total_slippage"`
	TotalTurnover  float64 `json:"total_turnover"`
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
	AvgHoldSec     float64 `json:"avg_hold_sec"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MAR            float64 `json:"mar"`
	CostBpsOnTurnover float64 `json:"cost_bps_on_turnover"`
}

// Compute builds a Metrics from a set of closed round trips, aggregating
// daily PnL (UTC calendar day of EntryTsMs) for the Sharpe/Sortino/
// max-drawdown/MAR calculations.
func Compute(trips []RoundTrip) Metrics {
	if len(trips) == 0 {
		return Metrics{}
	}

	var m Metrics
	wins := 0
	for _, tr := range trips {
		m.TotalPnL += tr.NetPnL
		m.TotalFee += tr.Fee
		m.TotalSlippage += tr.SlippageCost
		m.TotalTurnover += tr.Turnover
		m.AvgHoldSec += tr.HoldTimeSec
		if tr.NetPnL > 0 {
			wins++
		}
	}
	m.TotalTrades = len(trips)
	m.WinRate = float64(wins) / float64(len(trips))
	m.AvgHoldSec /= float64(len(trips))

	if m.TotalTurnover > 0 {
		m.CostBpsOnTurnover = (m.TotalFee + m.TotalSlippage) / m.TotalTurnover * 10000.0
	}

	daily := DailyPnL(trips)
	returns := make([]float64, len(daily))
	for i, d := range daily {
		returns[i] = d.NetPnL
	}

	mean, stddev := meanStddev(returns)
	if stddev > 0 {
		m.Sharpe = mean / stddev * math.Sqrt(tradingDaysPerYear)
	}
	downside := downsideDeviation(returns)
	if downside > 0 {
		m.Sortino = mean / downside * math.Sqrt(tradingDaysPerYear)
	}

	m.MaxDrawdown = maxDrawdown(returns)
	annualReturn := mean * tradingDaysPerYear
	switch {
	case m.MaxDrawdown == 0 && annualReturn > 0:
		m.MAR = math.Inf(1)
	case m.MaxDrawdown == 0:
		m.MAR = 0
	default:
		m.MAR = annualReturn / m.MaxDrawdown
	}

	return m
}

// DailyPnLRecord is one pnl_daily.jsonl row.
type DailyPnLRecord struct {
	Date   string  `json:"date"`
	NetPnL float64 `json:"net_pnl"`
	Trades int     `json:"trades"`
}

// DailyPnL buckets round trips by the UTC calendar day of their entry and
// sums net PnL, so a trade that spans midnight counts on its entry day.
// The day boundary is always UTC midnight: rollover_timezone and
// rollover_hour are not applied.
func DailyPnL(trips []RoundTrip) []DailyPnLRecord {
	byDay := make(map[string]*DailyPnLRecord)
	var order []string
	for _, tr := range trips {
		day := time.UnixMilli(tr.EntryTsMs).UTC().Format("2006-01-02")
		rec, ok := byDay[day]
		if !ok {
			rec = &DailyPnLRecord{Date: day}
			byDay[day] = rec
			order = append(order, day)
		}
		rec.NetPnL += tr.NetPnL
		rec.Trades++
	}
	sort.Strings(order)
	out := make([]DailyPnLRecord, 0, len(order))
	for _, day := range order {
		out = append(out, *byDay[day])
	}
	return out
}

// ScenarioBreakdown maps each scenario_2x2 bucket to its own Metrics.
func ScenarioBreakdown(trips []RoundTrip) map[domain.Scenario2x2]Metrics {
	byScenario := make(map[domain.Scenario2x2][]RoundTrip)
	for _, tr := range trips {
		byScenario[tr.Scenario] = append(byScenario[tr.Scenario], tr)
	}
	out := make(map[domain.Scenario2x2]Metrics, len(byScenario))
	for scenario, group := range byScenario {
		out[scenario] = Compute(group)
	}
	return out
}

// SymbolBreakdown maps each symbol to its own Metrics.
func SymbolBreakdown(trips []RoundTrip) map[string]Metrics {
	bySymbol := make(map[string][]RoundTrip)
	for _, tr := range trips {
		bySymbol[tr.Symbol] = append(bySymbol[tr.Symbol], tr)
	}
	out := make(map[string]Metrics, len(bySymbol))
	for symbol, group := range bySymbol {
		out[symbol] = Compute(group)
	}
	return out
}

// HourBreakdown maps each UTC hour-of-day (0-23) to its own Metrics.
func HourBreakdown(trips []RoundTrip) map[int]Metrics {
	byHour := make(map[int][]RoundTrip)
	for _, tr := range trips {
		hour := time.UnixMilli(tr.ExitTsMs).UTC().Hour()
		byHour[hour] = append(byHour[hour], tr)
	}
	out := make(map[int]Metrics, len(byHour))
	for hour, group := range byHour {
		out[hour] = Compute(group)
	}
	return out
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(xs)-1))
	return mean, stddev
}

func downsideDeviation(xs []float64) float64 {
	var sq float64
	n := 0
	for _, x := range xs {
		if x < 0 {
			sq += x * x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sq / float64(n))
}

// maxDrawdown computes the largest peak-to-trough drop of the cumulative
// sum of a daily return series.
func maxDrawdown(returns []float64) float64 {
	cum := 0.0
	peak := 0.0
	maxDD := 0.0
	for _, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
