// Package domain holds the core data model shared across the pipeline:
// raw events, aligned feature rows, signals, and backtest positions/trades.
package domain

// EventKind distinguishes the three raw event shapes the aligner consumes.
type EventKind string

const (
	EventTrade      EventKind = "trade"
	EventBookTicker EventKind = "bookTicker"
	EventDepth      EventKind = "depth"
)

// Side is a trade aggressor side or order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceLevel is one (price, size) entry on a depth side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Event is a raw ingestion event for one symbol. Only the fields relevant
// to Kind are populated; the rest are zero.
type Event struct {
	Kind   EventKind
	Symbol string
	TsMs   int64

	// Trade fields.
	TradePrice float64
	TradeQty   float64
	TradeSide  Side

	// BookTicker fields.
	BestBid     float64
	BestAsk     float64
	BestBidSize float64
	BestAskSize float64

	// Depth fields (index 0 is top of book).
	Bids []PriceLevel
	Asks []PriceLevel
}

// Valid reports whether an event carries enough data to be processed. It
// does not validate business-level ranges, only shape.
func (e Event) Valid() bool {
	switch e.Kind {
	case EventTrade:
		return e.TradeQty > 0 && e.TradePrice > 0 && (e.TradeSide == SideBuy || e.TradeSide == SideSell)
	case EventBookTicker:
		return e.BestBid > 0 && e.BestAsk > 0 && e.BestAsk >= e.BestBid
	case EventDepth:
		return len(e.Bids) > 0 || len(e.Asks) > 0
	default:
		return false
	}
}
