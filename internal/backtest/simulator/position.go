package simulator

import "github.com/sawpanic/ofi-cvd-pipeline/internal/domain"

// symbolPosition is one symbol's position-manager state: the currently
// open position (nil if flat), plus the bookkeeping spec.md §4.7 names
// explicitly (cooldown_deadline, last_trade_ts, last_direction).
type symbolPosition struct {
	open             *domain.Position
	entryFeeBps      float64
	lastSignalSide   domain.PositionSide
	haveLastSignal   bool
	cooldownDeadline int64
	lastTradeTsMs    int64
	lastDirection    int // -1, 0, +1
}

// PositionManager tracks at most one open position per symbol.
type PositionManager struct {
	bySymbol map[string]*symbolPosition
}

// NewPositionManager builds an empty manager.
func NewPositionManager() *PositionManager {
	return &PositionManager{bySymbol: make(map[string]*symbolPosition)}
}

func (m *PositionManager) stateFor(symbol string) *symbolPosition {
	s, ok := m.bySymbol[symbol]
	if !ok {
		s = &symbolPosition{}
		m.bySymbol[symbol] = s
	}
	return s
}

// Open records a new position, computed by the caller.
func (m *PositionManager) Open(pos domain.Position, entryFeeBps float64) {
	s := m.stateFor(pos.Symbol)
	p := pos
	s.open = &p
	s.entryFeeBps = entryFeeBps
	s.lastTradeTsMs = pos.EntryTsMs
	s.lastDirection = directionOf(pos.Side)
}

// Close clears the open position for symbol.
func (m *PositionManager) Close(symbol string, tsMs int64) {
	s := m.stateFor(symbol)
	s.open = nil
	s.lastTradeTsMs = tsMs
}

// Get returns the open position for symbol, if any.
func (m *PositionManager) Get(symbol string) (domain.Position, float64, bool) {
	s := m.stateFor(symbol)
	if s.open == nil {
		return domain.Position{}, 0, false
	}
	return *s.open, s.entryFeeBps, true
}

// RecordSignal remembers the most recent signal side seen for symbol;
// RolloverClose uses only whether one was recorded, to pick
// rollover_close over timeout as the exit reason.
func (m *PositionManager) RecordSignal(symbol string, side domain.PositionSide) {
	s := m.stateFor(symbol)
	s.lastSignalSide = side
	s.haveLastSignal = true
}

// LastSignalSide returns the last recorded signal side for symbol.
func (m *PositionManager) LastSignalSide(symbol string) (domain.PositionSide, bool) {
	s := m.stateFor(symbol)
	return s.lastSignalSide, s.haveLastSignal
}

// AllOpenSymbols returns every symbol currently holding an open position,
// used when the backtest window ends and rollover_close must run.
func (m *PositionManager) AllOpenSymbols() []string {
	var out []string
	for sym, s := range m.bySymbol {
		if s.open != nil {
			out = append(out, sym)
		}
	}
	return out
}

func directionOf(side domain.PositionSide) int {
	if side == domain.PositionLong {
		return 1
	}
	return -1
}
