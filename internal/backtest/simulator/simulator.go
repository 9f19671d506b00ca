// Package simulator implements the backtest TradeSimulator: the
// entry/exit state machine, fee and slippage models, and the maker/taker
// probability draw described in spec.md §4.7. Grounded on the teacher's
// general state-machine texture (explicit ordered checks, one mutation
// point per tick) plus original_source's TradeSimulator for the exact fee
// and exit-priority semantics.
package simulator

import (
	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/strategy"
)

// TradeSimulator drives one backtest run's position/fee/slippage state
// machine from a stream of Signals, in ts_ms order, one symbol at a time
// or interleaved — state is tracked per symbol so interleaving is safe.
type TradeSimulator struct {
	cfg       config.Config
	runID     string
	emulator  *strategy.Emulator
	positions *PositionManager
}

// New builds a TradeSimulator bound to cfg/runID, applying the given
// gating/quality modes to every tradeability decision.
func New(cfg config.Config, runID string, gatingMode strategy.GatingMode, qualityMode strategy.QualityMode, legacyMode bool) *TradeSimulator {
	return &TradeSimulator{
		cfg:       cfg,
		runID:     runID,
		emulator:  strategy.NewEmulator(gatingMode, qualityMode, legacyMode, cfg.Signal.MinAbsScoreForSide),
		positions: NewPositionManager(),
	}
}

// OnSignal advances the state machine by one tick for sig.Symbol, checking
// exit conditions in spec.md §4.7's fixed order (force_timeout_exit,
// stop_loss, take_profit, reverse_signal) before considering a fresh
// entry. Returns zero, one, or two trades (a reversal yields exactly one
// "reverse" record, never two).
func (s *TradeSimulator) OnSignal(sig domain.Signal) []domain.Trade {
	var trades []domain.Trade

	side, haveSide := strategy.DecideSide(sig, s.cfg.Signal.MinAbsScoreForSide)
	if haveSide {
		s.positions.RecordSignal(sig.Symbol, toPositionSide(side))
	}

	pos, entryFeeBps, open := s.positions.Get(sig.Symbol)
	if open {
		if exitTrade, closed := s.checkExit(sig, pos, entryFeeBps); closed {
			trades = append(trades, exitTrade)
			s.positions.Close(sig.Symbol, sig.TsMs)

			canTrade, _ := s.emulator.ShouldTrade(sig)
			if exitTrade.Reason == domain.ReasonReverse && canTrade && haveSide {
				entry := s.openPosition(sig, side)
				trades = append(trades, entry)
			}
			return trades
		}
		return trades
	}

	canTrade, _ := s.emulator.ShouldTrade(sig)
	if canTrade && haveSide {
		trades = append(trades, s.openPosition(sig, side))
	}
	return trades
}

// checkExit evaluates the four per-tick exit reasons in spec.md §4.7
// order, returning the first one that fires.
func (s *TradeSimulator) checkExit(sig domain.Signal, pos domain.Position, entryFeeBps float64) (domain.Trade, bool) {
	holdSec := float64(sig.TsMs-pos.EntryTsMs) / 1000.0
	unrealizedBps := unrealizedBps(pos, sig.MidPx)

	switch {
	case s.cfg.Backtest.MaxHoldTimeSec > 0 && holdSec >= s.cfg.Backtest.MaxHoldTimeSec:
		return s.closePosition(sig, pos, entryFeeBps, domain.ReasonTimeout, holdSec), true

	case s.cfg.Backtest.StopLossBps != nil && unrealizedBps <= -*s.cfg.Backtest.StopLossBps:
		return s.closePosition(sig, pos, entryFeeBps, domain.ReasonStopLoss, holdSec), true

	case s.cfg.Backtest.TakeProfitBps != nil && unrealizedBps >= *s.cfg.Backtest.TakeProfitBps &&
		holdSec >= s.cfg.Backtest.MinHoldTimeSec:
		return s.closePosition(sig, pos, entryFeeBps, domain.ReasonTakeProfit, holdSec), true

	default:
		side, haveSide := strategy.DecideSide(sig, s.cfg.Signal.MinAbsScoreForSide)
		canTrade, _ := s.emulator.ShouldTrade(sig)
		if s.cfg.Backtest.ReverseOnSignal && canTrade && haveSide &&
			toPositionSide(side) != pos.Side && holdSec >= s.cfg.Backtest.MinHoldTimeSec {
			return s.closePosition(sig, pos, entryFeeBps, domain.ReasonReverse, holdSec), true
		}
	}
	return domain.Trade{}, false
}

// RolloverClose force-closes every open position at the end of a backtest
// window (spec.md §4.7 step 5). The close keeps the position's own side;
// the reason is rollover_close when a signal has been recorded for the
// symbol and timeout otherwise. That signal's side is not consulted.
func (s *TradeSimulator) RolloverClose(endTsMs int64, lastMidBySymbol map[string]float64) []domain.Trade {
	var trades []domain.Trade
	for _, symbol := range s.positions.AllOpenSymbols() {
		pos, entryFeeBps, ok := s.positions.Get(symbol)
		if !ok {
			continue
		}
		mid, haveMid := lastMidBySymbol[symbol]
		if !haveMid {
			mid = pos.EntryPx
		}
		holdSec := float64(endTsMs-pos.EntryTsMs) / 1000.0
		reason := domain.ReasonTimeout
		if _, have := s.positions.LastSignalSide(symbol); have {
			reason = domain.ReasonRolloverClose
		}
		sig := domain.Signal{Symbol: symbol, TsMs: endTsMs, MidPx: mid}
		trades = append(trades, s.closePosition(sig, pos, entryFeeBps, reason, holdSec))
		s.positions.Close(symbol, endTsMs)
	}
	return trades
}

func (s *TradeSimulator) openPosition(sig domain.Signal, side strategy.Side) domain.Trade {
	posSide := toPositionSide(side)
	qty := s.cfg.Backtest.NotionalPerTrade / sig.MidPx
	slip := slippageBps(s.cfg, qty)

	sign := 1.0
	if posSide == domain.PositionShort {
		sign = -1.0
	}
	execPx := sig.MidPx * (1 + sign*slip/10000.0)

	feeResult := ComputeFee(s.cfg, s.runID, sig.TsMs, sig.Symbol, posSide, s.cfg.Backtest.NotionalPerTrade, sig.SpreadBps, sig.Scenario)
	fee := feeResult.FeeBps / 10000.0 * s.cfg.Backtest.NotionalPerTrade

	s.positions.Open(domain.Position{
		Symbol:    sig.Symbol,
		Side:      posSide,
		Qty:       qty,
		EntryPx:   execPx,
		EntryTsMs: sig.TsMs,
		Notional:  s.cfg.Backtest.NotionalPerTrade,
	}, feeResult.FeeBps)

	return domain.Trade{
		TsMs:            sig.TsMs,
		Symbol:          sig.Symbol,
		Side:            posSide,
		Reason:          domain.ReasonEntry,
		ExecPx:          execPx,
		Qty:             qty,
		Fee:             fee,
		SlippageBps:     slip,
		Scenario2x2:     sig.Scenario,
		MakerProbability: feeResult.MakerProbability,
		IsMakerActual:   feeResult.IsMakerActual,
	}
}

func (s *TradeSimulator) closePosition(sig domain.Signal, pos domain.Position, entryFeeBps float64, reason domain.TradeReason, holdSec float64) domain.Trade {
	qty := pos.Qty
	slip := slippageBps(s.cfg, qty)

	sign := -1.0
	if pos.Side == domain.PositionShort {
		sign = 1.0
	}
	execPx := sig.MidPx * (1 + sign*slip/10000.0)

	exitFeeResult := ComputeFee(s.cfg, s.runID, sig.TsMs, sig.Symbol, oppositeSide(pos.Side), pos.Notional, sig.SpreadBps, sig.Scenario)
	exitFee := exitFeeResult.FeeBps / 10000.0 * pos.Notional
	entryFee := entryFeeBps / 10000.0 * pos.Notional

	dirSign := 1.0
	if pos.Side == domain.PositionShort {
		dirSign = -1.0
	}
	grossPnL := dirSign * (execPx - pos.EntryPx) * qty
	netPnL := grossPnL - entryFee - exitFee

	return domain.Trade{
		TsMs:            sig.TsMs,
		Symbol:          sig.Symbol,
		Side:            pos.Side,
		Reason:          reason,
		ExecPx:          execPx,
		Qty:             qty,
		Fee:             exitFee,
		SlippageBps:     slip,
		GrossPnL:        grossPnL,
		NetPnL:          netPnL,
		Scenario2x2:     sig.Scenario,
		HoldTimeSec:     holdSec,
		MakerProbability: exitFeeResult.MakerProbability,
		IsMakerActual:   exitFeeResult.IsMakerActual,
	}
}

func unrealizedBps(pos domain.Position, mid float64) float64 {
	sign := 1.0
	if pos.Side == domain.PositionShort {
		sign = -1.0
	}
	return sign * (mid - pos.EntryPx) / pos.EntryPx * 10000.0
}

func toPositionSide(s strategy.Side) domain.PositionSide {
	if s == strategy.SideSell {
		return domain.PositionShort
	}
	return domain.PositionLong
}

func oppositeSide(s domain.PositionSide) domain.PositionSide {
	if s == domain.PositionLong {
		return domain.PositionShort
	}
	return domain.PositionLong
}
