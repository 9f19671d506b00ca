package simulator

import "github.com/sawpanic/ofi-cvd-pipeline/internal/config"

// slippageBps resolves the per-fill slippage in bps for cfg's configured
// model. Slippage is embedded into exec_px by the caller and never
// charged again downstream, per spec.md §4.7.
func slippageBps(cfg config.Config, qty float64) float64 {
	switch cfg.Backtest.SlippageModel {
	case config.SlippageLinear:
		return cfg.Backtest.SlippageBps * (1 + qty/cfg.Backtest.NotionalPerTrade)
	case config.SlippagePiecewise:
		return piecewiseSlippageBps(cfg.Backtest.SlippageBps, qty)
	default: // static
		return cfg.Backtest.SlippageBps
	}
}

// piecewiseSlippageBps steps slippage up in three qty-notional bands off
// the configured base rate. spec.md names "piecewise" as an enum value
// without publishing band edges; these bands are a documented design
// choice (see DESIGN.md), not a literal port.
func piecewiseSlippageBps(base, qty float64) float64 {
	switch {
	case qty >= 10:
		return base * 2.5
	case qty >= 1:
		return base * 1.5
	default:
		return base
	}
}
