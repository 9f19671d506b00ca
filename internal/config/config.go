// Package config loads and validates the flat configuration surface
// enumerated in spec.md §6: backtest policy, signal gating thresholds,
// feature-pipe parameters, fee/maker-taker model, sink rotation, and the
// env-var overrides applied once at process startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SlippageModel enumerates backtest.slippage_model.
type SlippageModel string

const (
	SlippageStatic    SlippageModel = "static"
	SlippageLinear    SlippageModel = "linear"
	SlippagePiecewise SlippageModel = "piecewise"
)

// FeeModel enumerates backtest.fee_model.
type FeeModel string

const (
	FeeTakerStatic FeeModel = "taker_static"
	FeeTiered      FeeModel = "tiered"
	FeeMakerTaker  FeeModel = "maker_taker"
)

// SinkMode enumerates V13_SINK.
type SinkMode string

const (
	SinkJSONL  SinkMode = "jsonl"
	SinkSQLite SinkMode = "sqlite"
	SinkDual   SinkMode = "dual"
)

// InputMode enumerates V13_INPUT_MODE.
type InputMode string

const (
	InputRaw     InputMode = "raw"
	InputPreview InputMode = "preview"
)

// GatingMode enumerates the strategy policy's gating mode.
type GatingMode string

const (
	GatingStrict      GatingMode = "strict"
	GatingIgnoreSoft  GatingMode = "ignore_soft"
	GatingIgnoreAll   GatingMode = "ignore_all"
)

// QualityMode enumerates the strategy policy's quality filter.
type QualityMode string

const (
	QualityModeConservative QualityMode = "conservative"
	QualityModeBalanced     QualityMode = "balanced"
	QualityModeAggressive   QualityMode = "aggressive"
	QualityModeAll          QualityMode = "all"
)

// Thresholds holds the per-regime buy/strong_buy/sell/strong_sell cutoffs.
type Thresholds struct {
	Buy       float64 `yaml:"buy"`
	StrongBuy float64 `yaml:"strong_buy"`
	Sell      float64 `yaml:"sell"`
	StrongSell float64 `yaml:"strong_sell"`
}

// SignalConfig mirrors the `signal.*` keys of spec.md §6.
type SignalConfig struct {
	WeakSignalThreshold    float64               `yaml:"weak_signal_threshold"`
	ConsistencyMin         float64               `yaml:"consistency_min"`
	SpreadBpsCap           float64               `yaml:"spread_bps_cap"`
	LagCapSec              float64               `yaml:"lag_cap_sec"`
	DedupeMs               int64                 `yaml:"dedupe_ms"`
	MinConsecutiveSameDir  int                   `yaml:"min_consecutive_same_dir"`
	AdaptiveCooldownK      float64               `yaml:"adaptive_cooldown_k"`
	BaseCooldownMs         int64                 `yaml:"base_cooldown_ms"`
	Thresholds             map[string]Thresholds `yaml:"thresholds"`
	MinAbsScoreForSide     float64               `yaml:"min_abs_score_for_side"`
}

// FusionConfig mirrors `components.fusion.*`.
type FusionConfig struct {
	WOfi            float64 `yaml:"w_ofi"`
	WCvd            float64 `yaml:"w_cvd"`
	Method          string  `yaml:"method"` // "weighted" | "zsum"
	BurstCoalesceMs int64   `yaml:"burst_coalesce_ms"`
}

// OFIConfig mirrors `components.ofi.*`.
type OFIConfig struct {
	WindowMs      int64     `yaml:"window_ms"`
	ZScoreWindow  int64     `yaml:"zscore_window"`
	Levels        int       `yaml:"levels"`
	Weights       []float64 `yaml:"weights"`
	EMAAlpha      float64   `yaml:"ema_alpha"`
}

// CVDConfig mirrors `components.cvd.*`.
type CVDConfig struct {
	WindowMs int64  `yaml:"window_ms"`
	ZMode    string `yaml:"z_mode"` // "delta" | "cumulative"
}

// DivergenceConfig mirrors `components.divergence.*`.
type DivergenceConfig struct {
	LookbackBars int `yaml:"lookback_bars"`
}

// RegimeConfig mirrors `components.regime.*`: the activity-quantile and
// spread-band thresholds behind scenario_2x2 classification.
type RegimeConfig struct {
	ActivityWindowBars  int     `yaml:"activity_window_bars"`
	ActivityHighQuantile float64 `yaml:"activity_high_quantile"`
	SpreadHighBps        float64 `yaml:"spread_high_bps"`
}

// ComponentsConfig groups the feature-pipe sub-configs.
type ComponentsConfig struct {
	Fusion     FusionConfig     `yaml:"fusion"`
	OFI        OFIConfig        `yaml:"ofi"`
	CVD        CVDConfig        `yaml:"cvd"`
	Divergence DivergenceConfig `yaml:"divergence"`
	Regime     RegimeConfig     `yaml:"regime"`
}

// MakerTakerConfig mirrors `fee_maker_taker.*`.
type MakerTakerConfig struct {
	ScenarioProbs          map[string]float64 `yaml:"scenario_probs"`
	SpreadSlope            float64            `yaml:"spread_slope"`
	SpreadThresholdNarrow  float64            `yaml:"spread_threshold_narrow"`
	SpreadThresholdWide    float64            `yaml:"spread_threshold_wide"`
	MakerFeeRatio          float64            `yaml:"maker_fee_ratio"`
	SideBias               map[string]float64 `yaml:"side_bias"`
}

// BacktestConfig mirrors `backtest.*`.
type BacktestConfig struct {
	TakerFeeBps            float64       `yaml:"taker_fee_bps"`
	SlippageBps            float64       `yaml:"slippage_bps"`
	NotionalPerTrade       float64       `yaml:"notional_per_trade"`
	ReverseOnSignal        bool          `yaml:"reverse_on_signal"`
	TakeProfitBps          *float64      `yaml:"take_profit_bps"`
	StopLossBps            *float64      `yaml:"stop_loss_bps"`
	MinHoldTimeSec         float64       `yaml:"min_hold_time_sec"`
	MaxHoldTimeSec         float64       `yaml:"max_hold_time_sec"`
	IgnoreGatingInBacktest bool          `yaml:"ignore_gating_in_backtest"`
	RolloverTimezone       string        `yaml:"rollover_timezone"`
	RolloverHour           int           `yaml:"rollover_hour"`
	SlippageModel          SlippageModel `yaml:"slippage_model"`
	FeeModel               FeeModel      `yaml:"fee_model"`
	MakerFeeBps            float64       `yaml:"maker_fee_bps"`
}

// RotateConfig mirrors `rotate.*`.
type RotateConfig struct {
	MaxRows int `yaml:"max_rows"`
	MaxSec  int `yaml:"max_sec"`
}

// SQLiteConfig mirrors `sqlite.*`.
type SQLiteConfig struct {
	BatchN   int `yaml:"batch_n"`
	FlushMs  int `yaml:"flush_ms"`
}

// Config is the single, immutable-after-load configuration object.
type Config struct {
	Backtest     BacktestConfig   `yaml:"backtest"`
	Signal       SignalConfig     `yaml:"signal"`
	Components   ComponentsConfig `yaml:"components"`
	MakerTaker   MakerTakerConfig `yaml:"fee_maker_taker"`
	Rotate       RotateConfig     `yaml:"rotate"`
	SQLite       SQLiteConfig     `yaml:"sqlite"`
	FsyncEveryN  int              `yaml:"fsync_every_n"`

	RunID       string    `yaml:"-"`
	ReplayMode  bool      `yaml:"-"`
	Sink        SinkMode  `yaml:"-"`
	InputMode   InputMode `yaml:"-"`
}

// Default returns the baseline config with the defaults documented across
// spec.md §6 and original_source/src/alpha_core/backtest/config_schema.py.
func Default() Config {
	return Config{
		Backtest: BacktestConfig{
			TakerFeeBps:            2.0,
			SlippageBps:            1.0,
			NotionalPerTrade:       1000.0,
			ReverseOnSignal:        false,
			IgnoreGatingInBacktest: true,
			RolloverTimezone:       "UTC",
			RolloverHour:           0,
			SlippageModel:          SlippageStatic,
			FeeModel:               FeeTakerStatic,
			MakerFeeBps:            0.0,
		},
		Signal: SignalConfig{
			WeakSignalThreshold:   0.2,
			ConsistencyMin:        0.15,
			SpreadBpsCap:          20,
			LagCapSec:             5,
			DedupeMs:              1000,
			MinConsecutiveSameDir: 2,
			AdaptiveCooldownK:     1.0,
			BaseCooldownMs:        5000,
			MinAbsScoreForSide:    0.1,
			Thresholds: map[string]Thresholds{
				"active": {Buy: 0.6, StrongBuy: 1.2, Sell: -0.6, StrongSell: -1.2},
				"quiet":  {Buy: 0.8, StrongBuy: 1.5, Sell: -0.8, StrongSell: -1.5},
				"base":   {Buy: 0.7, StrongBuy: 1.35, Sell: -0.7, StrongSell: -1.35},
			},
		},
		Components: ComponentsConfig{
			Fusion:     FusionConfig{WOfi: 0.5, WCvd: 0.5, Method: "weighted", BurstCoalesceMs: 250},
			OFI:        OFIConfig{WindowMs: 5000, ZScoreWindow: 300, Levels: 5, EMAAlpha: 0.3},
			CVD:        CVDConfig{WindowMs: 5000, ZMode: "delta"},
			Divergence: DivergenceConfig{LookbackBars: 20},
			Regime:     RegimeConfig{ActivityWindowBars: 60, ActivityHighQuantile: 0.7, SpreadHighBps: 10},
		},
		MakerTaker: MakerTakerConfig{
			ScenarioProbs:         map[string]float64{"A_H": 0.3, "A_L": 0.5, "Q_H": 0.4, "Q_L": 0.6, "default": 0.45},
			SpreadSlope:           0.5,
			SpreadThresholdNarrow: 2.0,
			SpreadThresholdWide:   20.0,
			MakerFeeRatio:         0.5,
			SideBias:              map[string]float64{"buy": 1.0, "sell": 1.0},
		},
		Rotate:      RotateConfig{MaxRows: 50000, MaxSec: 3600},
		SQLite:      SQLiteConfig{BatchN: 500, FlushMs: 2000},
		FsyncEveryN: 100,
		Sink:        SinkDual,
		InputMode:   InputRaw,
	}
}

// Load reads and parses a YAML config file over the defaults, then applies
// env overrides and validates. Matches internal/config/guards.go's
// read-then-yaml.Unmarshal-then-wrap pattern from the teacher repo.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config YAML %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(&cfg, os.Environ())
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation error: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides mirrors config_schema.py's env_mapping table: each
// recognized env var is type-coerced into the matching config field,
// taking priority over whatever the YAML file set.
func ApplyEnvOverrides(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	if v, ok := lookup("RUN_ID"); ok {
		cfg.RunID = v
	}
	if v, ok := lookup("V13_REPLAY_MODE"); ok {
		cfg.ReplayMode = parseBool(v)
	}
	if v, ok := lookup("V13_SINK"); ok {
		cfg.Sink = SinkMode(v)
	}
	if v, ok := lookup("V13_INPUT_MODE"); ok {
		cfg.InputMode = InputMode(v)
	}
	if v, ok := lookup("ROLLOVER_TZ"); ok {
		cfg.Backtest.RolloverTimezone = v
	}
	if v, ok := lookup("ROLLOVER_HOUR"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.RolloverHour = n
		}
	}
	if v, ok := lookup("TAKER_FEE_BPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.TakerFeeBps = f
		}
	}
	if v, ok := lookup("SLIPPAGE_BPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.SlippageBps = f
		}
	}
	if v, ok := lookup("NOTIONAL_PER_TRADE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.NotionalPerTrade = f
		}
	}
	if v, ok := lookup("IGNORE_GATING"); ok {
		cfg.Backtest.IgnoreGatingInBacktest = parseBool(v)
	}
	if v, ok := lookup("SQLITE_BATCH_N"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SQLite.BatchN = n
		}
	}
	if v, ok := lookup("SQLITE_FLUSH_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SQLite.FlushMs = n
		}
	}
	if v, ok := lookup("FSYNC_EVERY_N"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncEveryN = n
		}
	}
}

// parseBool matches config_schema.py's "true/1/yes" (case-insensitive)
// boolean coercion.
func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Validate checks enum membership and cross-field constraints. Failures
// here are fatal at startup per spec.md §7.
func Validate(cfg Config) error {
	switch cfg.Backtest.SlippageModel {
	case SlippageStatic, SlippageLinear, SlippagePiecewise:
	default:
		return fmt.Errorf("invalid backtest.slippage_model: %q", cfg.Backtest.SlippageModel)
	}
	switch cfg.Backtest.FeeModel {
	case FeeTakerStatic, FeeTiered, FeeMakerTaker:
	default:
		return fmt.Errorf("invalid backtest.fee_model: %q", cfg.Backtest.FeeModel)
	}
	if cfg.Backtest.RolloverHour < 0 || cfg.Backtest.RolloverHour > 23 {
		return fmt.Errorf("backtest.rollover_hour out of range [0,23]: %d", cfg.Backtest.RolloverHour)
	}
	if cfg.Components.Fusion.Method == "weighted" {
		sum := cfg.Components.Fusion.WOfi + cfg.Components.Fusion.WCvd
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("components.fusion.w_ofi + w_cvd must equal 1, got %v", sum)
		}
	}
	switch cfg.Sink {
	case SinkJSONL, SinkSQLite, SinkDual:
	default:
		return fmt.Errorf("invalid sink mode: %q", cfg.Sink)
	}
	switch cfg.InputMode {
	case InputRaw, InputPreview:
	default:
		return fmt.Errorf("invalid input mode: %q", cfg.InputMode)
	}
	for regime, t := range cfg.Signal.Thresholds {
		if t.Buy >= t.StrongBuy {
			return fmt.Errorf("signal.thresholds[%s]: buy must be < strong_buy", regime)
		}
		if t.Sell <= t.StrongSell {
			return fmt.Errorf("signal.thresholds[%s]: sell must be > strong_sell", regime)
		}
	}
	return nil
}
