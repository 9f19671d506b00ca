package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/feeder"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/metrics"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/reader"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/backtest/simulator"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/config"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/core"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/logging"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/manifest"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/paths"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/sinks"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/strategy"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/telemetry"
)

// backtestOpts holds the backtest subcommand's flag values, matching the
// CLI surface spec.md §6 enumerates.
type backtestOpts struct {
	mode            string
	featuresDir     string
	signalsSrc      string
	outDir          string
	symbols         []string
	start           string
	end             string
	tz              string
	configPath      string
	gatingMode      string
	reemitSignals   bool
	ignoreGating    bool
	sqliteDSN       string
}

func newBacktestCmd() *cobra.Command {
	opts := &backtestOpts{}

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay persisted features or signals through the trade simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "B", "Replay mode: A (signals-src, gating already decided) or B (features-dir, full gating replay)")
	cmd.Flags().StringVar(&opts.featuresDir, "features-dir", "", "Directory of AlignedFeatureRow JSONL partitions (mode B)")
	cmd.Flags().StringVar(&opts.signalsSrc, "signals-src", "", "Directory of Signal JSONL partitions (mode A)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "out/backtest", "Output directory for trades/metrics/manifest artifacts")
	cmd.Flags().StringSliceVar(&opts.symbols, "symbols", nil, "Comma-separated symbol allowlist (empty = all)")
	cmd.Flags().StringVar(&opts.start, "start", "", "RFC3339 start of the replay window (inclusive); empty = unbounded")
	cmd.Flags().StringVar(&opts.end, "end", "", "RFC3339 end of the replay window (exclusive); empty = unbounded")
	cmd.Flags().StringVar(&opts.tz, "tz", "UTC", "Timezone used to interpret --start/--end when they lack an offset")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to a YAML config overriding the built-in defaults")
	cmd.Flags().StringVar(&opts.gatingMode, "gating-mode", "strict", "Gating mode: strict|ignore_soft|ignore_all")
	cmd.Flags().BoolVar(&opts.reemitSignals, "reemit-signals", false, "Re-persist the replayed signals through the dual JSONL+SQLite sink stack under --out-dir")
	cmd.Flags().BoolVar(&opts.ignoreGating, "ignore-gating", false, "Trade on score magnitude alone, bypassing gating/confirm entirely (legacy backtest mode)")
	cmd.Flags().StringVar(&opts.sqliteDSN, "sqlite-dsn", "", "SQLite DSN for --reemit-signals (default: <out-dir>/signals.db)")

	return cmd
}

func runBacktest(opts *backtestOpts) error {
	startedAt := time.Now().UTC()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return configErr(err)
	}
	if opts.ignoreGating {
		cfg.Backtest.IgnoreGatingInBacktest = true
	}

	gatingMode, err := parseGatingMode(opts.gatingMode)
	if err != nil {
		return configErr(err)
	}

	inputDir, kind, legacySignalsMode, err := resolveInput(opts)
	if err != nil {
		return configErr(err)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	startTsMs, endTsMs, err := parseWindow(opts.start, opts.end, opts.tz)
	if err != nil {
		return configErr(err)
	}

	configHash, err := config.ConfigHash(cfg)
	if err != nil {
		return runtimeErr(wrapf(err, "compute config hash"))
	}

	dataReader := reader.New(inputDir, kind, opts.symbols)
	rows, readerStats, err := dataReader.Read()
	if err != nil {
		return runtimeErr(wrapf(err, "read backtest input"))
	}
	rows = filterWindow(rows, startTsMs, endTsMs)

	var signals []domain.Signal
	var feederStats feeder.Stats
	if legacySignalsMode {
		signals, feederStats, err = feeder.FeedSignals(rows)
		if err != nil {
			return runtimeErr(wrapf(err, "feed signals"))
		}
	} else {
		algo := core.New(cfg, runID)
		f := feeder.NewReplayFeeder(algo)
		signals, feederStats, err = f.FeedFeatures(rows)
		if err != nil {
			return runtimeErr(wrapf(err, "feed features"))
		}
	}

	if opts.reemitSignals {
		if err := reemitSignals(cfg, opts, signals); err != nil {
			return runtimeErr(wrapf(err, "reemit signals"))
		}
	}

	sim := simulator.New(cfg, runID, gatingMode, strategy.QualityAll, cfg.Backtest.IgnoreGatingInBacktest)

	telemetryReg := telemetry.New()
	for _, row := range rows {
		telemetryReg.RowsProcessed.WithLabelValues(row.Symbol).Inc()
	}

	var trades []domain.Trade
	lastMid := make(map[string]float64)
	lastTsMs := int64(0)
	for _, sig := range signals {
		confirmLabel := "false"
		if sig.Confirm {
			confirmLabel = "true"
		}
		telemetryReg.SignalsEmitted.WithLabelValues(sig.Symbol, confirmLabel).Inc()

		newTrades := sim.OnSignal(sig)
		for _, tr := range newTrades {
			telemetryReg.TradeCount.WithLabelValues(string(tr.Reason)).Inc()
		}
		trades = append(trades, newTrades...)
		lastMid[sig.Symbol] = sig.MidPx
		if sig.TsMs > lastTsMs {
			lastTsMs = sig.TsMs
		}
	}
	if endTsMs > 0 {
		lastTsMs = endTsMs
	}
	trades = append(trades, sim.RolloverClose(lastTsMs, lastMid)...)

	if err := writeTradesJSONL(filepath.Join(opts.outDir, "trades.jsonl"), trades); err != nil {
		return runtimeErr(wrapf(err, "write trades"))
	}

	roundTrips := metrics.PairRoundTrips(trades)
	if err := metrics.WriteArtifacts(opts.outDir, roundTrips); err != nil {
		return runtimeErr(wrapf(err, "write metrics artifacts"))
	}

	fp, err := manifest.Fingerprint(inputDir)
	if err != nil {
		return runtimeErr(wrapf(err, "fingerprint input"))
	}

	m := manifest.New(runID, configHash, startedAt)
	m.DataFingerprint = fp
	m.ReaderStats = manifest.ReaderStats{
		FilesScanned:  readerStats.FilesScanned,
		RowsRead:      readerStats.RowsRead,
		RowsDeduped:   readerStats.RowsDeduped,
		StructureType: string(readerStats.StructureType),
	}
	m.FeederStats = manifest.FeederStats{
		RowsProcessed:    feederStats.RowsProcessed,
		RowsMalformed:    feederStats.RowsMalformed,
		SignalsEmitted:   feederStats.SignalsEmitted,
		SignalsConfirmed: feederStats.SignalsConfirmed,
	}
	m.Metrics = metrics.BuildReport(roundTrips)
	m.HarvesterMetrics = telemetryReg.Snapshot()
	m.Finish(time.Now().UTC())

	layout := paths.NewLayout(opts.outDir)
	if err := manifest.Write(layout.RunManifestPath(runID), m); err != nil {
		return runtimeErr(wrapf(err, "write run manifest"))
	}

	log.Info().
		Str("run_id", runID).
		Int("signals", len(signals)).
		Int("trades", len(trades)).
		Int("round_trips", len(roundTrips)).
		Msg("backtest run complete")

	return nil
}

func parseGatingMode(raw string) (strategy.GatingMode, error) {
	switch strategy.GatingMode(raw) {
	case strategy.GatingStrict, strategy.GatingIgnoreSoft, strategy.GatingIgnoreAll:
		return strategy.GatingMode(raw), nil
	default:
		return "", fmt.Errorf("invalid --gating-mode %q: want strict|ignore_soft|ignore_all", raw)
	}
}

// resolveInput maps the spec.md §6 mode/input-flag combination onto a
// reader root and partition kind. Mode A replays a signals-src directory
// directly (the gating decision was already made by the run that
// produced it); mode B replays a features-dir directory through a fresh
// CoreAlgorithm instance, exercising gating identically to the live path.
func resolveInput(opts *backtestOpts) (dir string, kind domain.PartitionKind, signalsMode bool, err error) {
	switch opts.mode {
	case "A":
		if opts.signalsSrc == "" {
			return "", "", false, fmt.Errorf("--mode A requires --signals-src")
		}
		return opts.signalsSrc, domain.KindSignals, true, nil
	case "B":
		if opts.featuresDir == "" {
			return "", "", false, fmt.Errorf("--mode B requires --features-dir")
		}
		return opts.featuresDir, domain.KindFeatures, false, nil
	default:
		return "", "", false, fmt.Errorf("invalid --mode %q: want A or B", opts.mode)
	}
}

// parseWindow resolves --start/--end into epoch milliseconds in the named
// location, matching spec.md §6's DST-fall-back rule of attributing by
// UTC instant: once parsed, every downstream comparison operates on
// ts_ms, never on wall-clock fields.
func parseWindow(start, end, tz string) (startMs, endMs int64, err error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid --tz %q: %w", tz, err)
	}
	// Values without an offset are read as wall-clock time in loc.
	const localLayout = "2006-01-02T15:04:05"
	if start != "" {
		t, err := time.ParseInLocation(time.RFC3339, start, loc)
		if err != nil {
			t, err = time.ParseInLocation(localLayout, start, loc)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --start %q: %w", start, err)
		}
		startMs = t.UnixMilli()
	}
	if end != "" {
		t, err := time.ParseInLocation(time.RFC3339, end, loc)
		if err != nil {
			t, err = time.ParseInLocation(localLayout, end, loc)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --end %q: %w", end, err)
		}
		endMs = t.UnixMilli()
	}
	return startMs, endMs, nil
}

func filterWindow(rows []reader.Row, startMs, endMs int64) []reader.Row {
	if startMs == 0 && endMs == 0 {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if startMs != 0 && r.TsMs < startMs {
			continue
		}
		if endMs != 0 && r.TsMs >= endMs {
			continue
		}
		out = append(out, r)
	}
	return out
}

func writeTradesJSONL(path string, trades []domain.Trade) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return err
		}
	}
	return nil
}

// reemitSignals re-persists a replayed run's signals through the same
// dual-sink stack a live run would use, per spec.md §4.5 and cfg.Sink's
// jsonl/sqlite/dual mode. A backtest replay has no provider to retry
// against, so the deadletter file here is mostly diagnostic: it captures
// any SQLite batch the run couldn't write, for later inspection via
// sinks.Replay.
func reemitSignals(cfg config.Config, opts *backtestOpts, signals []domain.Signal) error {
	sorted := make([]domain.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TsMs < sorted[j].TsMs })

	log := logging.For("reemit")
	layout := paths.NewLayout(opts.outDir)

	var sqliteSink *sinks.SQLiteSink
	if cfg.Sink == config.SinkSQLite || cfg.Sink == config.SinkDual {
		dsn := opts.sqliteDSN
		if dsn == "" {
			dsn = filepath.Join(opts.outDir, "signals.db")
		}
		deadletter, err := sinks.NewDeadletter(filepath.Join(opts.outDir, "deadletter"))
		if err != nil {
			return err
		}
		sqliteSink, err = sinks.NewSQLiteSink(dsn, cfg.SQLite.BatchN, cfg.SQLite.FlushMs, deadletter, log)
		if err != nil {
			return err
		}
		defer sqliteSink.Close()
	}

	// Every symbol gets its own JsonlSink (one partition tree per symbol),
	// but all symbols share the one SQLiteSink, matching spec.md §4.5's
	// dual-sink shape: per-symbol JSONL partitions, one consolidated table.
	jsonlBySymbol := make(map[string]*sinks.JsonlSink)
	dualBySymbol := make(map[string]*sinks.MultiSink)

	sinksFor := func(symbol string) *sinks.MultiSink {
		if d, ok := dualBySymbol[symbol]; ok {
			return d
		}
		var fanout []sinks.Sink
		if cfg.Sink == config.SinkJSONL || cfg.Sink == config.SinkDual {
			js := sinks.NewJsonlSink(layout, domain.KindSignals, symbol,
				cfg.Rotate.MaxRows, cfg.Rotate.MaxSec, cfg.FsyncEveryN, log)
			jsonlBySymbol[symbol] = js
			fanout = append(fanout, js)
		}
		if sqliteSink != nil {
			fanout = append(fanout, sqliteSink)
		}
		d := sinks.NewMultiSink(log, fanout...)
		dualBySymbol[symbol] = d
		return d
	}

	for _, sig := range sorted {
		if err := sinksFor(sig.Symbol).Write(sig); err != nil {
			return fmt.Errorf("write signal %s: %w", sig.SignalID, err)
		}
	}

	for _, js := range jsonlBySymbol {
		if err := js.Close(); err != nil {
			return err
		}
	}
	return nil
}
