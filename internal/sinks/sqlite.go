package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// createSignalsTableSQL matches spec.md §6's explicit `signals` column/type
// contract verbatim, plus the supplemental analytic columns (consistency,
// z_ofi, z_cvd, spread_bps, lag_sec, mid_px, regime, quality_tier,
// signal_type) spec §6's literal list omits but that are live Signal
// fields already written to JSONL; `signal_type` in particular is required
// by §8's parity key `(run_id, ts_ms, symbol, signal_type, confirm)`, so
// without it the equivalence check couldn't even be computed against this
// table.
const createSignalsTableSQL = `
CREATE TABLE IF NOT EXISTS signals (
	run_id TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	signal_type TEXT NOT NULL,
	side_hint TEXT NOT NULL,
	score REAL NOT NULL,
	gating INTEGER NOT NULL,
	confirm INTEGER NOT NULL,
	consistency REAL NOT NULL,
	z_ofi REAL NOT NULL,
	z_cvd REAL NOT NULL,
	spread_bps REAL NOT NULL,
	lag_sec REAL NOT NULL,
	mid_px REAL NOT NULL,
	regime TEXT NOT NULL,
	cooldown_ms INTEGER NOT NULL,
	expiry_ms INTEGER NOT NULL,
	decision_code TEXT NOT NULL,
	decision_reason TEXT NOT NULL,
	quality_tier TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	meta TEXT NOT NULL,
	PRIMARY KEY (run_id, ts_ms, symbol)
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts_ms);
CREATE INDEX IF NOT EXISTS idx_signals_run_id ON signals(run_id);
`

// SQLiteSink mirrors signals into a WAL-mode SQLite database, batching
// writes, per spec.md §4.5. A failed batch insert is not retried: its rows
// go to the deadletter file at once. Three consecutive failures open the
// circuit breaker, and while it is open every batch goes straight to the
// deadletter.
type SQLiteSink struct {
	db *sqlx.DB

	batchN   int
	flushMs  int
	lastFlush time.Time

	batch []domain.Signal

	breaker    *gobreaker.CircuitBreaker
	deadletter *Deadletter

	log zerolog.Logger
}

// NewSQLiteSink opens (or creates) the SQLite database at dsn, enables
// WAL mode, and ensures the signals table/indexes exist.
func NewSQLiteSink(dsn string, batchN, flushMs int, deadletter *Deadletter, log zerolog.Logger) (*SQLiteSink, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is safest single-writer under WAL

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: enable WAL: %w", err)
	}
	if _, err := db.Exec(createSignalsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: create schema: %w", err)
	}

	st := gobreaker.Settings{Name: "sqlite-sink"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &SQLiteSink{
		db:         db,
		batchN:     batchN,
		flushMs:    flushMs,
		lastFlush:  time.Now(),
		breaker:    gobreaker.NewCircuitBreaker(st),
		deadletter: deadletter,
		log:        log.With().Str("sink", "sqlite").Logger(),
	}, nil
}

// Write buffers sig and flushes the batch once it reaches batchN rows or
// flushMs has elapsed since the last flush.
func (s *SQLiteSink) Write(sig domain.Signal) error {
	s.batch = append(s.batch, sig)
	if len(s.batch) >= s.batchN || time.Since(s.lastFlush) >= time.Duration(s.flushMs)*time.Millisecond {
		return s.flush()
	}
	return nil
}

func (s *SQLiteSink) flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	batch := s.batch
	s.batch = nil
	s.lastFlush = time.Now()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.insertBatch(batch)
	})
	if err != nil {
		s.log.Warn().Err(err).Int("rows", len(batch)).Msg("sqlite batch insert failed, routing to deadletter")
		if s.deadletter != nil {
			for _, sig := range batch {
				if derr := s.deadletter.Write(sig); derr != nil {
					return fmt.Errorf("sqlite sink: deadletter write: %w", derr)
				}
			}
		}
		return nil
	}
	return nil
}

func (s *SQLiteSink) insertBatch(batch []domain.Signal) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO signals
		(run_id, ts_ms, symbol, signal_id, schema_version, signal_type, side_hint,
		 score, gating, confirm, consistency, z_ofi, z_cvd, spread_bps, lag_sec,
		 mid_px, regime, cooldown_ms, expiry_ms, decision_code, decision_reason,
		 quality_tier, config_hash, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sig := range batch {
		metaJSON, err := json.Marshal(sig.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta for %s: %w", sig.SignalID, err)
		}
		confirmInt := 0
		if sig.Confirm {
			confirmInt = 1
		}
		_, err = stmt.ExecContext(ctx,
			sig.RunID, sig.TsMs, sig.Symbol, sig.SignalID, sig.SchemaVersion,
			string(sig.SignalType), string(sig.SideHint), sig.Score,
			domain.EncodeGatingBitmask(sig.Gating), confirmInt, sig.Consistency,
			sig.ZOFI, sig.ZCVD, sig.SpreadBps, sig.LagSec, sig.MidPx, string(sig.Regime),
			sig.CooldownMs, sig.ExpiryMs, sig.DecisionCode, sig.DecisionReason,
			string(sig.QualityTier), sig.ConfigHash, string(metaJSON))
		if err != nil {
			return fmt.Errorf("insert signal %s: %w", sig.SignalID, err)
		}
	}

	return tx.Commit()
}

// Close drains any buffered rows and checkpoints the WAL, per spec.md
// §4.5's "close() MUST drain the batch and checkpoint".
func (s *SQLiteSink) Close() error {
	if err := s.flush(); err != nil {
		return err
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		s.log.Warn().Err(err).Msg("wal checkpoint failed on close")
	}
	return s.db.Close()
}

// Count returns the total number of rows currently persisted, used by
// the parity tool and tests.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM signals")
	return n, err
}
