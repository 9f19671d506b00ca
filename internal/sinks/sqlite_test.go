package sinks

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

func TestSQLiteSink_WritesAndCountsBatch(t *testing.T) {
	dir := t.TempDir()
	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)

	sink, err := NewSQLiteSink(filepath.Join(dir, "test.db"), 1, 0, dl, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.Write(testSignal("BTCUSDT", 1000)))
	require.NoError(t, sink.Write(testSignal("ETHUSDT", 2000)))

	n, err := sink.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, sink.Close())
}

func TestSQLiteSink_BatchesUntilFlushIntervalElapses(t *testing.T) {
	dir := t.TempDir()
	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)

	sink, err := NewSQLiteSink(filepath.Join(dir, "test.db"), 100, 50, dl, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sink.Write(testSignal("BTCUSDT", 1000)))
	n, err := sink.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), n, "a single row under batch_n=100 shouldn't flush until flush_ms elapses")

	time.Sleep(75 * time.Millisecond)
	require.NoError(t, sink.Write(testSignal("ETHUSDT", 2000)))
	n, err = sink.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n, "the elapsed flush interval should flush the whole buffered batch")

	require.NoError(t, sink.Close())
}

func TestSQLiteSink_Close_DrainsRemainingBatch(t *testing.T) {
	dir := t.TempDir()
	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)

	sink, err := NewSQLiteSink(filepath.Join(dir, "test.db"), 100, 60_000, dl, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sink.Write(testSignal("BTCUSDT", 1000)))
	require.NoError(t, sink.Close())

	db, err := sqlx.Open("sqlite", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer db.Close()
	var n int64
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM signals"))
	require.Equal(t, int64(1), n)
}

func TestSQLiteSink_GatingRoundTripsThroughIntegerBitmask(t *testing.T) {
	dir := t.TempDir()
	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)

	sink, err := NewSQLiteSink(filepath.Join(dir, "test.db"), 1, 0, dl, zerolog.Nop())
	require.NoError(t, err)

	sig := testSignal("BTCUSDT", 1000)
	sig.Gating = []string{domain.GuardWeakSignal, domain.GuardLagSecExceeded}
	require.NoError(t, sink.Write(sig))
	require.NoError(t, sink.Close())

	db, err := sqlx.Open("sqlite", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer db.Close()

	var gatingMask int64
	require.NoError(t, db.Get(&gatingMask, "SELECT gating FROM signals WHERE signal_id = ?", sig.SignalID))

	got := domain.DecodeGatingBitmask(gatingMask)
	want := append([]string{}, sig.Gating...)
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}
