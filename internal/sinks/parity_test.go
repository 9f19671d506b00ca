package sinks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/paths"
)

func TestDiff_AgreesFullyWhenBothSinksWroteTheSameSignals(t *testing.T) {
	dir := t.TempDir()
	layout := paths.NewLayout(dir)
	log := zerolog.Nop()

	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)
	sqliteSink, err := NewSQLiteSink(filepath.Join(dir, "signals.db"), 1, 0, dl, log)
	require.NoError(t, err)

	jsonlSink := NewJsonlSink(layout, domain.KindSignals, "BTCUSDT", 100000, 0, 0, log)
	multi := NewMultiSink(log, jsonlSink, sqliteSink)

	for i, ts := range []int64{1_700_000_000_000, 1_700_000_060_000, 1_700_000_120_000} {
		require.NoError(t, multi.Write(testSignal("BTCUSDT", ts+int64(i))))
	}
	require.NoError(t, multi.Close())

	db, err := sqlx.Open("sqlite", filepath.Join(dir, "signals.db"))
	require.NoError(t, err)
	defer db.Close()

	report, err := Diff(context.Background(), layout.ReadyDir(domain.KindSignals, "BTCUSDT", hourOf(1_700_000_000_000)), db)
	require.NoError(t, err)

	require.Equal(t, "minute", report.WindowAlignment)
	require.Equal(t, 1.0, report.KeySetAgreement)
	require.Empty(t, report.ThresholdExceededMinutes)
}

func TestDiff_FlagsMinutesAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	layout := paths.NewLayout(dir)
	log := zerolog.Nop()

	dl, err := NewDeadletter(filepath.Join(dir, "deadletter"))
	require.NoError(t, err)
	sqliteSink, err := NewSQLiteSink(filepath.Join(dir, "signals.db"), 1, 0, dl, log)
	require.NoError(t, err)
	jsonlSink := NewJsonlSink(layout, domain.KindSignals, "BTCUSDT", 100000, 0, 0, log)

	// SQLite gets every row; JSONL is missing several from the same
	// minute bucket, simulating a sink that dropped rows.
	for i := 0; i < 10; i++ {
		sig := testSignal("BTCUSDT", 1_700_000_000_000+int64(i))
		require.NoError(t, sqliteSink.Write(sig))
		if i < 4 {
			require.NoError(t, jsonlSink.Write(sig))
		}
	}
	require.NoError(t, jsonlSink.Close())
	require.NoError(t, sqliteSink.Close())

	db, err := sqlx.Open("sqlite", filepath.Join(dir, "signals.db"))
	require.NoError(t, err)
	defer db.Close()

	report, err := Diff(context.Background(), layout.ReadyDir(domain.KindSignals, "BTCUSDT", hourOf(1_700_000_000_000)), db)
	require.NoError(t, err)

	require.NotEmpty(t, report.ThresholdExceededMinutes)
	require.Less(t, report.KeySetAgreement, 1.0)
}
