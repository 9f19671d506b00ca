package sinks

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
	"github.com/sawpanic/ofi-cvd-pipeline/internal/paths"
)

func hourOf(tsMs int64) time.Time {
	return time.UnixMilli(tsMs).UTC().Truncate(time.Hour)
}

func testSignal(symbol string, tsMs int64) domain.Signal {
	return domain.Signal{
		RunID: "run-1", Symbol: symbol, TsMs: tsMs,
		SignalID: domain.NewSignalID("run-1", symbol, tsMs, 1),
		SignalType: domain.SignalBuy, Confirm: true,
	}
}

func TestJsonlSink_WritesAndRotatesAtomically(t *testing.T) {
	dir := t.TempDir()
	layout := paths.NewLayout(dir)
	log := zerolog.Nop()

	sink := NewJsonlSink(layout, domain.KindSignals, "BTCUSDT", 100000, 0, 0, log)
	require.NoError(t, sink.Write(testSignal("BTCUSDT", 1000)))
	require.NoError(t, sink.Write(testSignal("BTCUSDT", 2000)))
	require.NoError(t, sink.Close())

	readyDir := layout.ReadyDir(domain.KindSignals, "BTCUSDT", hourOf(1000))
	entries, err := os.ReadDir(readyDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, filepath.Ext(entries[0].Name()) == ".jsonl")

	f, err := os.Open(filepath.Join(readyDir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestJsonlSink_RotatesOnMaxRows(t *testing.T) {
	dir := t.TempDir()
	layout := paths.NewLayout(dir)
	sink := NewJsonlSink(layout, domain.KindSignals, "ETHUSDT", 1, 0, 0, zerolog.Nop())

	require.NoError(t, sink.Write(testSignal("ETHUSDT", 1000)))
	require.NoError(t, sink.Write(testSignal("ETHUSDT", 1500)))
	require.NoError(t, sink.Close())

	readyDir := layout.ReadyDir(domain.KindSignals, "ETHUSDT", hourOf(1000))
	entries, err := os.ReadDir(readyDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "max_rows=1 should force a rotation between the two writes")
}

type fakeSink struct {
	fail  bool
	rows  []domain.Signal
}

func (f *fakeSink) Write(sig domain.Signal) error {
	if f.fail {
		return errors.New("boom")
	}
	f.rows = append(f.rows, sig)
	return nil
}
func (f *fakeSink) Close() error { return nil }

func TestMultiSink_SucceedsIfAnySinkAccepts(t *testing.T) {
	good := &fakeSink{}
	bad := &fakeSink{fail: true}
	m := NewMultiSink(zerolog.Nop(), good, bad)

	err := m.Write(testSignal("BTCUSDT", 1000))
	assert.NoError(t, err)
	assert.Len(t, good.rows, 1)
	counts := m.Counts()
	assert.Equal(t, int64(1), counts[0])
	assert.Equal(t, int64(0), counts[1])
}

func TestMultiSink_FailsIfAllSinksReject(t *testing.T) {
	bad1 := &fakeSink{fail: true}
	bad2 := &fakeSink{fail: true}
	m := NewMultiSink(zerolog.Nop(), bad1, bad2)
	err := m.Write(testSignal("BTCUSDT", 1000))
	assert.Error(t, err)
}

func TestDeadletter_WriteAndReplay(t *testing.T) {
	dir := t.TempDir()
	dl, err := NewDeadletter(dir)
	require.NoError(t, err)
	require.NoError(t, dl.Write(testSignal("BTCUSDT", 1000)))
	require.NoError(t, dl.Write(testSignal("BTCUSDT", 2000)))
	require.NoError(t, dl.Close())

	var replayed []domain.Signal
	limiter := rate.NewLimiter(rate.Inf, 1)
	n, err := Replay(filepath.Join(dir, "failed_batches.jsonl"), limiter, func(sig domain.Signal) error {
		replayed = append(replayed, sig)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, replayed, 2)
}
