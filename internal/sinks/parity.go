package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// parityThreshold matches spec.md §4.5's equivalence contract: count
// divergence at minute granularity must stay within 0.2%.
const parityThreshold = 0.002

// MinuteDiff reports the JSONL vs SQLite row-count divergence for one
// minute bucket, keyed by the minute's start in epoch seconds as a
// decimal string.
type MinuteDiff struct {
	Minute      string  `json:"minute"`
	JSONLCount  int     `json:"jsonl_count"`
	SQLiteCount int     `json:"sqlite_count"`
	RelDiff     float64 `json:"rel_diff"`
}

// ParityReport is the parity_diff.json artifact described in spec.md §4.5.
type ParityReport struct {
	WindowAlignment          string       `json:"window_alignment"`
	TopMinuteDiffs           []MinuteDiff `json:"top_minute_diffs"`
	ThresholdExceededMinutes []string     `json:"threshold_exceeded_minutes"`
	KeySetAgreement          float64      `json:"key_set_agreement"`
}

// signalKey is the canonical key spec.md §4.5 says must agree across
// sinks: (run_id, ts_ms, symbol, signal_type, confirm).
type signalKey struct {
	RunID      string
	TsMs       int64
	Symbol     string
	SignalType string
	Confirm    bool
}

func (k signalKey) String() string {
	return fmt.Sprintf("%s|%d|%s|%s|%v", k.RunID, k.TsMs, k.Symbol, k.SignalType, k.Confirm)
}

// jsonlRow is the subset of a Signal's JSON encoding parity needs.
type jsonlRow struct {
	RunID      string `json:"RunID"`
	TsMs       int64  `json:"TsMs"`
	Symbol     string `json:"Symbol"`
	SignalType string `json:"SignalType"`
	Confirm    bool   `json:"Confirm"`
}

// Diff walks every .jsonl file under jsonlRoot and compares the row-key
// set against the SQLite signals table, producing a ParityReport at
// minute granularity ("minute alignment" per spec.md §4.5).
func Diff(ctx context.Context, jsonlRoot string, db *sqlx.DB) (*ParityReport, error) {
	jsonlKeys, jsonlMinutes, err := scanJSONL(jsonlRoot)
	if err != nil {
		return nil, fmt.Errorf("parity diff: scan jsonl: %w", err)
	}
	sqliteKeys, sqliteMinutes, err := scanSQLite(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("parity diff: scan sqlite: %w", err)
	}

	minutes := make(map[string]bool)
	for m := range jsonlMinutes {
		minutes[m] = true
	}
	for m := range sqliteMinutes {
		minutes[m] = true
	}

	var diffs []MinuteDiff
	var exceeded []string
	for m := range minutes {
		jc := jsonlMinutes[m]
		sc := sqliteMinutes[m]
		maxC := jc
		if sc > maxC {
			maxC = sc
		}
		rel := 0.0
		if maxC > 0 {
			diff := jc - sc
			if diff < 0 {
				diff = -diff
			}
			rel = float64(diff) / float64(maxC)
		}
		diffs = append(diffs, MinuteDiff{Minute: m, JSONLCount: jc, SQLiteCount: sc, RelDiff: rel})
		if rel > parityThreshold {
			exceeded = append(exceeded, m)
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].RelDiff > diffs[j].RelDiff })
	sort.Strings(exceeded)

	top := diffs
	if len(top) > 20 {
		top = top[:20]
	}

	return &ParityReport{
		WindowAlignment:          "minute",
		TopMinuteDiffs:           top,
		ThresholdExceededMinutes: exceeded,
		KeySetAgreement:          keySetAgreement(jsonlKeys, sqliteKeys),
	}, nil
}

// keySetAgreement returns |intersection| / |union| of the two key sets,
// the fraction spec.md §4.5 requires to be >= 99.8%.
func keySetAgreement(a, b map[signalKey]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	union := make(map[signalKey]bool, len(a)+len(b))
	intersection := 0
	for k := range a {
		union[k] = true
		if b[k] {
			intersection++
		}
	}
	for k := range b {
		union[k] = true
	}
	if len(union) == 0 {
		return 1.0
	}
	return float64(intersection) / float64(len(union))
}

func scanJSONL(root string) (map[signalKey]bool, map[string]int, error) {
	keys := make(map[signalKey]bool)
	minuteCounts := make(map[string]int)

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var row jsonlRow
			if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
				continue
			}
			k := signalKey{RunID: row.RunID, TsMs: row.TsMs, Symbol: row.Symbol, SignalType: row.SignalType, Confirm: row.Confirm}
			keys[k] = true
			minuteCounts[minuteBucket(row.TsMs)]++
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, minuteCounts, nil
}

func scanSQLite(ctx context.Context, db *sqlx.DB) (map[signalKey]bool, map[string]int, error) {
	keys := make(map[signalKey]bool)
	minuteCounts := make(map[string]int)

	rows, err := db.QueryxContext(ctx, "SELECT run_id, ts_ms, symbol, signal_type, confirm FROM signals")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var runID, symbol, signalType string
		var tsMs int64
		var confirmInt int
		if err := rows.Scan(&runID, &tsMs, &symbol, &signalType, &confirmInt); err != nil {
			return nil, nil, err
		}
		k := signalKey{RunID: runID, TsMs: tsMs, Symbol: symbol, SignalType: signalType, Confirm: confirmInt != 0}
		keys[k] = true
		minuteCounts[minuteBucket(tsMs)]++
	}
	return keys, minuteCounts, rows.Err()
}

// minuteBucket truncates a ts_ms value to its UTC minute bucket key.
func minuteBucket(tsMs int64) string {
	sec := tsMs / 1000
	minuteEpoch := sec - (sec % 60)
	return fmt.Sprintf("%d", minuteEpoch)
}
