package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Report is the full metrics.json payload: overall metrics plus the
// per-symbol/hour/scenario breakdowns spec.md §4.8 says "mirror the
// overall shape".
type Report struct {
	Overall  Metrics                         `json:"overall"`
	BySymbol map[string]Metrics              `json:"by_symbol"`
	ByHour   map[int]Metrics                 `json:"by_hour"`
}

// BuildReport computes the overall and per-symbol/hour metrics from a run's
// closed round trips. Per-scenario breakdown is written separately to
// scenario_breakdown.json per spec.md §4.8.
func BuildReport(trips []RoundTrip) Report {
	return Report{
		Overall:  Compute(trips),
		BySymbol: SymbolBreakdown(trips),
		ByHour:   HourBreakdown(trips),
	}
}

// WriteArtifacts writes metrics.json, pnl_daily.jsonl, and
// scenario_breakdown.json into dir, creating it if necessary.
func WriteArtifacts(dir string, trips []RoundTrip) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, "metrics.json"), BuildReport(trips)); err != nil {
		return fmt.Errorf("write metrics.json: %w", err)
	}

	if err := writePnLDaily(filepath.Join(dir, "pnl_daily.jsonl"), DailyPnL(trips)); err != nil {
		return fmt.Errorf("write pnl_daily.jsonl: %w", err)
	}

	scenarios := ScenarioBreakdown(trips)
	if err := writeJSON(filepath.Join(dir, "scenario_breakdown.json"), scenarios); err != nil {
		return fmt.Errorf("write scenario_breakdown.json: %w", err)
	}

	return nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePnLDaily(path string, records []DailyPnLRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
