// Package paths resolves the raw/preview/ready/artifacts directory layout
// from spec.md §6, following internal/backtest/smoke90/writer.go's
// filepath.Join date-dir convention from the teacher repo.
package paths

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// Layout resolves roots under a single deploy directory.
type Layout struct {
	DeployRoot string
}

// NewLayout returns a Layout rooted at deployRoot (e.g. "./deploy").
func NewLayout(deployRoot string) Layout {
	return Layout{DeployRoot: deployRoot}
}

func (l Layout) dataRoot() string      { return filepath.Join(l.DeployRoot, "data", "ofi_cvd") }
func (l Layout) artifactsRoot() string { return filepath.Join(l.DeployRoot, "artifacts", "ofi_cvd") }

// RawPartitionDir resolves data/ofi_cvd/raw/date=.../hour=.../symbol=.../kind=...
func (l Layout) RawPartitionDir(key domain.PartitionKey) string {
	return l.partitionDir("raw", key)
}

// PreviewPartitionDir resolves the downsampled preview mirror of RawPartitionDir.
func (l Layout) PreviewPartitionDir(key domain.PartitionKey) string {
	return l.partitionDir("preview", key)
}

func (l Layout) partitionDir(tree string, key domain.PartitionKey) string {
	return filepath.Join(l.dataRoot(), tree,
		fmt.Sprintf("date=%s", key.Date),
		fmt.Sprintf("hour=%02d", key.Hour),
		fmt.Sprintf("symbol=%s", key.Symbol),
		fmt.Sprintf("kind=%s", key.Kind),
	)
}

// ReadyDir resolves data/ofi_cvd/ready/{kind}/{symbol}/{YYYYMMDD}/.
func (l Layout) ReadyDir(kind domain.PartitionKind, symbol string, date time.Time) string {
	return filepath.Join(l.dataRoot(), "ready", string(kind), symbol, date.Format("20060102"))
}

// ReadyFileName builds "{kind}-{YYYYMMDDTHH}.{seq:03d}[.part].jsonl". seq is
// the monotonic within-hour partition index: a sink that rotates more than
// once inside the same hour (on rotate.max_rows/rotate.max_sec) bumps seq
// rather than reusing the prior partition's final name, so one rotation
// never renames over and destroys another.
func ReadyFileName(kind domain.PartitionKind, hourStart time.Time, seq int, part bool) string {
	base := fmt.Sprintf("%s-%s.%03d", kind, hourStart.Format("20060102T15"), seq)
	if part {
		base += ".part"
	}
	return base + ".jsonl"
}

// RunManifestPath resolves artifacts/ofi_cvd/run_logs/run_manifest_{run_id}.json.
func (l Layout) RunManifestPath(runID string) string {
	return filepath.Join(l.artifactsRoot(), "run_logs", fmt.Sprintf("run_manifest_%s.json", runID))
}

// SourceManifestPath resolves artifacts/ofi_cvd/source_manifest_{run_id}.json.
func (l Layout) SourceManifestPath(runID string) string {
	return filepath.Join(l.artifactsRoot(), fmt.Sprintf("source_manifest_%s.json", runID))
}
