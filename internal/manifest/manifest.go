// Package manifest builds and writes the run manifest spec.md §6 names:
// run_id, timing, config hash, git state, data fingerprint, and the
// reader/feeder/metrics stats rolled up from one backtest or live run.
// Grounded on the teacher's internal/backtest/smoke90/writer.go
// WriteSummaryJSON (json.NewEncoder + SetIndent, one artifact per run).
package manifest

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DataFingerprint summarizes the input tree a run consumed, per spec.md
// §6's "data_fingerprint{path, files, total_size, file_count, sha1_prefix}".
type DataFingerprint struct {
	Path       string   `json:"path"`
	Files      []string `json:"files,omitempty"`
	TotalSize  int64    `json:"total_size"`
	FileCount  int      `json:"file_count"`
	SHA1Prefix string   `json:"sha1_prefix"`
}

// ReaderStats mirrors backtest/reader.Stats for manifest embedding.
type ReaderStats struct {
	FilesScanned  int    `json:"files_scanned"`
	RowsRead      int    `json:"rows_read"`
	RowsDeduped   int    `json:"rows_deduped"`
	StructureType string `json:"structure_type"`
}

// FeederStats mirrors backtest/feeder.Stats for manifest embedding.
type FeederStats struct {
	RowsProcessed    int `json:"rows_processed"`
	RowsMalformed    int `json:"rows_malformed"`
	SignalsEmitted   int `json:"signals_emitted"`
	SignalsConfirmed int `json:"signals_confirmed"`
}

// TimeseriesExport tracks the outbound metrics/timeseries push attempts a
// run made, per spec.md §6's "timeseries_export{export_count,error_count}".
type TimeseriesExport struct {
	ExportCount int `json:"export_count"`
	ErrorCount  int `json:"error_count"`
}

// ResourceUsage is a coarse resource summary recorded at shutdown.
type ResourceUsage struct {
	PeakRSSBytes int64 `json:"peak_rss_bytes,omitempty"`
	GoroutineMax int   `json:"goroutine_max,omitempty"`
}

// Manifest is the run_manifest_{run_id}.json payload (spec.md §6).
type Manifest struct {
	RunID            string           `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	ConfigHash       string           `json:"config_hash"`
	GitCommit        string           `json:"git_commit"`
	DataFingerprint  DataFingerprint  `json:"data_fingerprint"`
	ReaderStats      ReaderStats      `json:"reader_stats"`
	FeederStats      FeederStats      `json:"feeder_stats"`
	Metrics          interface{}      `json:"metrics,omitempty"`
	TimeseriesExport TimeseriesExport `json:"timeseries_export"`
	Alerts           []string         `json:"alerts,omitempty"`
	HarvesterMetrics interface{}      `json:"harvester_metrics,omitempty"`
	ResourceUsage    ResourceUsage    `json:"resource_usage"`
	ShutdownOrder    []string         `json:"shutdown_order,omitempty"`
}

// New starts a Manifest for runID, stamping StartedAt and ConfigHash.
// GitCommit is resolved once via `git rev-parse HEAD`; failure (not a git
// checkout, or git unavailable) degrades to "unknown" rather than failing
// the run, matching spec.md §7's "local recovery is the default" rule for
// anything short of configuration errors.
func New(runID, configHash string, startedAt time.Time) Manifest {
	return Manifest{
		RunID:      runID,
		StartedAt:  startedAt,
		ConfigHash: configHash,
		GitCommit:  gitCommit(),
	}
}

func gitCommit() string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "unknown"
	}
	return strings.TrimSpace(out.String())
}

// Finish stamps EndedAt. A cooperative-shutdown caller that hits the
// shutdown grace before this is called leaves EndedAt absent, per
// spec.md §7's "Shutdown" error kind.
func (m *Manifest) Finish(endedAt time.Time) {
	m.EndedAt = &endedAt
}

// Fingerprint walks root and computes a DataFingerprint: file count, total
// byte size, and a sha1 prefix over the sorted relative path list (not
// file contents — hashing contents of a large input tree at manifest time
// would dominate run cost for no benefit beyond path-set identity).
func Fingerprint(root string) (DataFingerprint, error) {
	var rels []string
	var totalSize int64

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rels = append(rels, rel)
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return DataFingerprint{}, fmt.Errorf("fingerprint walk %s: %w", root, err)
	}

	sort.Strings(rels)
	h := sha1.New()
	for _, rel := range rels {
		io.WriteString(h, rel)
		io.WriteString(h, "\n")
	}
	sum := hex.EncodeToString(h.Sum(nil))

	return DataFingerprint{
		Path:       root,
		TotalSize:  totalSize,
		FileCount:  len(rels),
		SHA1Prefix: sum[:12],
	}, nil
}

// Write encodes m as indented JSON to path (resolved by the caller, e.g.
// via paths.Layout.RunManifestPath), creating parent directories as
// needed.
func Write(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest parent dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// SourceManifest is the companion artifacts/ofi_cvd/source_manifest_{run_id}.json
// spec.md §6 names alongside the run manifest: the resolved input
// fingerprint captured before a run starts consuming it.
type SourceManifest struct {
	RunID       string          `json:"run_id"`
	CapturedAt  time.Time       `json:"captured_at"`
	Fingerprint DataFingerprint `json:"fingerprint"`
}

// WriteSourceManifest encodes sm as indented JSON to path (resolved by
// the caller, e.g. via paths.Layout.SourceManifestPath).
func WriteSourceManifest(path string, sm SourceManifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create source manifest parent dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create source manifest file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sm); err != nil {
		return fmt.Errorf("encode source manifest: %w", err)
	}
	return nil
}
