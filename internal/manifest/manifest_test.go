package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StampsStartedAtAndConfigHash(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New("run-1", "abc123", started)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "abc123", m.ConfigHash)
	assert.Equal(t, started, m.StartedAt)
	assert.Nil(t, m.EndedAt)
}

func TestFinish_SetsEndedAt(t *testing.T) {
	m := New("run-1", "abc123", time.Now())
	end := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	m.Finish(end)
	require.NotNil(t, m.EndedAt)
	assert.Equal(t, end, *m.EndedAt)
}

func TestFingerprint_CountsFilesAndTotalSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"), []byte("1234567890"), 0o644))

	fp, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, fp.FileCount)
	assert.Equal(t, int64(15), fp.TotalSize)
	assert.Len(t, fp.SHA1Prefix, 12)
}

func TestFingerprint_IsStableAcrossRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte("x"), 0o644))

	first, err := Fingerprint(dir)
	require.NoError(t, err)
	second, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.Equal(t, first.SHA1Prefix, second.SHA1Prefix)
}

func TestWrite_ProducesValidIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	m := New("run-xyz", "hash1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	end := m.StartedAt.Add(time.Hour)
	m.Finish(end)

	path := filepath.Join(dir, "run_logs", "run_manifest_run-xyz.json")
	require.NoError(t, Write(path, m))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Manifest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-xyz", decoded.RunID)
	require.NotNil(t, decoded.EndedAt)
}

func TestWriteSourceManifest_ProducesExpectedFilename(t *testing.T) {
	dir := t.TempDir()
	sm := SourceManifest{RunID: "run-1", CapturedAt: time.Now(), Fingerprint: DataFingerprint{Path: dir}}
	path := filepath.Join(dir, "source_manifest_run-1.json")
	require.NoError(t, WriteSourceManifest(path, sm))
}
