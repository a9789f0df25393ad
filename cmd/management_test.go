package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacheline/ccwrap/internal/cachedir"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/digest"
	"github.com/cacheline/ccwrap/internal/manifest"
	"github.com/cacheline/ccwrap/internal/result"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CacheDir = dir
	cfg.ConfigPath = filepath.Join(dir, "ccache.conf")
	require.NoError(t, cachedir.EnsureTag(dir))
	return cfg
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = orig

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestRunClearRecreatesTag(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, runClear(cfg))
	assert.FileExists(t, filepath.Join(cfg.CacheDir, "CACHEDIR.TAG"))
}

func TestRunCleanupOnEmptyCache(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, runCleanup(cfg))
}

func TestRunShowStatsAndZeroStats(t *testing.T) {
	cfg := newTestConfig(t)

	out := captureStdout(t, func() {
		require.NoError(t, runShowStats(cfg, false))
	})
	assert.Contains(t, out, "cache directory")

	machineOut := captureStdout(t, func() {
		require.NoError(t, runShowStats(cfg, true))
	})
	assert.Contains(t, machineOut, "cache_dir\t"+cfg.CacheDir)

	require.NoError(t, runZeroStats(cfg))
}

func TestRunShowConfigListsKeys(t *testing.T) {
	cfg := newTestConfig(t)
	out := captureStdout(t, func() {
		require.NoError(t, runShowConfig(cfg))
	})
	assert.Contains(t, out, "max_size =")
	assert.Contains(t, out, "sloppiness =")
}

func TestRunGetConfigKnownAndUnknown(t *testing.T) {
	cfg := newTestConfig(t)
	out := captureStdout(t, func() {
		require.NoError(t, runGetConfig(cfg, "direct_mode"))
	})
	assert.Equal(t, "true\n", out)

	assert.Error(t, runGetConfig(cfg, "bogus_key"))
}

func TestRunSetConfigWritesFileAndConfig(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, runSetConfig(cfg, "max_files=123"))
	assert.Equal(t, 123, cfg.MaxFiles)

	kv, err := config.ParseFile(cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "123", kv["max_files"])
}

func TestRunSetConfigRejectsMalformedPair(t *testing.T) {
	cfg := newTestConfig(t)
	assert.Error(t, runSetConfig(cfg, "no-equals-sign"))
}

func TestRunHashFileStdin(t *testing.T) {
	origStdin := os.Stdin
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, _ = w.WriteString("hello world")
	w.Close()
	os.Stdin = r
	defer func() { os.Stdin = origStdin }()

	out := captureStdout(t, func() {
		require.NoError(t, runHashFile("-"))
	})
	assert.Len(t, strings.TrimSpace(out), digest.Size*2)
}

func TestRunHashFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	out := captureStdout(t, func() {
		require.NoError(t, runHashFile(path))
	})
	assert.Len(t, strings.TrimSpace(out), digest.Size*2)
}

func TestRunDumpManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")

	m := manifest.Manifest{Candidates: []manifest.Candidate{
		{
			IncludedFiles: []manifest.IncludedFileRecord{
				{Path: "/usr/include/stdio.h", Digest: digest.Digest{1, 2, 3}, Size: 10},
			},
			Result: digest.Digest{9, 9, 9},
		},
	}}
	raw, err := manifest.Encode(m, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	out := captureStdout(t, func() {
		require.NoError(t, runDumpManifest(path))
	})
	assert.Contains(t, out, "1 candidate(s)")
	assert.Contains(t, out, "stdio.h")
}

func TestRunDumpResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.result")

	b := result.Bundle{Entries: []result.Entry{
		{Type: result.FileObject, Payload: []byte("OBJ")},
	}}
	raw, err := result.Encode(b, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	out := captureStdout(t, func() {
		require.NoError(t, runDumpResult(path))
	})
	assert.Contains(t, out, "object: 3 bytes")
}

func TestParseRecompressLevel(t *testing.T) {
	n, err := parseRecompressLevel("uncompressed")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = parseRecompressLevel("5")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = parseRecompressLevel("not-a-number")
	assert.Error(t, err)
}

func TestRunRecompressRewritesManifests(t *testing.T) {
	cfg := newTestConfig(t)
	shardDir := filepath.Join(cfg.CacheDir, "ab", "cd")
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	path := filepath.Join(shardDir, "deadbeef.manifest")

	m := manifest.Manifest{Candidates: []manifest.Candidate{{Result: digest.Digest{1}}}}
	raw, err := manifest.Encode(m, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	require.NoError(t, runRecompress(cfg, "3"))

	recoded, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, err := manifest.Decode(recoded)
	require.NoError(t, err)
	assert.Equal(t, m.Candidates[0].Result, decoded.Candidates[0].Result)
}

func TestRunShowCompressionOnEmptyCache(t *testing.T) {
	cfg := newTestConfig(t)
	out := captureStdout(t, func() {
		require.NoError(t, runShowCompression(cfg))
	})
	assert.Contains(t, out, "manifest files")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512B", humanBytes(512))
	assert.Contains(t, humanBytes(2048), "KiB")
}
