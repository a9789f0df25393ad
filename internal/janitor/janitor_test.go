package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCacheObject(t *testing.T, cacheDir, hex0, hex1, name string, size int, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(cacheDir, hex0, hex1)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestTotalsSumsAllShards(t *testing.T) {
	dir := t.TempDir()
	writeCacheObject(t, dir, "ab", "cd", "one.manifest", 100, time.Hour)
	writeCacheObject(t, dir, "ef", "01", "two.result", 200, 2*time.Hour)

	files, bytes, err := Totals(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(300), bytes)
}

func TestCleanEvictsOldestFirstUntilUnderMaxSize(t *testing.T) {
	dir := t.TempDir()
	oldest := writeCacheObject(t, dir, "ab", "cd", "old.manifest", 100, 3*time.Hour)
	writeCacheObject(t, dir, "ab", "cd", "mid.manifest", 100, 2*time.Hour)
	writeCacheObject(t, dir, "ab", "cd", "new.manifest", 100, time.Hour)

	res, err := Clean(dir, 150, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesRemoved)
	assert.Equal(t, int64(200), res.BytesFreed)

	_, err = os.Stat(oldest)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanRespectsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	writeCacheObject(t, dir, "ab", "cd", "a.manifest", 10, 3*time.Hour)
	writeCacheObject(t, dir, "ab", "cd", "b.manifest", 10, 2*time.Hour)
	writeCacheObject(t, dir, "ab", "cd", "c.manifest", 10, time.Hour)

	res, err := Clean(dir, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesRemoved)

	files, _, err := Totals(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}

func TestCleanNoopWhenUnderLimits(t *testing.T) {
	dir := t.TempDir()
	writeCacheObject(t, dir, "ab", "cd", "a.manifest", 10, time.Hour)

	res, err := Clean(dir, 1000, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesRemoved)
	assert.Equal(t, 1, res.FilesTotal)
}

func TestScanSkipsCounterAndTagFiles(t *testing.T) {
	dir := t.TempDir()
	writeCacheObject(t, dir, "ab", "cd", "a.manifest", 10, time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CACHEDIR.TAG"), []byte("tag"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ab"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ab", ".ccwrap-counter.bolt"), []byte("x"), 0o644))

	files, _, err := Totals(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}
