package config

import (
	"os"
	"path/filepath"
	"testing"

	units "github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccache.conf")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_size = 2G\n# a comment\n\ncompiler_check = content\n"), 0o644))

	kv, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2G", kv["max_size"])
	assert.Equal(t, "content", kv["compiler_check"])
}

func TestParseFileMissingEquals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccache.conf")
	require.NoError(t, os.WriteFile(path, []byte("not-a-kv-line\n"), 0o644))

	_, err := ParseFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg := Default()
	err := cfg.LoadFile(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.NoError(t, err)
}

func TestLoadFileUnknownKeyErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccache.conf")
	require.NoError(t, os.WriteFile(path, []byte("nonsense_key = 1\n"), 0o644))

	cfg := Default()
	err := cfg.LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFilePrimaryOverridesSecondary(t *testing.T) {
	dir := t.TempDir()
	secondary := filepath.Join(dir, "secondary.conf")
	primary := filepath.Join(dir, "primary.conf")
	require.NoError(t, os.WriteFile(secondary, []byte("max_size = 1G\n"), 0o644))
	require.NoError(t, os.WriteFile(primary, []byte("max_size = 3G\n"), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(secondary))
	require.NoError(t, cfg.LoadFile(primary))

	want, _ := units.RAMInBytes("3G")
	assert.Equal(t, want, cfg.MaxSize)
}

func TestSetFileValueCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ccache.conf")

	require.NoError(t, SetFileValue(path, "max_size", "2G"))

	kv, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2G", kv["max_size"])
}

func TestSetFileValuePreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccache.conf")
	require.NoError(t, os.WriteFile(path, []byte("max_size = 1G\ncompiler_check = content\n"), 0o644))

	require.NoError(t, SetFileValue(path, "max_size", "5G"))

	kv, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5G", kv["max_size"])
	assert.Equal(t, "content", kv["compiler_check"])
}

func TestSetFileValueUnknownKeyErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ccache.conf")
	assert.Error(t, SetFileValue(path, "bogus_option", "1"))
}
