package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMaxSizeParses(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(5*1024*1024*1024), cfg.MaxSize)
	assert.True(t, cfg.DirectMode)
	assert.True(t, cfg.Compression)
}

func TestApplyKVUnknownKeyErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyKV("bogus_option", "1")
	assert.Error(t, err)
}

func TestApplyKVMaxSizeSuffixes(t *testing.T) {
	tests := []struct {
		value string
		want  int64
	}{
		{"10k", 10 * 1000},
		{"10Ki", 10 * 1024},
		{"2M", 2 * 1000 * 1000},
		{"2Mi", 2 * 1024 * 1024},
		{"1G", 1000 * 1000 * 1000},
		{"1Gi", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		cfg := Default()
		require.NoError(t, cfg.applyKV("max_size", tt.value))
		assert.Equal(t, tt.want, cfg.MaxSize, tt.value)
	}
}

func TestApplyKVSloppiness(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyKV("sloppiness", "mtime,locale"))
	assert.True(t, cfg.Sloppiness.Has(SloppyMtime))
	assert.True(t, cfg.Sloppiness.Has(SloppyLocale))
	assert.False(t, cfg.Sloppiness.Has(SloppyCtime))
}

func TestApplyEnvOverridesAndNegation(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv([]string{"CCACHE_NODIRECT_MODE=1"}))
	assert.False(t, cfg.DirectMode)

	cfg2 := Default()
	require.NoError(t, cfg2.ApplyEnv([]string{"CCACHE_MAX_FILES=42"}))
	assert.Equal(t, 42, cfg2.MaxFiles)
}

func TestApplyEnvCacheDir(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv([]string{"CCACHE_DIR=/tmp/somewhere"}))
	assert.Equal(t, "/tmp/somewhere", cfg.CacheDir)
}

func TestConfigKeysSorted(t *testing.T) {
	keys := ConfigKeys()
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
	assert.Contains(t, keys, "max_size")
	assert.Contains(t, keys, "sloppiness")
}

func TestGetKnownKeys(t *testing.T) {
	cfg := Default()
	cfg.CacheDir = "/tmp/cache"

	for _, key := range ConfigKeys() {
		v, ok := cfg.Get(key)
		assert.True(t, ok, key)
		_ = v
	}

	v, ok := cfg.Get("cache_dir")
	require.True(t, ok)
	assert.Equal(t, "/tmp/cache", v)
}

func TestGetUnknownKeyIsNotOK(t *testing.T) {
	cfg := Default()
	_, ok := cfg.Get("bogus_option")
	assert.False(t, ok)
}

func TestSetRoundTripsThroughGet(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Set("max_files", "77"))
	v, ok := cfg.Get("max_files")
	require.True(t, ok)
	assert.Equal(t, "77", v)
}

func TestSetUnknownKeyErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Set("bogus_option", "1"))
}

func TestSloppinessStringRoundTrips(t *testing.T) {
	s := ParseSloppiness("mtime,locale,pch_defines")
	rendered := s.String()
	assert.Equal(t, s, ParseSloppiness(rendered))
	assert.Contains(t, rendered, "mtime")
	assert.Contains(t, rendered, "locale")
	assert.Contains(t, rendered, "pch_defines")
}

func TestSloppinessStringEmpty(t *testing.T) {
	assert.Equal(t, "", SloppyNone.String())
}
