package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmdRegistersManagementFlags(t *testing.T) {
	for _, name := range []string{
		"cleanup", "clear", "max-files", "max-size", "recompress",
		"show-compression", "show-config", "show-stats", "print-stats",
		"zero-stats", "get-config", "set-config", "hash-file",
		"dump-manifest", "dump-result",
	} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
}

func TestRootCmdUse(t *testing.T) {
	assert.Equal(t, "ccwrap", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Version)
}
