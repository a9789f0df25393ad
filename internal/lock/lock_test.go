package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAndUnlock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "x.manifest")
	l, err := Lock(target, time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestLockTimesOutWhenHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "x.manifest")
	holder, err := Lock(target, time.Second)
	require.NoError(t, err)
	defer holder.Unlock()

	_, err = Lock(target, 50*time.Millisecond)
	assert.Error(t, err)
}
