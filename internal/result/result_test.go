package result

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacheline/ccwrap/internal/digest"
)

func testResultKey(t *testing.T) digest.Digest {
	t.Helper()
	h := digest.New()
	h.Delimiter("key")
	h.AbsorbString(t.Name())
	return h.Finalize()
}

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStorePutThenGet(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()
	destDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)

	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	depPath := writeSourceFile(t, srcDir, "a.d", "a.o: a.c\n")

	require.NoError(t, store.Put(key, Sources{
		FileObject:     objPath,
		FileDependency: depPath,
	}))

	destObj := filepath.Join(destDir, "out.o")
	destDep := filepath.Join(destDir, "out.d")
	require.NoError(t, store.Get(key, Destinations{
		FileObject:     destObj,
		FileDependency: destDep,
	}))

	gotObj, err := os.ReadFile(destObj)
	require.NoError(t, err)
	assert.Equal(t, "object contents", string(gotObj))

	gotDep, err := os.ReadFile(destDep)
	require.NoError(t, err)
	assert.Equal(t, "a.o: a.c\n", string(gotDep))
}

func TestStoreGetSkipsDevNullDestination(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)

	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	require.NoError(t, store.Put(key, Sources{FileObject: objPath}))

	err := store.Get(key, Destinations{
		FileObject:       os.DevNull,
		FileStderrOutput: os.DevNull,
	})
	require.NoError(t, err)
}

func TestStoreGetMissingRequestedEntryIsError(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()
	destDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)

	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	require.NoError(t, store.Put(key, Sources{FileObject: objPath}))

	err := store.Get(key, Destinations{
		FileCoverage: filepath.Join(destDir, "out.gcno"),
	})
	assert.Error(t, err)
}

func TestStoreGetOnMissingBundleIsError(t *testing.T) {
	store := NewStore(t.TempDir(), 0, false)
	key := testResultKey(t)
	err := store.Get(key, Destinations{FileObject: filepath.Join(t.TempDir(), "out.o")})
	assert.Error(t, err)
}

func TestLinkFallsBackToCopyAcrossDirs(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	src := writeSourceFile(t, srcDir, "a.o", "linked or copied")
	dest := filepath.Join(destDir, "nested", "out.o")

	require.NoError(t, Link(src, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "linked or copied", string(got))
}

func TestOrderedTypesFollowsEnumOrder(t *testing.T) {
	m := map[FileType]string{
		FileDwarfObject: "x",
		FileObject:      "y",
		FileStderrOutput: "z",
	}
	got := orderedTypes(m)
	require.Len(t, got, 3)
	assert.Equal(t, FileObject, got[0])
	assert.Equal(t, FileStderrOutput, got[1])
	assert.Equal(t, FileDwarfObject, got[2])
}

func TestStorePutWithStderrRoundTrip(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)
	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")

	require.NoError(t, store.PutWithStderr(key, Sources{FileObject: objPath}, []byte("warning: w\n")))

	got, ok := store.Stderr(key)
	require.True(t, ok)
	assert.Equal(t, "warning: w\n", string(got))
}

func TestStorePutWithEmptyStderrOmitsEntry(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)
	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")

	require.NoError(t, store.PutWithStderr(key, Sources{FileObject: objPath}, nil))

	_, ok := store.Stderr(key)
	assert.False(t, ok)
}

func TestStoreRemoveMakesGetMiss(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()

	store := NewStore(cacheDir, 0, false)
	key := testResultKey(t)
	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	require.NoError(t, store.Put(key, Sources{FileObject: objPath}))

	require.NoError(t, store.Remove(key))
	err := store.Get(key, Destinations{FileObject: filepath.Join(t.TempDir(), "out.o")})
	assert.Error(t, err)
}

func TestStoreGetHardLinksObject(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()
	destDir := t.TempDir()

	store := NewStore(cacheDir, 0, true)
	key := testResultKey(t)
	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	require.NoError(t, store.Put(key, Sources{FileObject: objPath}))

	dest := filepath.Join(destDir, "out.o")
	require.NoError(t, store.Get(key, Destinations{FileObject: dest}))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "object contents", string(got))

	destInfo, err := os.Stat(dest)
	require.NoError(t, err)
	blobInfo, err := os.Stat(store.blobPath(key))
	require.NoError(t, err)
	assert.True(t, os.SameFile(destInfo, blobInfo), "object not hard-linked to the sidecar blob")
}

func TestStoreRemoveDropsSidecarBlob(t *testing.T) {
	cacheDir := t.TempDir()
	srcDir := t.TempDir()

	store := NewStore(cacheDir, 0, true)
	key := testResultKey(t)
	objPath := writeSourceFile(t, srcDir, "a.o", "object contents")
	require.NoError(t, store.Put(key, Sources{FileObject: objPath}))
	require.NoError(t, store.Get(key, Destinations{FileObject: filepath.Join(t.TempDir(), "out.o")}))

	require.NoError(t, store.Remove(key))
	_, err := os.Stat(store.blobPath(key))
	assert.True(t, os.IsNotExist(err))
}
