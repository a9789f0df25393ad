package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeCompilerScript = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then
    out="$a"
  fi
  if [ "$a" = "-E" ]; then
    printf '# 1 "input.c"\nint x;\n'
    exit 0
  fi
  prev="$a"
done
if [ -n "$out" ]; then
  printf 'OBJCODE' > "$out"
fi
exit 0
`

func writeFakeCompiler(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(fakeCompilerScript), 0o755))
	return path
}

func TestResolveCompilerAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeCompiler(t, dir, "mygcc")

	got, err := resolveCompiler(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolveCompilerAbsolutePathMissing(t *testing.T) {
	_, err := resolveCompiler(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestResolveCompilerSearchesPATH(t *testing.T) {
	dir := t.TempDir()
	writeFakeCompiler(t, dir, "myspecialcc")
	t.Setenv("PATH", dir)

	got, err := resolveCompiler("myspecialcc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "myspecialcc"), got)
}

func TestResolveCompilerNotFoundInPATH(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := resolveCompiler("nonexistent-compiler-xyz")
	assert.Error(t, err)
}

func TestRunAsCompilerCompilesWithFakeCompiler(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("CCACHE_DIR", cacheDir)
	t.Setenv("CCACHE_CONFIGPATH", filepath.Join(cacheDir, "ccache.conf"))

	binDir := t.TempDir()
	compiler := writeFakeCompiler(t, binDir, "fakecc")

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "foo.c")
	require.NoError(t, os.WriteFile(src, []byte("int x;\n"), 0o644))
	obj := filepath.Join(srcDir, "foo.o")

	code := RunAsCompiler(compiler, []string{"-c", src, "-o", obj})
	assert.Equal(t, 0, code)
	assert.FileExists(t, obj)
}
