package fsops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("/a/b", "/a/b"))
	assert.True(t, IsWithin("/a/b", "/a/b/c"))
	assert.False(t, IsWithin("/a/b", "/a/bc"))
	assert.False(t, IsWithin("/a/b/c", "/a/b"))
}

func TestCopyTreeDirectory(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{"src/a.txt": "a", "src/sub/b.txt": "b"})

	require.NoError(t, CopyTree(filepath.Join(root, "src"), filepath.Join(root, "dst"), false))

	assert.Equal(t, "a", readFile(t, filepath.Join(root, "dst", "a.txt")))
	assert.Equal(t, "b", readFile(t, filepath.Join(root, "dst", "sub", "b.txt")))
	assert.Equal(t, "a", readFile(t, filepath.Join(root, "src", "a.txt")), "source untouched")
}

func TestCopyTreeRefusesExistingWithoutOverwrite(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{"src/a.txt": "new", "dst/a.txt": "old"})

	err := CopyTree(filepath.Join(root, "src"), filepath.Join(root, "dst"), false)
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, "old", readFile(t, filepath.Join(root, "dst", "a.txt")))
}

func TestCopyTreeOverwriteMerges(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{
		"src/a.txt":    "new",
		"dst/a.txt":    "old",
		"dst/keep.txt": "keep",
	})

	require.NoError(t, CopyTree(filepath.Join(root, "src"), filepath.Join(root, "dst"), true))
	assert.Equal(t, "new", readFile(t, filepath.Join(root, "dst", "a.txt")))
	assert.Equal(t, "keep", readFile(t, filepath.Join(root, "dst", "keep.txt")))
}

func TestMoveTreeRename(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{"src/a.txt": "a"})

	require.NoError(t, MoveTree(filepath.Join(root, "src"), filepath.Join(root, "moved"), false))
	assert.NoDirExists(t, filepath.Join(root, "src"))
	assert.Equal(t, "a", readFile(t, filepath.Join(root, "moved", "a.txt")))
}

func TestMoveTreeExisting(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{"src/a.txt": "new", "dst/a.txt": "old", "dst/b.txt": "b"})

	err := MoveTree(filepath.Join(root, "src"), filepath.Join(root, "dst"), false)
	assert.ErrorIs(t, err, ErrExists)
	assert.FileExists(t, filepath.Join(root, "src", "a.txt"))

	require.NoError(t, MoveTree(filepath.Join(root, "src"), filepath.Join(root, "dst"), true))
	assert.NoDirExists(t, filepath.Join(root, "src"))
	assert.Equal(t, "new", readFile(t, filepath.Join(root, "dst", "a.txt")))
	assert.Equal(t, "b", readFile(t, filepath.Join(root, "dst", "b.txt")))
}

func TestMoveFileOverFile(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, map[string]string{"x.txt": "x", "y.txt": "y"})

	require.NoError(t, MoveTree(filepath.Join(root, "x.txt"), filepath.Join(root, "y.txt"), true))
	assert.NoFileExists(t, filepath.Join(root, "x.txt"))
	assert.Equal(t, "x", readFile(t, filepath.Join(root, "y.txt")))
}
