package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanRelPath(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/":           "",
		".":           "",
		"/a/b":        "a/b",
		"a//b/":       "a/b",
		"../../etc":   "etc",
		`dir\file.go`: "dir/file.go",
		" a/./b ":     "a/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanRelPath(in), "input %q", in)
	}
}

func TestJoinWithinRoot(t *testing.T) {
	root := t.TempDir()

	abs, err := JoinWithinRoot(root, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), abs)

	abs, err = JoinWithinRoot(root, "../outside")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "outside"), abs)

	_, err = JoinWithinRoot(root, "a\x00b")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestRelFromRoot(t *testing.T) {
	root := t.TempDir()

	rel, err := RelFromRoot(root, filepath.Join(root, "x", "y"))
	require.NoError(t, err)
	assert.Equal(t, "x/y", rel)

	rel, err = RelFromRoot(root, root)
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = RelFromRoot(root, filepath.Dir(root))
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestEntryFromInfo(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	fi, err := os.Stat(filepath.Join(root, "notes.md"))
	require.NoError(t, err)
	e := EntryFromInfo("notes.md", fi)
	assert.Equal(t, TypeFile, e.Type)
	assert.EqualValues(t, 5, e.Size)
	assert.Equal(t, "text/plain; charset=utf-8", e.Mime)

	di, err := os.Stat(filepath.Join(root, "docs"))
	require.NoError(t, err)
	d := EntryFromInfo("docs", di)
	assert.Equal(t, TypeDir, d.Type)
	assert.Zero(t, d.Size)
}

func TestIsText(t *testing.T) {
	assert.True(t, IsText("README.MD"))
	assert.False(t, IsText("movie.mp4"))
}
