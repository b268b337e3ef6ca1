package search

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oasis/internal/access"
	"oasis/internal/rules"
)

func TestParseKeywords(t *testing.T) {
	assert.Equal(t, []string{"report", ".pdf"}, ParseKeywords("Report+.PDF"))
	assert.Equal(t, []string{"a", "b"}, ParseKeywords("  a + b "))
	assert.Empty(t, ParseKeywords(" + "))
}

func TestMatch(t *testing.T) {
	cases := []struct {
		name  string
		isDir bool
		kws   []string
		want  bool
	}{
		{"app.js", false, []string{".js"}, true},
		{"app.json", false, []string{".js"}, false},
		{"Report_2024.pdf", false, []string{"report"}, true},
		{"Report_2024.pdf", false, []string{"report", ".PDF"}, true},
		{"Report_2024.pdf", false, []string{"report", "2023"}, false},
		{"lib.js", true, []string{".js"}, false},
		{"APP.JS", false, []string{".js"}, true},
		{"js", false, []string{".js"}, false},
		{".env", false, []string{".env"}, false},
		{".gitignore", false, []string{".gitignore"}, false},
		{".env", false, []string{"env"}, true},
		{".env.local", false, []string{".local"}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.name, tc.isDir, tc.kws), "%s %v", tc.name, tc.kws)
	}
}

func mkTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, rel := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
	}
}

func paths(res Result) []string {
	out := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

func TestSearchFiltersByPermission(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root,
		"docs/report.pdf",
		"docs/private/report-secret.pdf",
		"report.txt",
		"reports/readme.md",
	)
	idx := access.NewIndex([]rules.HiddenRule{
		{Path: "docs/private", LeastPermission: 5},
		{Path: "report.txt", LeastPermission: 2},
	})
	ctx := context.Background()

	res, err := Search(ctx, root, Query{Keywords: []string{"report"}}, idx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/report.pdf", "reports"}, paths(res))

	res, err = Search(ctx, root, Query{Keywords: []string{"report"}}, idx, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docs/private/report-secret.pdf",
		"docs/report.pdf",
		"report.txt",
		"reports",
	}, paths(res))

	res, err = Search(ctx, root, Query{Keywords: []string{"report", ".pdf"}}, idx, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/private/report-secret.pdf", "docs/report.pdf"}, paths(res))
}

func TestSearchEntriesCarryExactLevel(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "a/b.txt")
	idx := access.NewIndex([]rules.HiddenRule{{Path: "a", LeastPermission: 1}})

	res, err := Search(context.Background(), root, Query{Keywords: []string{"b"}}, idx, 1)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, 0, res.Entries[0].LeastPermission)
}

func TestSearchMaxResults(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "x1", "x2", "x3")
	idx := access.NewIndex(nil)

	res, err := Search(context.Background(), root, Query{Keywords: []string{"x"}, MaxResults: 2}, idx, 0)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
	assert.True(t, res.Truncated)

	res, err = Search(context.Background(), root, Query{Keywords: []string{"x"}, MaxResults: 3}, idx, 0)
	require.NoError(t, err)
	assert.Len(t, res.Entries, 3)
	assert.False(t, res.Truncated)
}

func TestSearchRejectsEmptyQueryAndCancelled(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "a")
	idx := access.NewIndex(nil)

	_, err := Search(context.Background(), root, Query{}, idx, 0)
	assert.ErrorIs(t, err, ErrNoKeywords)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Search(ctx, root, Query{Keywords: []string{"a"}}, idx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchExclude(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, ".state/x.db", "x.txt")
	idx := access.NewIndex(nil)

	res, err := Search(context.Background(), root, Query{
		Keywords: []string{"x"},
		Exclude:  func(rel string) bool { return rel == ".state" },
	}, idx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.txt"}, paths(res))
}
