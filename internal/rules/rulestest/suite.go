// Package rulestest holds the behavioural test suite every rules.Store
// backend must pass.
package rulestest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oasis/internal/rules"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) rules.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndList", func(t *testing.T) { testInsertAndList(t, newStore(t)) })
	t.Run("InsertReplaces", func(t *testing.T) { testInsertReplaces(t, newStore(t)) })
	t.Run("InsertRejectsInvalid", func(t *testing.T) { testInsertRejectsInvalid(t, newStore(t)) })
	t.Run("DeleteExact", func(t *testing.T) { testDeleteExact(t, newStore(t)) })
	t.Run("DeleteTree", func(t *testing.T) { testDeleteTree(t, newStore(t)) })
	t.Run("RenameTree", func(t *testing.T) { testRenameTree(t, newStore(t)) })
	t.Run("RenameTreeOntoExisting", func(t *testing.T) { testRenameTreeOntoExisting(t, newStore(t)) })
}

func seed(t *testing.T, s rules.Store, rs ...rules.HiddenRule) {
	t.Helper()
	for _, r := range rs {
		require.NoError(t, s.Insert(context.Background(), r))
	}
}

func list(t *testing.T, s rules.Store) []rules.HiddenRule {
	t.Helper()
	out, err := s.List(context.Background())
	require.NoError(t, err)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func testInsertAndList(t *testing.T, s rules.Store) {
	defer s.Close()
	assert.Empty(t, list(t, s))

	seed(t, s,
		rules.HiddenRule{Path: "b", LeastPermission: 1},
		rules.HiddenRule{Path: "/a/x/", LeastPermission: 2},
	)
	assert.Equal(t, []rules.HiddenRule{
		{Path: "a/x", LeastPermission: 2},
		{Path: "b", LeastPermission: 1},
	}, list(t, s))
}

func testInsertReplaces(t *testing.T, s rules.Store) {
	defer s.Close()
	seed(t, s,
		rules.HiddenRule{Path: "a", LeastPermission: 1},
		rules.HiddenRule{Path: "a", LeastPermission: 7},
	)
	assert.Equal(t, []rules.HiddenRule{{Path: "a", LeastPermission: 7}}, list(t, s))
}

func testInsertRejectsInvalid(t *testing.T, s rules.Store) {
	defer s.Close()
	ctx := context.Background()
	assert.ErrorIs(t, s.Insert(ctx, rules.HiddenRule{Path: "", LeastPermission: 1}), rules.ErrEmptyPath)
	assert.ErrorIs(t, s.Insert(ctx, rules.HiddenRule{Path: "a", LeastPermission: 0}), rules.ErrInvalidLevel)
	assert.Empty(t, list(t, s))
}

func testDeleteExact(t *testing.T, s rules.Store) {
	defer s.Close()
	seed(t, s,
		rules.HiddenRule{Path: "a", LeastPermission: 1},
		rules.HiddenRule{Path: "a/b", LeastPermission: 1},
	)
	require.NoError(t, s.Delete(context.Background(), "a"))
	require.NoError(t, s.Delete(context.Background(), "missing"))
	assert.Equal(t, []rules.HiddenRule{{Path: "a/b", LeastPermission: 1}}, list(t, s))
}

func testDeleteTree(t *testing.T, s rules.Store) {
	defer s.Close()
	seed(t, s,
		rules.HiddenRule{Path: "a", LeastPermission: 1},
		rules.HiddenRule{Path: "a/b", LeastPermission: 2},
		rules.HiddenRule{Path: "a/b/c.txt", LeastPermission: 3},
		rules.HiddenRule{Path: "ab", LeastPermission: 4},
		rules.HiddenRule{Path: "z", LeastPermission: 5},
	)
	require.NoError(t, s.DeleteTree(context.Background(), "a"))
	assert.Equal(t, []rules.HiddenRule{
		{Path: "ab", LeastPermission: 4},
		{Path: "z", LeastPermission: 5},
	}, list(t, s))
}

func testRenameTree(t *testing.T, s rules.Store) {
	defer s.Close()
	seed(t, s,
		rules.HiddenRule{Path: "old", LeastPermission: 1},
		rules.HiddenRule{Path: "old/x", LeastPermission: 2},
		rules.HiddenRule{Path: "older", LeastPermission: 3},
	)
	require.NoError(t, s.RenameTree(context.Background(), "old", "new/place"))
	assert.Equal(t, []rules.HiddenRule{
		{Path: "new/place", LeastPermission: 1},
		{Path: "new/place/x", LeastPermission: 2},
		{Path: "older", LeastPermission: 3},
	}, list(t, s))
}

func testRenameTreeOntoExisting(t *testing.T, s rules.Store) {
	defer s.Close()
	seed(t, s,
		rules.HiddenRule{Path: "src", LeastPermission: 2},
		rules.HiddenRule{Path: "dst", LeastPermission: 8},
	)
	require.NoError(t, s.RenameTree(context.Background(), "src", "dst"))
	assert.Equal(t, []rules.HiddenRule{{Path: "dst", LeastPermission: 2}}, list(t, s))
}
