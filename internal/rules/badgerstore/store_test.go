package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oasis/internal/rules"
	"oasis/internal/rules/rulestest"
)

func TestStoreSuite(t *testing.T) {
	rulestest.Run(t, func(t *testing.T) rules.Store {
		s, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, rules.HiddenRule{Path: "keep/me", LeastPermission: 3}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rules.HiddenRule{{Path: "keep/me", LeastPermission: 3}}, got)
}
