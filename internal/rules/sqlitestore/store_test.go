package sqlitestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"oasis/internal/rules"
	"oasis/internal/rules/rulestest"
)

func TestStoreSuite(t *testing.T) {
	rulestest.Run(t, func(t *testing.T) rules.Store {
		s, err := Open(Config{Path: filepath.Join(t.TempDir(), "rules.db")})
		require.NoError(t, err)
		return s
	})
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oasis.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)
}
