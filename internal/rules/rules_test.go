package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains("a", "a"))
	assert.True(t, Contains("a", "a/b/c"))
	assert.True(t, Contains("", "anything"))
	assert.False(t, Contains("a/b", "a/bc"))
	assert.False(t, Contains("a/b", "a"))
}

func TestRebase(t *testing.T) {
	assert.Equal(t, "z", Rebase("a", "a", "z"))
	assert.Equal(t, "z/y/b", Rebase("a/b", "a", "z/y"))
	assert.Equal(t, "b/c", Rebase("x/b/c", "x", ""))
}

func TestValidate(t *testing.T) {
	r := HiddenRule{Path: "/photos/2024/", LeastPermission: 1}
	assert.NoError(t, r.Validate())
	assert.Equal(t, "photos/2024", r.Path)

	r = HiddenRule{Path: "/", LeastPermission: 1}
	assert.ErrorIs(t, r.Validate(), ErrEmptyPath)

	r = HiddenRule{Path: "a", LeastPermission: 0}
	assert.ErrorIs(t, r.Validate(), ErrInvalidLevel)
}
