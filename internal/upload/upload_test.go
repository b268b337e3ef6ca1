package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oasis/internal/fsops"
)

func newManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	root := t.TempDir()
	state := t.TempDir()
	m, err := New(root, state)
	require.NoError(t, err)
	return m, root, state
}

func TestParseContentRange(t *testing.T) {
	s, e, total, err := parseContentRange("bytes 0-9/20")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 9, 20}, []int64{s, e, total})

	_, _, total, err = parseContentRange("bytes 5-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes 9-0/20", "bytes 0-20/20", "bytes a-b/c", "items 0-1/2", "bytes 0-1"} {
		_, _, _, err := parseContentRange(bad)
		assert.ErrorIs(t, err, ErrBadRange, bad)
	}
}

func TestChunkedUpload(t *testing.T) {
	m, root, _ := newManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "in"), 0o755))

	s, err := m.Create("/in/file.txt", 11, 1, false)
	require.NoError(t, err)

	_, err = m.Patch(s.ID, "bytes 6-10/11", strings.NewReader("world"))
	assert.ErrorIs(t, err, ErrOffset)

	s, err = m.Patch(s.ID, "bytes 0-5/11", strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), s.Offset)

	_, _, err = m.Finish(s.ID)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = m.Patch(s.ID, "bytes 6-10/11", strings.NewReader("world"))
	require.NoError(t, err)

	rel, size, err := m.Finish(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "in/file.txt", rel)
	assert.Equal(t, int64(11), size)

	b, err := os.ReadFile(filepath.Join(root, "in", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestPatchWhileReading(t *testing.T) {
	m, _, _ := newManager(t)
	s, err := m.Create("/f.bin", -1, 1, false)
	require.NoError(t, err)

	const chunks = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < chunks; i++ {
			_, err := m.Patch(s.ID, fmt.Sprintf("bytes %d-%d/%d", i, i, chunks), strings.NewReader("x"))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < chunks; i++ {
			got, ok := m.Get(s.ID)
			assert.True(t, ok)
			assert.LessOrEqual(t, got.Offset, int64(chunks))
			m.Prune(time.Hour)
		}
	}()
	wg.Wait()

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(chunks), got.Offset)
	assert.Equal(t, int64(chunks), got.Size)
}

func TestShortBody(t *testing.T) {
	m, _, _ := newManager(t)
	s, err := m.Create("f", -1, 1, false)
	require.NoError(t, err)
	_, err = m.Patch(s.ID, "bytes 0-9/*", strings.NewReader("abc"))
	assert.Error(t, err)
}

func TestFinishRefusesExisting(t *testing.T) {
	m, root, _ := newManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "taken"), []byte("old"), 0o644))

	s, err := m.Create("taken", 0, 1, false)
	require.NoError(t, err)
	_, _, err = m.Finish(s.ID)
	assert.ErrorIs(t, err, fsops.ErrExists)

	s, err = m.Create("taken", 0, 1, true)
	require.NoError(t, err)
	_, size, err := m.Finish(s.ID)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestSessionsSurviveRestart(t *testing.T) {
	m, root, state := newManager(t)
	s, err := m.Create("a.bin", 4, 7, false)
	require.NoError(t, err)
	_, err = m.Patch(s.ID, "bytes 0-1/4", strings.NewReader("ab"))
	require.NoError(t, err)

	m2, err := New(root, state)
	require.NoError(t, err)
	got, ok := m2.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Offset)
	assert.Equal(t, int64(7), got.Owner)

	_, err = m2.Patch(s.ID, "bytes 2-3/4", strings.NewReader("cd"))
	require.NoError(t, err)
	_, _, err = m2.Finish(s.ID)
	require.NoError(t, err)
}

func TestCreateRejectsEscapes(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Create("", 1, 1, false)
	assert.Error(t, err)
	_, err = m.Create("a\x00b", 1, 1, false)
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	m, _, state := newManager(t)
	now := time.Unix(1_000_000, 0)
	m.now = func() time.Time { return now }

	old, err := m.Create("old", -1, 1, false)
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)
	fresh, err := m.Create("fresh", -1, 1, false)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Prune(time.Hour))
	_, ok := m.Get(old.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)
	assert.NoFileExists(t, filepath.Join(state, "uploads", old.ID+".json"))
}
