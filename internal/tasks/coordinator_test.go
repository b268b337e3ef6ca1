package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedExecutor blocks every Execute until release is closed.
type gatedExecutor struct {
	release chan struct{}
	started chan string
	err     error
}

func newGated() *gatedExecutor {
	return &gatedExecutor{release: make(chan struct{}), started: make(chan string, 16)}
}

func (g *gatedExecutor) Validate(Request) error { return nil }

func (g *gatedExecutor) Execute(t Task) error {
	g.started <- t.ID
	<-g.release
	return g.err
}

func waitState(t *testing.T, c *Coordinator, id string, owner int64) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		var err error
		v, err = c.Status(id, owner)
		return err == nil && v.State != StateRunning
	}, 5*time.Second, 5*time.Millisecond)
	return v
}

func TestSingleFlight(t *testing.T) {
	g := newGated()
	c := New(g, nil)
	defer c.Close()

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   []string
		busy  int
		other []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Submit(Request{Source: "a", Target: "b", Owner: 1, IsCopy: true})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ids = append(ids, id)
			case errors.Is(err, ErrBusy):
				busy++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, ids, 1)
	assert.Equal(t, n-1, busy)
	assert.Equal(t, ids[0], <-g.started)

	v, err := c.Status(ids[0], 1)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, v.State)
	assert.True(t, c.Running())

	close(g.release)
	v = waitState(t, c, ids[0], 1)
	assert.Equal(t, StateSucceeded, v.State)
	assert.NotZero(t, v.FinishedAt)

	// The slot is free again once the task is terminal.
	next, err := c.Submit(Request{Source: "a", Target: "b", Owner: 2})
	require.NoError(t, err)
	assert.NotEqual(t, ids[0], next)

	_, err = c.Status(ids[0], 1)
	assert.ErrorIs(t, err, ErrNotFound, "a new admission replaces the old task")
}

func TestStatusOwnerAndUnknown(t *testing.T) {
	g := newGated()
	c := New(g, nil)
	defer c.Close()

	_, err := c.Status("nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := c.Submit(Request{Source: "a", Target: "b", Owner: 7})
	require.NoError(t, err)

	_, err = c.Status(id, 8)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.Status("other", 7)
	assert.ErrorIs(t, err, ErrNotFound)

	close(g.release)
	waitState(t, c, id, 7)
}

func TestFailedTaskKeepsError(t *testing.T) {
	g := newGated()
	g.err = errors.New("disk on fire")
	close(g.release)
	c := New(g, nil)
	defer c.Close()

	id, err := c.Submit(Request{Source: "a", Target: "b", Owner: 1})
	require.NoError(t, err)
	v := waitState(t, c, id, 1)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, "disk on fire", v.Error)
}

func TestSubmitAfterClose(t *testing.T) {
	c := New(newGated(), nil)
	c.Close()
	c.Close()
	_, err := c.Submit(Request{Source: "a", Target: "b"})
	assert.ErrorIs(t, err, ErrClosed)
}

func mkfile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestFSExecutorValidate(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "a/x.txt", "x")
	mkfile(t, root, "b/keep", "")
	mkfile(t, root, "f.txt", "f")
	e := NewFSExecutor(root, nil)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"ok", Request{Source: "a", Target: "b"}, nil},
		{"missing source", Request{Source: "zz", Target: "b"}, ErrInvalidSource},
		{"root source", Request{Source: "/", Target: "b"}, ErrInvalidSource},
		{"target is a file", Request{Source: "a", Target: "f.txt"}, ErrInvalidTarget},
		{"missing target", Request{Source: "a", Target: "nope"}, ErrInvalidTarget},
		{"into itself", Request{Source: "a", Target: "a"}, ErrIntoItself},
		{"same place", Request{Source: "a/x.txt", Target: "a"}, ErrInvalidTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Validate(tc.req)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCopyAndMoveThroughCoordinator(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "src/a.txt", "alpha")
	mkfile(t, root, "dst/keep", "")

	var moved [][2]string
	e := NewFSExecutor(root, func(_ context.Context, from, to string) error {
		moved = append(moved, [2]string{from, to})
		return nil
	})
	c := New(e, nil)
	defer c.Close()

	id, err := c.Submit(Request{Source: "src", Target: "dst", Owner: 1, IsCopy: true})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, waitState(t, c, id, 1).State)
	assert.FileExists(t, filepath.Join(root, "dst", "src", "a.txt"))
	assert.FileExists(t, filepath.Join(root, "src", "a.txt"))
	assert.Empty(t, moved)

	// Copying again without overwrite fails: the destination exists.
	id, err = c.Submit(Request{Source: "src", Target: "dst", Owner: 1, IsCopy: true})
	require.NoError(t, err)
	v := waitState(t, c, id, 1)
	assert.Equal(t, StateFailed, v.State)
	assert.NotEmpty(t, v.Error)

	id, err = c.Submit(Request{Source: "src", Target: "dst", Owner: 1, Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, waitState(t, c, id, 1).State)
	assert.NoDirExists(t, filepath.Join(root, "src"))
	assert.Equal(t, [][2]string{{"src", "dst/src"}}, moved)
}

func TestDestination(t *testing.T) {
	assert.Equal(t, "b/a", Destination("/a/", "b"))
	assert.Equal(t, "x.txt", Destination("d/x.txt", ""))
}
