// Package tasks runs copy/move operations as single-flight background tasks.
//
// At most one task occupies the coordinator's slot while it is running.
// Admission hands the task to a worker goroutine and returns its identifier
// immediately; the worker records the terminal state in place, so a later
// status query can still observe the outcome until the next task is admitted.
package tasks

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"oasis/internal/metrics"
)

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

var (
	ErrBusy      = errors.New("a copy or move task is already running")
	ErrNotFound  = errors.New("task not found")
	ErrForbidden = errors.New("task belongs to another user")
	ErrClosed    = errors.New("task coordinator is shut down")
)

// Request describes a copy/move submission. Paths are relative to the
// storage root.
type Request struct {
	Source    string
	Target    string
	Owner     int64
	IsCopy    bool
	Overwrite bool
}

// Task is the slot's content. Owner never leaves the package; callers get a
// View.
type Task struct {
	ID        string
	Source    string
	Target    string
	Owner     int64
	IsCopy    bool
	Overwrite bool
	State     State
	Err       string
	Started   time.Time
	Finished  time.Time
}

// View is the externally visible status of a task.
type View struct {
	ID         string `json:"uuid"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	IsCopy     bool   `json:"isCopy"`
	Overwrite  bool   `json:"overwrite"`
	State      State  `json:"state"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt,omitempty"`
}

func (t *Task) view() View {
	v := View{
		ID:        t.ID,
		Source:    t.Source,
		Target:    t.Target,
		IsCopy:    t.IsCopy,
		Overwrite: t.Overwrite,
		State:     t.State,
		Error:     t.Err,
		StartedAt: t.Started.Unix(),
	}
	if !t.Finished.IsZero() {
		v.FinishedAt = t.Finished.Unix()
	}
	return v
}

// Executor performs the filesystem work for a task.
type Executor interface {
	Validate(req Request) error
	Execute(t Task) error
}

// Coordinator owns the single task slot. All slot reads and writes happen
// under mu.
type Coordinator struct {
	exec    Executor
	metrics metrics.Recorder

	mu     sync.Mutex
	slot   *Task
	closed bool

	jobs chan Task
	wg   sync.WaitGroup
}

// New starts the worker goroutine. A nil recorder disables metrics.
func New(exec Executor, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	c := &Coordinator{
		exec:    exec,
		metrics: rec,
		// The slot guarantees at most one queued job.
		jobs: make(chan Task, 1),
	}
	c.wg.Add(1)
	go c.work()
	return c
}

// Submit validates req and, if no task is running, admits it. The returned
// identifier is usable with Status immediately.
func (c *Coordinator) Submit(req Request) (string, error) {
	if err := c.exec.Validate(req); err != nil {
		c.metrics.RecordTask("rejected")
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if c.slot != nil && c.slot.State == StateRunning {
		c.metrics.RecordTask("rejected")
		return "", ErrBusy
	}
	t := &Task{
		ID:        uuid.NewString(),
		Source:    req.Source,
		Target:    req.Target,
		Owner:     req.Owner,
		IsCopy:    req.IsCopy,
		Overwrite: req.Overwrite,
		State:     StateRunning,
		Started:   time.Now(),
	}
	c.slot = t
	c.jobs <- *t
	c.metrics.RecordTask("admitted")
	return t.ID, nil
}

// Status returns the slot's task if id matches it and owner submitted it.
func (c *Coordinator) Status(id string, owner int64) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil || c.slot.ID != id {
		return View{}, ErrNotFound
	}
	if c.slot.Owner != owner {
		return View{}, ErrForbidden
	}
	return c.slot.view(), nil
}

// Running reports whether the slot currently holds a running task.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil && c.slot.State == StateRunning
}

// Close stops accepting tasks and waits for the running one to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) work() {
	defer c.wg.Done()
	for t := range c.jobs {
		c.finish(t.ID, c.exec.Execute(t))
	}
}

func (c *Coordinator) finish(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil || c.slot.ID != id || c.slot.State != StateRunning {
		return
	}
	c.slot.Finished = time.Now()
	if err != nil {
		c.slot.State = StateFailed
		c.slot.Err = err.Error()
	} else {
		c.slot.State = StateSucceeded
	}
	c.metrics.RecordTask(string(c.slot.State))
	c.metrics.ObserveTaskDuration(c.slot.Finished.Sub(c.slot.Started))
}
