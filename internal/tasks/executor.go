package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"oasis/internal/fsops"
	"oasis/internal/fsutil"
	"oasis/internal/logger"
)

var (
	ErrInvalidSource = errors.New("source does not exist")
	ErrInvalidTarget = errors.New("target is not an existing directory")
	ErrIntoItself    = errors.New("target lies inside the source")
)

// MoveHook is called after a successful move with the root-relative source
// and destination paths.
type MoveHook func(ctx context.Context, from, to string) error

// FSExecutor copies or moves entries beneath a storage root. The result of a
// task always lands at Target/base(Source).
type FSExecutor struct {
	root    string
	onMoved MoveHook
}

func NewFSExecutor(root string, onMoved MoveHook) *FSExecutor {
	return &FSExecutor{root: root, onMoved: onMoved}
}

// Destination returns the root-relative path a task's result lands at.
func Destination(source, target string) string {
	return fsutil.JoinRel(fsutil.CleanRelPath(target), path.Base(fsutil.CleanRelPath(source)))
}

func (e *FSExecutor) resolve(req Request) (src, dst string, err error) {
	src, err = fsutil.JoinWithinRoot(e.root, req.Source)
	if err != nil {
		return "", "", err
	}
	dst, err = fsutil.JoinWithinRoot(e.root, Destination(req.Source, req.Target))
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// Validate rejects submissions that could never succeed. It only stats paths.
func (e *FSExecutor) Validate(req Request) error {
	if fsutil.CleanRelPath(req.Source) == "" {
		return fmt.Errorf("%w: cannot copy or move the root", ErrInvalidSource)
	}
	src, err := fsutil.JoinWithinRoot(e.root, req.Source)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSource, req.Source)
	}
	target, err := fsutil.JoinWithinRoot(e.root, req.Target)
	if err != nil {
		return err
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, req.Target)
	}
	if fsops.IsWithin(src, target) {
		return ErrIntoItself
	}
	if filepath.Dir(src) == target {
		return fmt.Errorf("%w: destination is the source itself", ErrInvalidTarget)
	}
	return nil
}

// Execute performs the copy or move. Moves run the hook only once the
// filesystem work succeeded.
func (e *FSExecutor) Execute(t Task) error {
	req := Request{Source: t.Source, Target: t.Target}
	src, dst, err := e.resolve(req)
	if err != nil {
		return err
	}
	op := "move"
	if t.IsCopy {
		op = "copy"
	}
	logger.Info("task %s: %s %s -> %s (overwrite=%t)", t.ID, op, t.Source, t.Target, t.Overwrite)

	if t.IsCopy {
		err = fsops.CopyTree(src, dst, t.Overwrite)
	} else {
		err = fsops.MoveTree(src, dst, t.Overwrite)
	}
	if err != nil {
		logger.Warn("task %s failed: %v", t.ID, err)
		return err
	}

	if !t.IsCopy && e.onMoved != nil {
		to := Destination(t.Source, t.Target)
		if err := e.onMoved(context.Background(), fsutil.CleanRelPath(t.Source), to); err != nil {
			logger.Error("task %s: rewrite hidden rules %s -> %s: %v", t.ID, t.Source, to, err)
			return fmt.Errorf("moved, but hidden rules were not updated: %w", err)
		}
	}
	logger.Info("task %s finished", t.ID)
	return nil
}
