// Package fsops implements the recursive copy and move primitives behind
// background copy/move tasks. Nothing here is transactional: a failure part
// way through leaves whatever was already copied in place.
package fsops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrExists is returned when the destination exists and overwrite is off.
var ErrExists = errors.New("destination already exists")

// IsWithin reports whether child is parent itself or lies beneath it. Both
// paths must be absolute and clean.
func IsWithin(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, strings.TrimSuffix(parent, string(filepath.Separator))+string(filepath.Separator))
}

// CopyFile copies a regular file from src to dst (overwriting dst). It creates parent directories.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	if fi, err := in.Stat(); err == nil {
		_ = os.Chtimes(dst, time.Now(), fi.ModTime())
	}
	return out.Close()
}

// CopyTree copies src (file, directory or symlink) to dst. With overwrite,
// existing entries are replaced and directories are merged; without it an
// existing dst aborts the copy. Failures on individual entries do not stop
// the walk: they are collected and returned together.
func CopyTree(src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return fmt.Errorf("%s: %w", dst, ErrExists)
		}
	}
	return copyEntry(src, dst)
}

func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := clearDest(dst, false); err != nil {
			return err
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := clearDest(dst, true); err != nil {
			return err
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		var errs []error
		for _, e := range entries {
			if err := copyEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case info.Mode().IsRegular():
		if err := clearDest(dst, false); err != nil {
			return err
		}
		if err := CopyFile(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil

	default:
		return fmt.Errorf("copy %s: unsupported file type %s", src, info.Mode().Type())
	}
}

// clearDest removes whatever is at dst unless it is a directory and keepDir is
// set (directories merge).
func clearDest(dst string, keepDir bool) error {
	info, err := os.Lstat(dst)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if keepDir && info.IsDir() {
		return nil
	}
	return os.RemoveAll(dst)
}

// MoveTree moves src to dst. A plain rename is tried first; when that is not
// possible (cross-device, or merging into an existing directory) the tree is
// copied and the source removed only if every entry copied cleanly.
func MoveTree(src, dst string, overwrite bool) error {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	dstInfo, err := os.Lstat(dst)
	switch {
	case err == nil && !overwrite:
		return fmt.Errorf("%s: %w", dst, ErrExists)
	case err == nil && srcInfo.IsDir() && dstInfo.IsDir():
		// merge
		if err := CopyTree(src, dst, true); err != nil {
			return err
		}
		return os.RemoveAll(src)
	case err == nil:
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyTree(src, dst, true); err != nil {
		return err
	}
	return os.RemoveAll(src)
}
