package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"curator/internal/utils"
)

const (
	MethodMove     = "move"
	MethodCopy     = "copy"
	MethodHardlink = "hardlink"
	MethodSymlink  = "symlink"
)

// Mover places a file or folder at its library destination, trying the
// configured methods in order.
type Mover struct {
	methods []string
	logger  *utils.Logger
}

func NewMover(methods []string, logger *utils.Logger) *Mover {
	if len(methods) == 0 {
		methods = []string{MethodMove, MethodCopy}
	}
	return &Mover{methods: methods, logger: logger}
}

// Place puts src at dst and returns the method that worked. An existing dst
// is never touched.
func (m *Mover) Place(ctx context.Context, src, dst string) (string, error) {
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTarget, dst)
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPathNotFound, src)
		}
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create category folder: %w", err)
	}

	var lastErr error
	for _, method := range m.methods {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		m.logger.Debug(fmt.Sprintf("Attempting to '%s': %s", method, src))

		switch method {
		case MethodMove:
			err = os.Rename(src, dst)
			if err != nil && isCrossDevice(err) {
				m.logger.Debug("Rename crosses devices, trying next method:", src)
			}
		case MethodCopy:
			err = m.copyAndRemove(ctx, src, dst, info)
			var removeErr *sourceRemovalError
			if errors.As(err, &removeErr) {
				// The copy is in place, so later methods would only hit the target
				return method, err
			}
		case MethodHardlink:
			err = linkTree(ctx, src, dst, info)
			if err != nil {
				_ = os.RemoveAll(dst)
			}
		case MethodSymlink:
			var abs string
			if abs, err = filepath.Abs(src); err == nil {
				err = os.Symlink(abs, dst)
			}
		default:
			err = fmt.Errorf("unknown move method: %s", method)
		}

		if err == nil {
			m.logger.Debug(fmt.Sprintf("Placed with method '%s': %s", method, dst))
			return method, nil
		}
		lastErr = err
		m.logger.Warn(fmt.Sprintf("Method '%s' failed for '%s': %v. Trying next method.", method, src, err))
	}
	return "", fmt.Errorf("all move methods failed for %s: %w", src, lastErr)
}

type sourceRemovalError struct {
	path string
	err  error
}

func (e *sourceRemovalError) Error() string {
	return fmt.Sprintf("copied, but could not remove source %s: %v", e.path, e.err)
}

func (e *sourceRemovalError) Unwrap() error {
	return e.err
}

// copyAndRemove copies src to dst and deletes src. A failed copy removes
// whatever was written and leaves src alone.
func (m *Mover) copyAndRemove(ctx context.Context, src, dst string, info fs.FileInfo) error {
	var err error
	if info.IsDir() {
		err = copyTree(ctx, src, dst)
	} else {
		err = copyFile(src, dst, info.Mode().Perm())
	}
	if err != nil {
		if rmErr := os.RemoveAll(dst); rmErr != nil {
			m.logger.Error("Could not remove partial copy:", dst, rmErr)
		}
		return err
	}
	if err := os.RemoveAll(src); err != nil {
		return &sourceRemovalError{path: src, err: err}
	}
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Special files and links are not part of a media item
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// linkTree hard links a file, or recreates a folder and hard links its files.
func linkTree(ctx context.Context, src, dst string, info fs.FileInfo) error {
	if !info.IsDir() {
		return os.Link(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return os.Link(path, target)
	})
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}
