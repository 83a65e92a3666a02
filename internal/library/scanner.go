package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"curator/internal/utils"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Scanner walks a library root and reports directories and video files.
type Scanner struct {
	logger    *utils.Logger
	videoExts map[string]bool
	workers   int
}

func NewScanner(logger *utils.Logger, videoExtensions []string, workers int) *Scanner {
	exts := make(map[string]bool, len(videoExtensions))
	for _, ext := range videoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	if workers < 1 {
		workers = 1
	}
	return &Scanner{logger: logger, videoExts: exts, workers: workers}
}

// ExclusionSet matches directory names against lower-cased fragments.
type ExclusionSet []string

func NewExclusionSet(fragments []string) ExclusionSet {
	var set ExclusionSet
	for _, f := range fragments {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			set = append(set, f)
		}
	}
	return set
}

// Excludes reports whether a directory called name is pruned.
func (s ExclusionSet) Excludes(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range s {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// subtree is what one worker collects under a top-level directory.
type subtree struct {
	dirs   []scanned
	files  []scanned
	errors []ScanError
}

type scanned struct {
	entry FileEntry
	real  string
}

// Scan walks root depth first. Top-level directories are walked in parallel
// and merged in name order, so repeated scans of an unchanged tree give the
// same output.
func (s *Scanner) Scan(ctx context.Context, root string, exclusions []string) (*ScanResult, error) {
	root = Identity(root)
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, root)
		}
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrPathNotFound, root)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
	}

	children, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, root)
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	excl := NewExclusionSet(exclusions)
	s.logger.Info("Scanning", root, "with", len(excl), "exclusion fragments")

	parts := make([]subtree, len(children))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, de := range children {
		if ctx.Err() != nil {
			break
		}
		w := &walker{scanner: s, excl: excl, visited: map[string]bool{realRoot: true}, out: &parts[i]}
		if !de.IsDir() && de.Type()&fs.ModeSymlink == 0 {
			w.visit(ctx, root, realRoot, de)
			continue
		}
		g.Go(func() error {
			w.visit(ctx, root, realRoot, de)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	result := &ScanResult{Root: root, Directories: []FileEntry{}, Files: []FileEntry{}}
	seen := map[string]bool{}
	for _, part := range parts {
		for _, d := range part.dirs {
			if !seen[d.real] {
				seen[d.real] = true
				result.Directories = append(result.Directories, d.entry)
			}
		}
		for _, f := range part.files {
			if !seen[f.real] {
				seen[f.real] = true
				result.Files = append(result.Files, f.entry)
			}
		}
		result.Errors = append(result.Errors, part.errors...)
	}
	result.TotalDirs = len(result.Directories)
	result.TotalFiles = len(result.Files)

	var size int64
	for _, f := range result.Files {
		size += f.Size
	}
	s.logger.Info(fmt.Sprintf("Scan of %s found %d directories and %d video files (%s), %d unreadable paths",
		root, result.TotalDirs, result.TotalFiles, humanize.Bytes(uint64(size)), len(result.Errors)))
	return result, nil
}

type walker struct {
	scanner *Scanner
	excl    ExclusionSet
	visited map[string]bool
	out     *subtree
}

func (w *walker) visit(ctx context.Context, dir, realDir string, de fs.DirEntry) {
	full := filepath.Join(dir, de.Name())

	info, err := de.Info()
	if err != nil {
		w.softError(full, err)
		return
	}
	real := filepath.Join(realDir, de.Name())
	if info.Mode()&fs.ModeSymlink != 0 {
		if info, err = os.Stat(full); err != nil {
			w.softError(full, err)
			return
		}
		if real, err = filepath.EvalSymlinks(full); err != nil {
			w.softError(full, err)
			return
		}
	}

	if info.IsDir() {
		if w.excl.Excludes(de.Name()) {
			w.scanner.logger.Debug("Pruned excluded directory", full)
			return
		}
		if w.visited[real] {
			w.scanner.logger.Debug("Skipping already visited directory", full, "->", real)
			return
		}
		w.visited[real] = true
		w.out.dirs = append(w.out.dirs, scanned{
			entry: FileEntry{Path: full, Name: de.Name(), Kind: KindDirectory},
			real:  real,
		})
		w.walk(ctx, full, real)
		return
	}

	if !info.Mode().IsRegular() {
		return
	}
	ext := utils.NormalizeExtension(de.Name())
	if !w.scanner.videoExts[ext] || w.visited[real] {
		return
	}
	w.visited[real] = true
	w.out.files = append(w.out.files, scanned{
		entry: FileEntry{Path: full, Name: de.Name(), Extension: ext, Size: info.Size(), Kind: KindFile},
		real:  real,
	})
}

func (w *walker) walk(ctx context.Context, dir, realDir string) {
	if ctx.Err() != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.softError(dir, err)
		return
	}
	for _, de := range entries {
		w.visit(ctx, dir, realDir, de)
	}
}

func (w *walker) softError(path string, err error) {
	if errors.Is(err, fs.ErrPermission) {
		err = fmt.Errorf("%w: %v", ErrPermission, err)
	}
	w.scanner.logger.Warn("Skipping unreadable path", path+":", err)
	w.out.errors = append(w.out.errors, ScanError{Path: path, Err: err})
}
