package library

import (
	"errors"
	"path/filepath"
)

var (
	ErrPathNotFound = errors.New("path not found")
	ErrPermission   = errors.New("permission denied")
)

type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// FileEntry is a scanned file or directory. Entries are not modified after
// the scan that produced them.
type FileEntry struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Extension string    `json:"extension,omitempty"`
	Size      int64     `json:"size"`
	Kind      EntryKind `json:"kind"`
}

// ID is the identity used by the processed record.
func (e FileEntry) ID() string {
	return Identity(e.Path)
}

func (e FileEntry) IsDir() bool {
	return e.Kind == KindDirectory
}

// Identity returns the cleaned absolute form of path.
func Identity(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// ScanError is a soft failure for one subtree. The scan carries on without it.
type ScanError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e ScanError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e ScanError) Unwrap() error {
	return e.Err
}

type ScanResult struct {
	Root        string      `json:"root"`
	Directories []FileEntry `json:"directories"`
	Files       []FileEntry `json:"files"`
	TotalFiles  int         `json:"total_files"`
	TotalDirs   int         `json:"total_dirs"`
	Errors      []ScanError `json:"-"`
}

// TotalCount is the number of emitted entries.
func (r *ScanResult) TotalCount() int {
	return r.TotalFiles + r.TotalDirs
}

// ErrorMessages flattens the soft errors for JSON responses.
func (r *ScanResult) ErrorMessages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}
