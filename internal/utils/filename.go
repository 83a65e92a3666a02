package utils

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename removes characters that are invalid in file paths.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "")
	// Trailing spaces or periods break on some filesystems
	sanitized = strings.TrimRight(sanitized, " .")
	return sanitized
}

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true,
	".m4v": true, ".ts": true, ".m2ts": true, ".webm": true, ".mpg": true, ".mpeg": true,
	".rmvb": true, ".iso": true,
}

// DefaultVideoExtensions lists the extensions treated as video when the
// configuration does not override them.
func DefaultVideoExtensions() []string {
	exts := make([]string, 0, len(videoExtensions))
	for ext := range videoExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// NormalizeExtension returns the lower-cased extension of name with its leading dot.
func NormalizeExtension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsVideoFile reports whether name carries one of the default video extensions.
func IsVideoFile(name string) bool {
	return videoExtensions[NormalizeExtension(name)]
}
