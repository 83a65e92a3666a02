package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"curator/internal/clients/torrent"
	"curator/internal/library"
	"curator/internal/utils"
)

// TorrentEntry is one torrent waiting in the torrent folder.
type TorrentEntry struct {
	// Name is the file or folder name found in the torrent folder.
	Name       string             `json:"name"`
	CleanTitle string             `json:"clean_title"`
	Title      string             `json:"title"`
	SourceKind torrent.SourceKind `json:"source_kind"`
	// SourceRef is the .torrent path or the magnet URI.
	SourceRef    string `json:"source"`
	InfoHash     string `json:"info_hash"`
	InternalName string `json:"internal_name,omitempty"`
	SampleFile   string `json:"sample_file,omitempty"`
	FileCount    int    `json:"file_count"`
	TotalSize    int64  `json:"total_size"`

	source *torrent.Source
}

// InvalidTorrent is a torrent folder entry that could not be read.
type InvalidTorrent struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ListTorrents enumerates the immediate children of dir: .torrent files,
// .magnet files and folders holding a .torrent file, in name order.
func ListTorrents(dir string, keepVideo func(string) bool, logger *utils.Logger) ([]TorrentEntry, []InvalidTorrent, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		// Missing and unreadable folders are reported alike
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrPathNotFound, dir, err)
	}

	var entries []TorrentEntry
	var invalid []InvalidTorrent
	for _, de := range dirEntries {
		path := filepath.Join(dir, de.Name())
		var src *torrent.Source
		var loadErr error

		switch {
		case de.IsDir():
			inner, ok := firstTorrentIn(path)
			if !ok {
				continue
			}
			src, loadErr = torrent.LoadTorrentFile(inner)
		case strings.EqualFold(filepath.Ext(de.Name()), ".torrent"):
			src, loadErr = torrent.LoadTorrentFile(path)
		case strings.EqualFold(filepath.Ext(de.Name()), ".magnet"):
			src, loadErr = torrent.LoadMagnetFile(path)
		default:
			continue
		}

		if loadErr != nil {
			logger.Warn("Skipping unreadable torrent:", path, loadErr)
			invalid = append(invalid, InvalidTorrent{Name: de.Name(), Error: loadErr.Error()})
			continue
		}
		entries = append(entries, newTorrentEntry(de.Name(), src, keepVideo))
	}
	return entries, invalid, nil
}

func firstTorrentIn(dir string) (string, bool) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, c := range children {
		if !c.IsDir() && strings.EqualFold(filepath.Ext(c.Name()), ".torrent") {
			return filepath.Join(dir, c.Name()), true
		}
	}
	return "", false
}

func newTorrentEntry(name string, src *torrent.Source, keepVideo func(string) bool) TorrentEntry {
	e := TorrentEntry{
		Name:         name,
		CleanTitle:   library.Normalize(library.StripTrackerTag(name)),
		Title:        library.TorrentTitle(name),
		SourceKind:   src.Kind,
		SourceRef:    src.Path,
		InfoHash:     src.InfoHash,
		InternalName: src.Name,
		FileCount:    len(src.Files),
		TotalSize:    src.TotalSize,
		source:       src,
	}
	if src.Kind == torrent.SourceMagnet {
		e.SourceRef = src.Magnet
	}
	if f, ok := src.LargestFile(keepVideo); ok {
		e.SampleFile = filepath.Base(f.Path)
	}
	return e
}

// sampleTitles are the normalized names describing the torrent content.
func (e TorrentEntry) sampleTitles() []string {
	var titles []string
	if e.SampleFile != "" {
		titles = append(titles, library.Normalize(e.SampleFile))
	}
	if e.InternalName != "" {
		titles = append(titles, library.Normalize(e.InternalName))
	}
	return titles
}

// Source returns the parsed torrent, reading it again when the entry was
// decoded from JSON.
func (e TorrentEntry) Source() (*torrent.Source, error) {
	if e.source != nil {
		return e.source, nil
	}
	switch e.SourceKind {
	case torrent.SourceMagnet:
		return torrent.ParseMagnet(e.SourceRef)
	default:
		return torrent.LoadTorrentFile(e.SourceRef)
	}
}
