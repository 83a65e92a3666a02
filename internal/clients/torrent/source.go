package torrent

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var ErrInvalidSource = errors.New("invalid torrent source")

type SourceKind string

const (
	SourceFile   SourceKind = "torrent_file"
	SourceMagnet SourceKind = "magnet"
)

// Source is a torrent found in the watch folder, either a .torrent file or a
// magnet link saved in a .magnet text file.
type Source struct {
	Kind     SourceKind `json:"kind"`
	Path     string     `json:"path"`
	Magnet   string     `json:"magnet,omitempty"`
	InfoHash string     `json:"info_hash"`
	// Name is the torrent's own root name from the info dictionary or the
	// magnet display name.
	Name      string        `json:"name"`
	Files     []ContentFile `json:"files,omitempty"`
	TotalSize int64         `json:"total_size"`
}

type ContentFile struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// LoadTorrentFile parses a .torrent file.
func LoadTorrentFile(path string) (*Source, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSource, path, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSource, path, err)
	}

	src := &Source{
		Kind:     SourceFile,
		Path:     path,
		InfoHash: mi.HashInfoBytes().HexString(),
		Name:     info.Name,
	}
	if len(info.Files) == 0 {
		src.Files = []ContentFile{{Path: info.Name, Length: info.Length}}
	} else {
		for _, f := range info.Files {
			src.Files = append(src.Files, ContentFile{Path: strings.Join(f.Path, "/"), Length: f.Length})
		}
	}
	for _, f := range src.Files {
		src.TotalSize += f.Length
	}
	return src, nil
}

// LoadMagnetFile reads the first magnet URI from a text file.
func LoadMagnetFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSource, path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "magnet:") {
			src, err := ParseMagnet(line)
			if err != nil {
				return nil, err
			}
			src.Path = path
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: %s holds no magnet link", ErrInvalidSource, path)
}

func ParseMagnet(uri string) (*Source, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return &Source{
		Kind:     SourceMagnet,
		Magnet:   uri,
		InfoHash: m.InfoHash.HexString(),
		Name:     m.DisplayName,
	}, nil
}

// Content returns the bytes handed to the client for file sources.
func (s *Source) Content() ([]byte, error) {
	if s.Kind != SourceFile {
		return nil, fmt.Errorf("%w: %s has no file content", ErrInvalidSource, s.Name)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	// Validate before shipping so a truncated file fails here, not in the client
	if _, err := metainfo.Load(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return data, nil
}

// LargestFile returns the biggest payload file matching keep, falling back
// to the biggest file of any kind.
func (s *Source) LargestFile(keep func(name string) bool) (ContentFile, bool) {
	files := append([]ContentFile(nil), s.Files...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Length > files[j].Length })
	for _, f := range files {
		if keep == nil || keep(filepath.Base(f.Path)) {
			return f, true
		}
	}
	if len(files) > 0 {
		return files[0], true
	}
	return ContentFile{}, false
}
