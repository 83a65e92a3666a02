package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// WriteFile creates path with size bytes, making parent directories.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TorrentFile is one payload entry of a generated torrent.
type TorrentFile struct {
	Path   string
	Length int64
}

// WriteTorrent writes a minimal .torrent whose info dictionary carries name
// and files. With no files it describes a single-file torrent of 1 KiB.
func WriteTorrent(t testing.TB, path, name string, files ...TorrentFile) {
	t.Helper()
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16 * 1024,
		Pieces:      make([]byte, 20),
	}
	if len(files) == 0 {
		info.Length = 1024
	}
	for _, f := range files {
		info.Files = append(info.Files, metainfo.FileInfo{
			Path:   strings.Split(filepath.ToSlash(f.Path), "/"),
			Length: f.Length,
		})
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("encode info for %s: %v", path, err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "http://tracker.invalid/announce"}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		t.Fatalf("write torrent %s: %v", path, err)
	}
}
