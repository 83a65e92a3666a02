package torrent

import (
	"context"
	"errors"
)

var (
	ErrDuplicate   = errors.New("torrent already present in client")
	ErrUnreachable = errors.New("torrent client unreachable")
)

// AddOptions controls where and how the client stores a new torrent.
type AddOptions struct {
	SavePath string
	Category string
	Tags     []string
}

type TorrentClient interface {
	AddTorrent(ctx context.Context, magnetLink string, opts AddOptions) error
	AddTorrentFile(ctx context.Context, fileContent []byte, opts AddOptions) error
	// HasTorrent reports whether a torrent with the given info hash is loaded.
	HasTorrent(ctx context.Context, hash string) (bool, error)
	HealthCheck(ctx context.Context) error
}
