package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
)

// QBittorrentClient implements the TorrentClient interface on top of the
// qBittorrent Web API.
type QBittorrentClient struct {
	client *qbt.Client
	host   string

	mu       sync.Mutex
	loggedIn bool
}

func NewQBittorrentClient(host, username, password string, timeout time.Duration) *QBittorrentClient {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return &QBittorrentClient{
		host: host,
		client: qbt.NewClient(qbt.Config{
			Host:     host,
			Username: username,
			Password: password,
			Timeout:  int(timeout.Seconds()),
		}),
	}
}

// login authenticates once per client and keeps the session cookie.
func (q *QBittorrentClient) login(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loggedIn {
		return nil
	}
	if err := q.client.LoginCtx(ctx); err != nil {
		if isTransportError(err) {
			return fmt.Errorf("%w: %s: %v", ErrUnreachable, q.host, err)
		}
		return fmt.Errorf("qbittorrent login failed: %w", err)
	}
	q.loggedIn = true
	return nil
}

func (q *QBittorrentClient) options(opts AddOptions) map[string]string {
	options := map[string]string{
		"savepath": opts.SavePath,
		"autoTMM":  "false",
	}
	if opts.Category != "" {
		options["category"] = opts.Category
	}
	if len(opts.Tags) > 0 {
		options["tags"] = strings.Join(opts.Tags, ",")
	}
	return options
}

func (q *QBittorrentClient) AddTorrent(ctx context.Context, magnetLink string, opts AddOptions) error {
	if err := q.login(ctx); err != nil {
		return err
	}
	if err := q.client.AddTorrentFromUrlCtx(ctx, magnetLink, q.options(opts)); err != nil {
		return q.classify(fmt.Errorf("failed to add magnet: %w", err))
	}
	return nil
}

func (q *QBittorrentClient) AddTorrentFile(ctx context.Context, fileContent []byte, opts AddOptions) error {
	if err := q.login(ctx); err != nil {
		return err
	}
	if err := q.client.AddTorrentFromMemoryCtx(ctx, fileContent, q.options(opts)); err != nil {
		return q.classify(fmt.Errorf("failed to add torrent file: %w", err))
	}
	return nil
}

func (q *QBittorrentClient) HasTorrent(ctx context.Context, hash string) (bool, error) {
	if err := q.login(ctx); err != nil {
		return false, err
	}
	torrents, err := q.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{strings.ToLower(hash)}})
	if err != nil {
		return false, q.classify(fmt.Errorf("failed to list torrents: %w", err))
	}
	for _, t := range torrents {
		if strings.EqualFold(t.Hash, hash) {
			return true, nil
		}
	}
	return false, nil
}

func (q *QBittorrentClient) HealthCheck(ctx context.Context) error {
	q.mu.Lock()
	q.loggedIn = false
	q.mu.Unlock()
	return q.login(ctx)
}

// classify drops the cached login when the client became unreachable so the
// next call authenticates again.
func (q *QBittorrentClient) classify(err error) error {
	err = classify(q.host, err)
	if errors.Is(err, ErrUnreachable) {
		q.mu.Lock()
		q.loggedIn = false
		q.mu.Unlock()
	}
	return err
}

// classify maps transport failures and qBittorrent's duplicate answers onto
// the package errors.
func classify(host string, err error) error {
	switch {
	case isTransportError(err):
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	case strings.Contains(err.Error(), "409"), strings.Contains(err.Error(), "Fails."):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// isTransportError also looks inside the attempt list the client library
// returns once its retries are exhausted, which does not unwrap.
func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return true
	}
	var attempts interface{ WrappedErrors() []error }
	if errors.As(err, &attempts) {
		for _, e := range attempts.WrappedErrors() {
			if e != nil && isTransportError(e) {
				return true
			}
		}
	}
	return false
}
