package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"curator/internal/clients/torrent"
	"curator/internal/config"
	"curator/internal/utils"

	"golang.org/x/sync/errgroup"
)

type DispatchResult struct {
	CandidateID  string `json:"candidate_id"`
	TorrentName  string `json:"torrent_name"`
	InfoHash     string `json:"info_hash,omitempty"`
	DownloadPath string `json:"download_path"`
	Status       Status `json:"status"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Attempts     int    `json:"attempts"`
}

type DispatchReport struct {
	Results   []DispatchResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// Dispatcher hands accepted match candidates to the download client.
type Dispatcher struct {
	client   torrent.TorrentClient
	logger   *utils.Logger
	workers  int
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	category string
	tags     []string
	progress ProgressFunc
}

func NewDispatcher(cfg *config.Config, logger *utils.Logger, client torrent.TorrentClient) *Dispatcher {
	workers := cfg.Workers.Dispatch
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		client:   client,
		logger:   logger,
		workers:  workers,
		timeout:  cfg.TorrentClientTimeout(),
		retries:  max(cfg.TorrentClient.MaxRetries, 0),
		backoff:  time.Second,
		category: cfg.TorrentClient.Category,
		tags:     append([]string(nil), cfg.TorrentClient.Tags...),
	}
}

func (d *Dispatcher) OnProgress(fn ProgressFunc) {
	d.progress = fn
}

// Dispatch submits candidates one by one. A failed item never stops the
// others; results follow the order of candidates.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []MatchCandidate) (*DispatchReport, error) {
	if d.client == nil {
		return nil, ErrNoTorrentClient
	}
	d.logger.Info("Dispatching", len(candidates), "torrents to the download client")

	results := make([]DispatchResult, len(candidates))
	filled := make([]bool, len(candidates))
	hashes := newClaimSet()

	var mu sync.Mutex
	finished := 0

	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for i, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, c, hashes)
			mu.Lock()
			filled[i] = true
			finished++
			done := finished
			mu.Unlock()
			if d.progress != nil {
				d.progress("dispatch", done, len(candidates))
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &DispatchReport{Results: []DispatchResult{}}
	for i, r := range results {
		if !filled[i] {
			continue
		}
		report.Results = append(report.Results, r)
		if r.Status == StatusSuccess {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	d.logger.Info("Dispatch finished - succeeded:", report.Succeeded, "failed:", report.Failed)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("dispatch interrupted: %w", err)
	}
	return report, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, c MatchCandidate, hashes *claimSet) DispatchResult {
	res := DispatchResult{
		CandidateID:  c.ID,
		TorrentName:  c.Torrent.Name,
		InfoHash:     c.Torrent.InfoHash,
		DownloadPath: c.Folder.DownloadPath,
	}

	src, err := c.Torrent.Source()
	if err != nil {
		return d.fail(res, err)
	}
	hash := strings.ToLower(src.InfoHash)
	res.InfoHash = hash

	if hash != "" && !hashes.claim(hash) {
		return d.fail(res, fmt.Errorf("%w: %s appears twice in this batch", ErrDuplicateSubmission, hash))
	}

	var exists bool
	attempts, err := d.withRetry(ctx, func(callCtx context.Context) error {
		var err error
		exists, err = d.client.HasTorrent(callCtx, hash)
		return err
	})
	res.Attempts = attempts
	if err != nil {
		return d.fail(res, err)
	}
	if exists {
		return d.fail(res, fmt.Errorf("%w: %s", ErrDuplicateSubmission, hash))
	}

	opts := torrent.AddOptions{
		SavePath: c.Folder.DownloadPath,
		Category: d.category,
		Tags:     d.tags,
	}
	var add func(context.Context) error
	switch src.Kind {
	case torrent.SourceMagnet:
		add = func(callCtx context.Context) error {
			return d.client.AddTorrent(callCtx, src.Magnet, opts)
		}
	default:
		content, err := src.Content()
		if err != nil {
			return d.fail(res, err)
		}
		add = func(callCtx context.Context) error {
			return d.client.AddTorrentFile(callCtx, content, opts)
		}
	}

	attempts, err = d.withRetry(ctx, add)
	res.Attempts += attempts
	if err != nil {
		return d.fail(res, err)
	}

	res.Status = StatusSuccess
	d.logger.Info(fmt.Sprintf("Added '%s' -> %s", c.Torrent.Name, c.Folder.DownloadPath))
	return res
}

// withRetry runs fn with a per-call timeout. Only an unreachable client is
// retried, with a linear backoff.
func (d *Dispatcher) withRetry(ctx context.Context, fn func(context.Context) error) (int, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := fn(callCtx)
		cancel()

		switch {
		case err == nil:
			return attempt, nil
		case errors.Is(err, torrent.ErrDuplicate):
			return attempt, fmt.Errorf("%w: %v", ErrDuplicateSubmission, err)
		case !errors.Is(err, torrent.ErrUnreachable):
			return attempt, err
		case attempt > d.retries:
			return attempt, fmt.Errorf("%w after %d attempts: %v", ErrClientUnreachable, attempt, err)
		}

		d.logger.Warn("Download client unreachable, retrying:", err)
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
}

func (d *Dispatcher) fail(res DispatchResult, err error) DispatchResult {
	res.Status = StatusError
	res.Error = err.Error()
	res.ErrorKind = ErrorKind(err)
	d.logger.Error(fmt.Sprintf("Failed to add '%s': %v", res.TorrentName, err))
	return res
}
