package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

const watchDebounce = 5 * time.Second

// StartAutomation starts the scheduled re-match and the torrent folder
// watcher when the configuration asks for them. Both work on the default
// session.
func (m *Manager) StartAutomation(ctx context.Context) error {
	cfg := m.Config()
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel

	if interval := cfg.Automation.MatchInterval; interval != "" {
		m.scheduler = cron.New()
		if _, err := m.scheduler.AddFunc("@every "+interval, func() { m.rematch(ctx, "schedule") }); err != nil {
			cancel()
			return fmt.Errorf("%w: automation.match_interval: %v", ErrInvalidConfig, err)
		}
		m.scheduler.Start()
		m.logger.Info("Scheduled torrent re-match every", interval)
	}

	if cfg.Automation.WatchTorrents && cfg.Paths.TorrentPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return fmt.Errorf("create torrent folder watcher: %w", err)
		}
		if err := watcher.Add(cfg.Paths.TorrentPath); err != nil {
			watcher.Close()
			cancel()
			return fmt.Errorf("%w: watch %s: %v", ErrPathNotFound, cfg.Paths.TorrentPath, err)
		}
		m.watcher = watcher
		go m.watchTorrents(ctx, watcher)
		m.logger.Info("Watching torrent folder", cfg.Paths.TorrentPath)
	}
	return nil
}

func (m *Manager) Stop() {
	if m.stop != nil {
		m.stop()
	}
	if m.scheduler != nil {
		<-m.scheduler.Stop().Done()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// watchTorrents re-matches once the torrent folder has been quiet for
// watchDebounce after a relevant change.
func (m *Manager) watchTorrents(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevantTorrentEvent(event) {
				continue
			}
			m.logger.Debug("Torrent folder event:", event.Op.String(), event.Name)
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Torrent folder watcher error:", err)
		case <-fire:
			fire = nil
			m.rematch(ctx, "watch")
		}
	}
}

func relevantTorrentEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".torrent", ".magnet", "":
		return true
	}
	return false
}

// rematch runs a match on the default session and, with auto_dispatch set,
// sends the auto-accepted candidates to the download client.
func (m *Manager) rematch(ctx context.Context, trigger string) {
	m.logger.Info("Automatic torrent re-match triggered by", trigger)
	report, err := m.MatchTorrents(ctx, DefaultSession, "")
	if err != nil {
		m.logger.Error("Automatic re-match failed:", err)
		return
	}
	if !m.Config().Automation.AutoDispatch {
		return
	}

	// Anything an operator ever removed waits for a manual dispatch
	removed := make(map[string]bool)
	entries, err := m.removals.GetAll(ctx)
	if err != nil {
		m.logger.Error("Automatic dispatch skipped, removal log unavailable:", err)
		return
	}
	for _, e := range entries {
		removed[e.CandidateID] = true
	}

	var accepted []MatchCandidate
	for _, c := range report.Matched {
		if c.Selected && c.AutoAccepted && !removed[c.ID] {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) == 0 {
		return
	}
	if _, err := m.dispatch(ctx, m.sessions.get(DefaultSession), accepted); err != nil {
		m.logger.Error("Automatic dispatch failed:", err)
	}
}
