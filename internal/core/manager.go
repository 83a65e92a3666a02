package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"curator/internal/clients/metadata"
	"curator/internal/clients/notifications"
	"curator/internal/clients/torrent"
	"curator/internal/config"
	"curator/internal/database/models"
	"curator/internal/library"
	"curator/internal/utils"
)

// Manager owns the pipeline: configuration, clients, persistence and the
// per-session state the API and CLI work on.
type Manager struct {
	configPath string
	processed  *models.ProcessedRepository
	removals   *models.RemovalRepository
	logger     *utils.Logger
	events     *EventBus
	sessions   *sessionStore

	mu            sync.RWMutex
	config        *config.Config
	tmdb          *metadata.TMDBClient
	torrentClient torrent.TorrentClient
	notifier      notifications.Notifier

	// Serializes runs that move files or replace a session's candidates
	runMu sync.Mutex

	scheduler *cron.Cron
	watcher   *fsnotify.Watcher
	stop      context.CancelFunc
}

// SystemStatus summarizes what is configured and how much has been processed.
type SystemStatus struct {
	TMDBConfigured      bool             `json:"tmdb_configured"`
	QBConfigured        bool             `json:"qb_configured"`
	TorrentClientType   string           `json:"torrent_client_type"`
	ProcessedFilesCount int              `json:"processed_files_count"`
	ConfigFileExists    bool             `json:"config_file_exists"`
	CategoryFileExists  bool             `json:"category_file_exists"`
	Sessions            []string         `json:"sessions"`
	Disk                *utils.DiskUsage `json:"disk,omitempty"`
}

func NewManager(cfg *config.Config, configPath string, db *sql.DB, logger *utils.Logger) *Manager {
	removals := models.NewRemovalRepository(db)
	m := &Manager{
		configPath: configPath,
		processed:  models.NewProcessedRepository(db),
		removals:   removals,
		logger:     logger,
		events:     NewEventBus(),
		sessions:   newSessionStore(removals),
	}
	m.applyConfig(cfg)
	return m
}

// applyConfig installs cfg and rebuilds the clients that depend on it.
func (m *Manager) applyConfig(cfg *config.Config) {
	var tmdb *metadata.TMDBClient
	if cfg.Metadata.TMDB.APIKey != "" {
		tmdb = metadata.NewTMDBClient(cfg.Metadata.TMDB.APIKey, cfg.Metadata.Language,
			metadata.WithBaseURL(cfg.Metadata.TMDB.BaseURL),
			metadata.WithTimeout(cfg.MetadataTimeout()),
			metadata.WithRequestInterval(cfg.MetadataRequestInterval()),
			metadata.WithRetries(cfg.Metadata.MaxRetries, time.Second),
			metadata.WithCacheSize(cfg.Metadata.CacheSize),
			metadata.WithLogger(m.logger.With("tmdb")),
		)
	}

	var notifier notifications.Notifier = notifications.Nop{}
	if key := cfg.Notifications.Pushbullet.APIKey; key != "" {
		notifier = notifications.NewPushbulletClient(key, m.logger)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	m.tmdb = tmdb
	m.torrentClient = newTorrentClient(cfg)
	m.notifier = notifier
}

func newTorrentClient(cfg *config.Config) torrent.TorrentClient {
	tc := cfg.TorrentClient
	if tc.Host == "" {
		return nil
	}
	switch tc.Type {
	case "transmission":
		return torrent.NewTransmissionClient(tc.Host, tc.Username, tc.Password, cfg.TorrentClientTimeout())
	default:
		return torrent.NewQBittorrentClient(tc.Host, tc.Username, tc.Password, cfg.TorrentClientTimeout())
	}
}

// Config returns the active configuration. Callers must not modify it.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func (m *Manager) lookup() metadata.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tmdb == nil {
		return nil
	}
	return m.tmdb
}

func (m *Manager) client() torrent.TorrentClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.torrentClient
}

func (m *Manager) notify() notifications.Notifier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifier
}

func (m *Manager) Events() *EventBus {
	return m.events
}

func (m *Manager) Session(id string) *Session {
	return m.sessions.get(id)
}

// stage publishes the start and end of a pipeline stage around fn.
func (m *Manager) stage(session, name string, fn func() error) error {
	m.events.Publish(Event{Type: EventStageStarted, Stage: name, Session: session})
	if err := fn(); err != nil {
		m.events.Publish(Event{Type: EventStageFailed, Stage: name, Session: session, Message: err.Error()})
		return err
	}
	m.events.Publish(Event{Type: EventStageFinished, Stage: name, Session: session})
	return nil
}

// Scan walks root, or the configured movie path when root is empty. A nil
// exclusions list uses the configured exclude_dirs.
func (m *Manager) Scan(ctx context.Context, sessionID, root string, exclusions []string) (*library.ScanResult, error) {
	cfg := m.Config()
	if root == "" {
		root = cfg.Paths.MoviePath
	}
	if root == "" {
		return nil, fmt.Errorf("%w: no scan path given and movie_path is not set", ErrInvalidConfig)
	}
	if exclusions == nil {
		exclusions = cfg.Paths.ExcludeDirs
	}

	session := m.sessions.get(sessionID)
	var result *library.ScanResult
	err := m.stage(session.ID, "scan", func() error {
		scanner := library.NewScanner(m.logger, cfg.Library.VideoExtensions, cfg.Workers.Scan)
		var err error
		result, err = scanner.Scan(ctx, root, exclusions)
		return err
	})
	if err != nil {
		return nil, err
	}
	session.record(func(s *Session) { s.lastScan = result })
	return result, nil
}

// Process classifies items into category folders below basePath, or the
// configured movie path when basePath is empty.
func (m *Manager) Process(ctx context.Context, sessionID, basePath string, items []library.FileEntry) (*ClassifyReport, error) {
	cfg := m.Config()
	if basePath == "" {
		basePath = cfg.Paths.MoviePath
	}
	if basePath == "" {
		return nil, fmt.Errorf("%w: no base path given and movie_path is not set", ErrInvalidConfig)
	}
	rules, err := m.Rules()
	if err != nil {
		return nil, err
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	session := m.sessions.get(sessionID)
	var report *ClassifyReport
	err = m.stage(session.ID, "classify", func() error {
		classifier := NewClassifier(cfg, m.logger, m.lookup(), m.processed)
		classifier.OnProgress(m.events.Progress(session.ID))
		var err error
		report, err = classifier.Classify(ctx, items, basePath, rules)
		return err
	})
	if report == nil {
		return nil, err
	}
	session.record(func(s *Session) { s.lastClassify = report })
	if report.Succeeded+report.Failed > 0 {
		m.notify().NotifyClassifyComplete(report.Succeeded, report.Failed, report.Skipped)
	}
	return report, err
}

// ProcessAll classifies every top-level item of the movie path except the
// category folders and excluded directories.
func (m *Manager) ProcessAll(ctx context.Context, sessionID string) (*ClassifyReport, error) {
	cfg := m.Config()
	root := cfg.Paths.MoviePath
	if root == "" {
		return nil, fmt.Errorf("%w: movie_path is not set", ErrInvalidConfig)
	}
	rules, err := m.Rules()
	if err != nil {
		return nil, err
	}
	items, err := topLevelItems(root, rules, cfg)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Found", len(items), "top-level items to process in", root)
	return m.Process(ctx, sessionID, root, items)
}

func topLevelItems(root string, rules *RuleSet, cfg *config.Config) ([]library.FileEntry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPathNotFound, root, err)
	}
	skip := make(map[string]bool)
	for _, name := range rules.CategoryNames() {
		skip[utils.SanitizeFilename(name)] = true
	}
	exclusions := library.NewExclusionSet(cfg.Paths.ExcludeDirs)
	isVideo := videoFilter(cfg.Library.VideoExtensions)

	var items []library.FileEntry
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") || skip[name] {
			continue
		}
		path := filepath.Join(root, name)
		info, err := de.Info()
		if err != nil {
			continue
		}
		switch {
		case info.IsDir():
			if exclusions.Excludes(name) {
				continue
			}
			items = append(items, library.FileEntry{Path: path, Name: name, Kind: library.KindDirectory})
		case isVideo(name):
			items = append(items, library.FileEntry{
				Path:      path,
				Name:      name,
				Extension: utils.NormalizeExtension(name),
				Size:      info.Size(),
				Kind:      library.KindFile,
			})
		}
	}
	return items, nil
}

// MatchTorrents matches the torrent folder, or the configured torrent path,
// against the classified library and makes the result the session's run.
func (m *Manager) MatchTorrents(ctx context.Context, sessionID, torrentPath string) (*MatchReport, error) {
	cfg := m.Config()
	if torrentPath == "" {
		torrentPath = cfg.Paths.TorrentPath
	}
	if torrentPath == "" {
		return nil, fmt.Errorf("%w: no torrent path given and torrent_path is not set", ErrInvalidConfig)
	}

	records, err := m.processed.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processed records: %w", err)
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	session := m.sessions.get(sessionID)
	var report *MatchReport
	err = m.stage(session.ID, "match", func() error {
		matcher := NewMatcher(cfg, m.logger)
		matcher.OnProgress(m.events.Progress(session.ID))
		folders := FoldersFromRecords(records, matcher.keepVideo, m.logger)
		var err error
		report, err = matcher.Match(ctx, torrentPath, folders)
		return err
	})
	if err != nil {
		return nil, err
	}
	session.Ledger.Replace(report)
	return session.Ledger.Snapshot(), nil
}

// Search looks query up on TMDB. Release noise is stripped from the query
// first; a query that is nothing but noise is sent as typed.
func (m *Manager) Search(ctx context.Context, query string) ([]*metadata.Result, error) {
	m.mu.RLock()
	tmdb := m.tmdb
	m.mu.RUnlock()
	if tmdb == nil {
		return nil, ErrNoMetadataClient
	}
	title := library.ExtractTitle(query)
	if title == "" {
		title = strings.TrimSpace(query)
	}
	results, err := tmdb.SearchAll(ctx, title)
	if errors.Is(err, metadata.ErrNotFound) {
		return []*metadata.Result{}, nil
	}
	return results, err
}

// TorrentListing is the content of a torrent folder without matching.
type TorrentListing struct {
	Path    string           `json:"path"`
	Entries []TorrentEntry   `json:"torrent_files"`
	Invalid []InvalidTorrent `json:"invalid"`
}

// ScanTorrents lists torrentPath, or the configured torrent path, with the
// title extracted from every entry.
func (m *Manager) ScanTorrents(torrentPath string) (*TorrentListing, error) {
	cfg := m.Config()
	if torrentPath == "" {
		torrentPath = cfg.Paths.TorrentPath
	}
	if torrentPath == "" {
		return nil, fmt.Errorf("%w: no torrent path given and torrent_path is not set", ErrInvalidConfig)
	}
	entries, invalid, err := ListTorrents(torrentPath, videoFilter(cfg.Library.VideoExtensions), m.logger)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []TorrentEntry{}
	}
	if invalid == nil {
		invalid = []InvalidTorrent{}
	}
	return &TorrentListing{Path: torrentPath, Entries: entries, Invalid: invalid}, nil
}

// Matches returns the session's current run with the live selection.
func (m *Manager) Matches(sessionID string) *MatchReport {
	return m.sessions.get(sessionID).Ledger.Snapshot()
}

func (m *Manager) RemoveCandidate(ctx context.Context, sessionID, id, reason string) (MatchCandidate, error) {
	return m.sessions.get(sessionID).Ledger.Remove(ctx, id, reason)
}

func (m *Manager) RestoreCandidate(sessionID, id string) (MatchCandidate, error) {
	return m.sessions.get(sessionID).Ledger.Restore(id)
}

// AddTorrents dispatches the named candidates, or the session's accepted set
// when ids is empty.
func (m *Manager) AddTorrents(ctx context.Context, sessionID string, ids []string) (*DispatchReport, error) {
	session := m.sessions.get(sessionID)
	var candidates []MatchCandidate
	if len(ids) == 0 {
		candidates = session.Ledger.AcceptedSet()
	} else {
		var err error
		if candidates, err = session.Ledger.Get(ids); err != nil {
			return nil, err
		}
	}
	return m.dispatch(ctx, session, candidates)
}

func (m *Manager) dispatch(ctx context.Context, session *Session, candidates []MatchCandidate) (*DispatchReport, error) {
	client := m.client()
	if client == nil {
		return nil, ErrNoTorrentClient
	}

	var report *DispatchReport
	err := m.stage(session.ID, "dispatch", func() error {
		dispatcher := NewDispatcher(m.Config(), m.logger, client)
		dispatcher.OnProgress(m.events.Progress(session.ID))
		var err error
		report, err = dispatcher.Dispatch(ctx, candidates)
		return err
	})
	if report == nil {
		return nil, err
	}
	session.record(func(s *Session) { s.lastDispatch = report })
	if len(report.Results) > 0 {
		m.notify().NotifyDispatchComplete(report.Succeeded, report.Failed)
	}
	return report, err
}

// ResetSummary counts what ResetData cleared.
type ResetSummary struct {
	ProcessedFiles int64 `json:"processed_files"`
	RemovalLog     int64 `json:"removal_log"`
	Candidates     int   `json:"candidates"`
}

// ResetData clears the processed record, the removal log and every session.
func (m *Manager) ResetData(ctx context.Context) (*ResetSummary, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	var (
		summary ResetSummary
		err     error
	)
	if summary.ProcessedFiles, err = m.processed.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear processed files: %w", err)
	}
	if summary.RemovalLog, err = m.removals.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear removal log: %w", err)
	}
	summary.Candidates = m.sessions.clearAll()
	m.logger.Info("Reset cleared", summary.ProcessedFiles, "processed files,", summary.RemovalLog,
		"removal log entries and", summary.Candidates, "candidates")
	return &summary, nil
}

func (m *Manager) ProcessedFiles(ctx context.Context) ([]models.ProcessedRecord, error) {
	return m.processed.GetAll(ctx)
}

func (m *Manager) RemovalLog(ctx context.Context) ([]models.RemovalEntry, error) {
	return m.removals.GetAll(ctx)
}

// Rules parses the current category document.
func (m *Manager) Rules() (*RuleSet, error) {
	doc, err := config.LoadCategoryDocument(m.Config().Paths.CategoryConfig)
	if err != nil {
		return nil, fmt.Errorf("load category document: %w", err)
	}
	return ParseRuleSet(doc)
}

func (m *Manager) CategoryDocument() (string, error) {
	doc, err := config.LoadCategoryDocument(m.Config().Paths.CategoryConfig)
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// SaveCategoryDocument validates text and stores it. Invalid documents are
// rejected with ErrInvalidConfig and leave the stored one untouched.
func (m *Manager) SaveCategoryDocument(text string) error {
	if _, err := ParseRuleSet([]byte(text)); err != nil {
		return err
	}
	if err := config.SaveCategoryDocument(m.Config().Paths.CategoryConfig, []byte(text)); err != nil {
		return fmt.Errorf("save category document: %w", err)
	}
	m.logger.Info("Category document saved")
	return nil
}

func (m *Manager) Settings() config.Settings {
	return m.Config().Settings()
}

// SaveSettings applies s, persists the configuration file and rebuilds the
// clients.
func (m *Manager) SaveSettings(s config.Settings) error {
	next := *m.Config()
	next.ApplySettings(s)
	if err := next.Validate(); err != nil {
		return err
	}
	if m.configPath != "" {
		if err := next.Save(m.configPath); err != nil {
			return fmt.Errorf("save configuration: %w", err)
		}
	}
	m.applyConfig(&next)
	m.logger.Info("Settings saved")
	return nil
}

func (m *Manager) Status(ctx context.Context) SystemStatus {
	cfg := m.Config()
	st := SystemStatus{
		TMDBConfigured:    cfg.Metadata.TMDB.APIKey != "",
		QBConfigured:      cfg.TorrentClient.Host != "" && cfg.TorrentClient.Username != "",
		TorrentClientType: cfg.TorrentClient.Type,
		Sessions:          m.sessions.ids(),
	}
	if n, err := m.processed.Count(ctx); err == nil {
		st.ProcessedFilesCount = n
	} else {
		m.logger.Warn("Failed to count processed files:", err)
	}
	if m.configPath != "" {
		_, err := os.Stat(m.configPath)
		st.ConfigFileExists = err == nil
	}
	_, err := os.Stat(cfg.Paths.CategoryConfig)
	st.CategoryFileExists = err == nil
	if cfg.Paths.MoviePath != "" {
		if usage, err := utils.GetDiskUsage(cfg.Paths.MoviePath); err == nil {
			st.Disk = usage
		}
	}
	return st
}

func (m *Manager) TestTorrentConnection(ctx context.Context) error {
	client := m.client()
	if client == nil {
		return ErrNoTorrentClient
	}
	ctx, cancel := context.WithTimeout(ctx, m.Config().TorrentClientTimeout())
	defer cancel()
	return client.HealthCheck(ctx)
}

func (m *Manager) TestMetadata(ctx context.Context) error {
	m.mu.RLock()
	tmdb := m.tmdb
	m.mu.RUnlock()
	if tmdb == nil {
		return ErrNoMetadataClient
	}
	return tmdb.Ping(ctx)
}
