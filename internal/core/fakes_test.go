package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"curator/internal/clients/metadata"
	"curator/internal/clients/torrent"
	"curator/internal/config"
	"curator/internal/database/models"
	"curator/internal/library"
)

type memProcessed struct {
	mu      sync.Mutex
	records []models.ProcessedRecord
}

func (m *memProcessed) Contains(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.SourcePath == path || r.NewPath == path {
			return true, nil
		}
	}
	return false, nil
}

func (m *memProcessed) Add(_ context.Context, rec *models.ProcessedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

func (m *memProcessed) GetAll(context.Context) ([]models.ProcessedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ProcessedRecord(nil), m.records...), nil
}

type fakeLookup struct {
	mu      sync.Mutex
	results map[string]*metadata.Result
	err     error
	queries []metadata.Query
}

func (f *fakeLookup) Search(_ context.Context, q metadata.Query) (*metadata.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[q.Title]; ok {
		return r, nil
	}
	return nil, metadata.ErrNotFound
}

type addCall struct {
	Magnet string
	File   bool
	Opts   torrent.AddOptions
}

type fakeTorrentClient struct {
	mu          sync.Mutex
	existing    map[string]bool
	adds        []addCall
	addErrs     []error
	healthErr   error
	hasTorrentN int
}

func (f *fakeTorrentClient) record(call addCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, call)
	if len(f.addErrs) > 0 {
		err := f.addErrs[0]
		f.addErrs = f.addErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTorrentClient) AddTorrent(_ context.Context, magnet string, opts torrent.AddOptions) error {
	return f.record(addCall{Magnet: magnet, Opts: opts})
}

func (f *fakeTorrentClient) AddTorrentFile(_ context.Context, _ []byte, opts torrent.AddOptions) error {
	return f.record(addCall{File: true, Opts: opts})
}

func (f *fakeTorrentClient) HasTorrent(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasTorrentN++
	return f.existing[strings.ToLower(hash)], nil
}

func (f *fakeTorrentClient) HealthCheck(context.Context) error {
	return f.healthErr
}

func (f *fakeTorrentClient) calls() []addCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]addCall(nil), f.adds...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers.Classify = 2
	cfg.Workers.Match = 2
	cfg.Workers.Dispatch = 2
	return cfg
}

func entryFor(t *testing.T, path string) library.FileEntry {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	e := library.FileEntry{Path: path, Name: filepath.Base(path), Kind: library.KindFile, Size: info.Size()}
	if info.IsDir() {
		e.Kind = library.KindDirectory
		e.Size = 0
	} else {
		e.Extension = strings.ToLower(filepath.Ext(path))
	}
	return e
}

func testRecord(source string) *models.ProcessedRecord {
	return &models.ProcessedRecord{
		SourcePath:     source,
		Name:           filepath.Base(source),
		ItemType:       models.ItemFile,
		Category:       "欧美电影",
		NewPath:        source + ".placed",
		MetadataSource: SourceHeuristic,
	}
}
