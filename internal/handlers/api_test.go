package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curator/internal/config"
	"curator/internal/core"
	"curator/internal/testsupport"
	"curator/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *httptest.Server
	library  string
	torrents string
}

func newFixture(t *testing.T, tweaks ...func(cfg *config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{library: filepath.Join(root, "library"), torrents: filepath.Join(root, "torrents")}
	require.NoError(t, os.MkdirAll(f.library, 0o755))
	require.NoError(t, os.MkdirAll(f.torrents, 0o755))

	cfg := config.Default()
	cfg.Paths.MoviePath = f.library
	cfg.Paths.TorrentPath = f.torrents
	cfg.Paths.CategoryConfig = filepath.Join(root, "categories.yaml")
	cfg.TorrentClient.Host = ""
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	logger := utils.Discard()
	manager := core.NewManager(cfg, filepath.Join(root, "config.yml"), testsupport.OpenDB(t), logger)
	f.server = httptest.NewServer(NewServer(cfg, manager, logger).Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, session string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+"/api/v1"+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPIErrorMapping(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"remove without id", "POST", "/remove_torrent", map[string]string{}, http.StatusBadRequest, ""},
		{"remove unknown id", "POST", "/remove_torrent", map[string]string{"id": "missing"}, http.StatusNotFound, "candidate_not_found"},
		{"restore unknown id", "POST", "/restore_torrent", map[string]string{"id": "missing"}, http.StatusNotFound, "candidate_not_found"},
		{"process nothing", "POST", "/process", map[string]interface{}{"files": []string{}}, http.StatusBadRequest, ""},
		{"dispatch without client", "POST", "/add_torrents", nil, http.StatusPreconditionFailed, ""},
		{"match missing folder", "POST", "/match_torrents", map[string]string{"torrent_path": "/does/not/exist"}, http.StatusNotFound, "path_not_found"},
		{"scan missing folder", "POST", "/scan", map[string]string{"path": "/does/not/exist"}, http.StatusNotFound, "path_not_found"},
		{"search without query", "POST", "/search", map[string]string{"query": " "}, http.StatusBadRequest, ""},
		{"search without api key", "POST", "/search", map[string]string{"query": "Heat"}, http.StatusPreconditionFailed, ""},
		{"list missing torrent folder", "POST", "/scan_torrents", map[string]string{"torrent_path": "/does/not/exist"}, http.StatusNotFound, "path_not_found"},
		{"invalid category document", "POST", "/category-config", map[string]string{"config_text": "tv: {}"}, http.StatusBadRequest, "invalid_config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["error_kind"])
			}
		})
	}
}

func TestAPISessionsSeparateMatches(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteTorrent(t, filepath.Join(f.torrents, "Some.Show.S01.torrent"), "Some.Show.S01")

	status, body := f.do(t, "POST", "/match_torrents", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["unmatched"], 1)

	_, alice := f.do(t, "GET", "/matches", "alice", nil)
	assert.Len(t, alice["unmatched"], 1)
	_, other := f.do(t, "GET", "/matches", "", nil)
	assert.Empty(t, other["unmatched"])

	_, st := f.do(t, "GET", "/status", "", nil)
	assert.Contains(t, st["sessions"], "alice")
}

func TestAPIProcessAndRecords(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteFile(t, filepath.Join(f.library, "Heat.1995.1080p.mkv"), 16)

	status, body := f.do(t, "POST", "/process", "", map[string]interface{}{
		"base_path": f.library,
		"files": []map[string]string{
			{"path": filepath.Join(f.library, "Heat.1995.1080p.mkv"), "name": "Heat.1995.1080p.mkv", "type": "file"},
			{"path": filepath.Join(f.library, "Gone.mkv"), "name": "Gone.mkv", "type": "file"},
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])

	_, records := f.do(t, "GET", "/processed_files", "", nil)
	assert.Len(t, records["processed_files"], 1)

	status, reset := f.do(t, "POST", "/reset_data", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", reset["status"])
	assert.EqualValues(t, 1, reset["processed_files"])
	assert.EqualValues(t, 0, reset["removal_log"])
	assert.EqualValues(t, 0, reset["candidates"])
	_, records = f.do(t, "GET", "/processed_files", "", nil)
	assert.Empty(t, records["processed_files"])
}

func TestAPIScanTorrents(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteTorrent(t, filepath.Join(f.torrents, "Heat.1995.2160p.BluRay.x264.torrent"), "Heat.1995.2160p.BluRay.x264.mkv")
	require.NoError(t, os.WriteFile(filepath.Join(f.torrents, "broken.torrent"), []byte("not bencode"), 0o644))

	status, body := f.do(t, "POST", "/scan_torrents", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, f.torrents, body["path"])
	files, ok := body["torrent_files"].([]interface{})
	require.True(t, ok, body)
	require.Len(t, files, 1)
	entry := files[0].(map[string]interface{})
	assert.Equal(t, "Heat", entry["title"])
	assert.Equal(t, "torrent_file", entry["source_kind"])
	assert.Len(t, body["invalid"], 1)

	_, matches := f.do(t, "GET", "/matches", "", nil)
	assert.Empty(t, matches["matched"], "listing does not start a match run")
}

func TestAPISearch(t *testing.T) {
	tmdb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/multi", r.URL.Path)
		assert.Equal(t, "Heat", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": []map[string]interface{}{
			{"id": 949, "media_type": "movie", "title": "Heat", "release_date": "1995-12-15"},
		}})
	}))
	t.Cleanup(tmdb.Close)

	f := newFixture(t, func(cfg *config.Config) {
		cfg.Metadata.TMDB.APIKey = "key"
		cfg.Metadata.TMDB.BaseURL = tmdb.URL
		cfg.Metadata.RequestInterval = "1ms"
	})
	status, body := f.do(t, "POST", "/search", "", map[string]string{"query": "Heat.1995.1080p.BluRay.x264"})
	require.Equal(t, http.StatusOK, status)
	results, ok := body["results"].([]interface{})
	require.True(t, ok, body)
	require.Len(t, results, 1)
	hit := results[0].(map[string]interface{})
	assert.Equal(t, "949", hit["id"])
	assert.EqualValues(t, 1995, hit["year"])
}

func TestAPISession(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteFile(t, filepath.Join(f.library, "Heat.1995.1080p.mkv"), 16)

	_, body := f.do(t, "GET", "/session", "bob", nil)
	assert.Equal(t, "bob", body["id"])
	assert.Nil(t, body["last_scan"])

	status, _ := f.do(t, "POST", "/scan", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, "POST", "/process_all", "bob", nil)
	require.Equal(t, http.StatusOK, status)

	_, body = f.do(t, "GET", "/session", "bob", nil)
	scan, ok := body["last_scan"].(map[string]interface{})
	require.True(t, ok, body)
	assert.EqualValues(t, 1, scan["total_files"])
	classify, ok := body["last_classify"].(map[string]interface{})
	require.True(t, ok, body)
	assert.EqualValues(t, 1, classify["succeeded"])
	assert.Nil(t, body["last_dispatch"])
}

func TestAPIConfigRoundTrip(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, "POST", "/config", "", map[string]interface{}{"exclude_dirs": []string{"extras"}, "qb_username": "admin"})
	require.Equal(t, http.StatusOK, status)

	_, body := f.do(t, "GET", "/config", "", nil)
	cfg, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"extras"}, cfg["exclude_dirs"])
	assert.Equal(t, "admin", cfg["qb_username"])
	assert.Equal(t, f.library, cfg["movie_path"])

	_, doc := f.do(t, "GET", "/category-config", "", nil)
	assert.True(t, strings.Contains(doc["config_text"].(string), "movie:"))
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/events?session=watcher"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	status, _ := f.do(t, "POST", "/scan", "other", map[string]string{"path": f.library})
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, "POST", "/scan", "watcher", map[string]string{"path": f.library})
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first core.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, core.EventStageStarted, first.Type)
	assert.Equal(t, "scan", first.Stage)
	assert.Equal(t, "watcher", first.Session)
}
