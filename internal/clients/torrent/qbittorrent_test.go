package torrent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"curator/internal/testsupport"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQBittorrent serves the Web API calls the client makes. Adds of a hash
// it already holds are answered with 409 like qBittorrent 5 does.
type fakeQBittorrent struct {
	mu       sync.Mutex
	torrents map[string]bool
	lastAdd  url.Values
	queried  []string

	logins atomic.Int32
	drop   atomic.Bool
}

func newFakeQBittorrent(t *testing.T, hashes ...string) (*fakeQBittorrent, *httptest.Server) {
	t.Helper()
	f := &fakeQBittorrent{torrents: make(map[string]bool)}
	for _, h := range hashes {
		f.torrents[h] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", f.login)
	mux.HandleFunc("/api/v2/torrents/info", f.info)
	mux.HandleFunc("/api/v2/torrents/add", f.add)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQBittorrent) login(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.Form.Get("username") != "admin" || r.Form.Get("password") != "secret" {
		fmt.Fprint(w, "Fails.")
		return
	}
	f.logins.Add(1)
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session", Path: "/"})
	fmt.Fprint(w, "Ok.")
}

func (f *fakeQBittorrent) info(w http.ResponseWriter, r *http.Request) {
	if f.drop.Load() {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	hashes := r.URL.Query().Get("hashes")

	f.mu.Lock()
	f.queried = append(f.queried, hashes)
	list := []map[string]string{}
	for _, h := range strings.Split(hashes, "|") {
		if f.torrents[h] {
			list = append(list, map[string]string{"hash": h})
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (f *fakeQBittorrent) add(w http.ResponseWriter, r *http.Request) {
	var hash string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, headers := range r.MultipartForm.File {
			file, err := headers[0].Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			mi, err := metainfo.Load(io.LimitReader(file, 1<<20))
			file.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			hash = mi.HashInfoBytes().HexString()
		}
	} else {
		_ = r.ParseForm()
		m, err := metainfo.ParseMagnetUri(r.Form.Get("urls"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hash = m.InfoHash.HexString()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.torrents[hash] {
		http.Error(w, "Fails.", http.StatusConflict)
		return
	}
	f.torrents[hash] = true
	f.lastAdd = r.Form
	fmt.Fprint(w, "Ok.")
}

func (f *fakeQBittorrent) added() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAdd
}

func writeTestTorrent(t *testing.T) ([]byte, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Show.S01.torrent")
	testsupport.WriteTorrent(t, path, "Show.S01.1080p",
		testsupport.TorrentFile{Path: "Show.S01E01.1080p.mkv", Length: 900},
	)
	src, err := LoadTorrentFile(path)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return content, src.InfoHash
}

func TestQBittorrentAddTorrentFile(t *testing.T) {
	fake, srv := newFakeQBittorrent(t)
	client := NewQBittorrentClient(srv.URL, "admin", "secret", 5*time.Second)
	content, hash := writeTestTorrent(t)
	ctx := context.Background()

	err := client.AddTorrentFile(ctx, content, AddOptions{
		SavePath: "/library/欧美剧",
		Category: "movie_manager",
		Tags:     []string{"auto_added", "curator"},
	})
	require.NoError(t, err)
	form := fake.added()
	assert.Equal(t, "/library/欧美剧", form.Get("savepath"))
	assert.Equal(t, "movie_manager", form.Get("category"))
	assert.Equal(t, "auto_added,curator", form.Get("tags"))
	assert.Equal(t, "false", form.Get("autoTMM"))

	err = client.AddTorrentFile(ctx, content, AddOptions{SavePath: "/library/欧美剧"})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := client.HasTorrent(ctx, strings.ToUpper(hash))
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 1, fake.logins.Load(), "login is cached across calls")
}

func TestQBittorrentAddMagnetDuplicate(t *testing.T) {
	hash := strings.Repeat("ab", 20)
	_, srv := newFakeQBittorrent(t, hash)
	client := NewQBittorrentClient(srv.URL, "admin", "secret", 5*time.Second)

	err := client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:"+hash+"&dn=Show", AddOptions{SavePath: "/x"})
	assert.ErrorIs(t, err, ErrDuplicate)

	other := strings.Repeat("cd", 20)
	err = client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:"+other+"&dn=Other", AddOptions{SavePath: "/x"})
	require.NoError(t, err)
}

func TestQBittorrentHasTorrentFiltersByHash(t *testing.T) {
	present := strings.Repeat("0a", 20)
	fake, srv := newFakeQBittorrent(t, present, strings.Repeat("0b", 20))
	client := NewQBittorrentClient(srv.URL, "admin", "secret", 5*time.Second)
	ctx := context.Background()

	found, err := client.HasTorrent(ctx, strings.ToUpper(present))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = client.HasTorrent(ctx, strings.Repeat("0c", 20))
	require.NoError(t, err)
	assert.False(t, found)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{present, strings.Repeat("0c", 20)}, fake.queried, "only the asked hash is listed")
}

func TestQBittorrentBadCredentials(t *testing.T) {
	_, srv := newFakeQBittorrent(t)
	client := NewQBittorrentClient(srv.URL, "admin", "wrong", 5*time.Second)

	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestQBittorrentUnreachable(t *testing.T) {
	_, srv := newFakeQBittorrent(t)
	client := NewQBittorrentClient(srv.URL, "admin", "secret", 5*time.Second)
	srv.Close()

	err := client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:"+strings.Repeat("ab", 20), AddOptions{SavePath: "/x"})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrUnreachable)
}

func TestQBittorrentLogsInAgainAfterTransportFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the client library's retries")
	}
	fake, srv := newFakeQBittorrent(t)
	client := NewQBittorrentClient(srv.URL, "admin", "secret", 5*time.Second)
	ctx := context.Background()
	hash := strings.Repeat("ef", 20)

	_, err := client.HasTorrent(ctx, hash)
	require.NoError(t, err)
	require.EqualValues(t, 1, fake.logins.Load())

	fake.drop.Store(true)
	_, err = client.HasTorrent(ctx, hash)
	assert.ErrorIs(t, err, ErrUnreachable)

	fake.drop.Store(false)
	_, err = client.HasTorrent(ctx, hash)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.logins.Load())
}

// attemptErrors mimics the retry library's error list, which has no Unwrap.
type attemptErrors []error

func (e attemptErrors) Error() string           { return fmt.Sprintf("All attempts fail: %v", []error(e)) }
func (e attemptErrors) WrappedErrors() []error { return e }

func TestQBittorrentErrorMapping(t *testing.T) {
	refused := &url.Error{Op: "Get", URL: "http://qb:8080", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"transport", fmt.Errorf("login error: %w", refused), ErrUnreachable},
		{"transport after retries", fmt.Errorf("error making request: %w", attemptErrors{refused, refused}), ErrUnreachable},
		{"conflict status", errors.New("could not add torrent, unexpected status: 409"), ErrDuplicate},
		{"fails body", errors.New("Fails."), ErrDuplicate},
		{"other", errors.New("could not add torrent, unexpected status: 415"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("http://qb:8080", tt.err)
			if tt.want == nil {
				assert.NotErrorIs(t, got, ErrUnreachable)
				assert.NotErrorIs(t, got, ErrDuplicate)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
