package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curator/internal/clients/torrent"
	"curator/internal/testsupport"
	"curator/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidatesIn(t *testing.T, dir string) []MatchCandidate {
	t.Helper()
	entries, invalid, err := ListTorrents(dir, nil, utils.Discard())
	require.NoError(t, err)
	require.Empty(t, invalid)
	out := make([]MatchCandidate, 0, len(entries))
	for _, e := range entries {
		f := folder(e.Name, 1)
		out = append(out, MatchCandidate{ID: CandidateID(e.SourceRef, f.Path), Torrent: e, Folder: f, Selected: true})
	}
	return out
}

func newTestDispatcher(client torrent.TorrentClient) *Dispatcher {
	d := NewDispatcher(testConfig(), utils.Discard(), client)
	d.backoff = time.Millisecond
	return d
}

func TestDispatchDuplicateScenario(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "A.Movie.2020.torrent"), "A.Movie.2020.mkv")
	testsupport.WriteTorrent(t, filepath.Join(dir, "B.Movie.2021.torrent"), "B.Movie.2021.mkv")
	candidates := candidatesIn(t, dir)
	require.Len(t, candidates, 2)

	client := &fakeTorrentClient{existing: map[string]bool{candidates[1].Torrent.InfoHash: true}}
	report, err := newTestDispatcher(client).Dispatch(context.Background(), candidates)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusSuccess, report.Results[0].Status)
	assert.Equal(t, StatusError, report.Results[1].Status)
	assert.Equal(t, "duplicate_submission", report.Results[1].ErrorKind)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].File)
	assert.Equal(t, "/library/欧美剧", calls[0].Opts.SavePath)
	assert.Equal(t, "movie_manager", calls[0].Opts.Category)
	assert.Equal(t, []string{"auto_added"}, calls[0].Opts.Tags)
}

func TestDispatchMagnet(t *testing.T) {
	dir := t.TempDir()
	link := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Show.S02"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Show.S02.magnet"), []byte(link+"\n"), 0o644))

	client := &fakeTorrentClient{}
	report, err := newTestDispatcher(client).Dispatch(context.Background(), candidatesIn(t, dir))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].File)
	assert.Equal(t, link, calls[0].Magnet)
}

func TestDispatchRetriesUnreachable(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "A.torrent"), "A.mkv")

	tests := []struct {
		name     string
		errs     []error
		status   Status
		kind     string
		attempts int
	}{
		{"recovers", []error{torrent.ErrUnreachable}, StatusSuccess, "", 3},
		{"gives up", []error{torrent.ErrUnreachable, torrent.ErrUnreachable, torrent.ErrUnreachable}, StatusError, "client_unreachable", 4},
		{"duplicate not retried", []error{torrent.ErrDuplicate}, StatusError, "duplicate_submission", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeTorrentClient{addErrs: tt.errs}
			report, err := newTestDispatcher(client).Dispatch(context.Background(), candidatesIn(t, dir))
			require.NoError(t, err)
			require.Len(t, report.Results, 1)
			r := report.Results[0]
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.kind, r.ErrorKind)
			// one HasTorrent call plus the add attempts
			assert.Equal(t, tt.attempts, r.Attempts)
		})
	}
}

func TestDispatchSameHashTwice(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTorrent(t, filepath.Join(dir, "A.torrent"), "A.mkv")
	c := candidatesIn(t, dir)[0]

	client := &fakeTorrentClient{}
	d := newTestDispatcher(client)
	d.workers = 1
	report, err := d.Dispatch(context.Background(), []MatchCandidate{c, c})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, "duplicate_submission", report.Results[1].ErrorKind)
	assert.Len(t, client.calls(), 1)
}

func TestDispatchWithoutClient(t *testing.T) {
	_, err := NewDispatcher(testConfig(), utils.Discard(), nil).Dispatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTorrentClient)
}
