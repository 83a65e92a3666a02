package torrent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments"`
}

func newFakeTransmission(t *testing.T, handle func(req rpcRequest) map[string]interface{}) (*TransmissionClient, *atomic.Int32) {
	t.Helper()
	var conflicts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Transmission-Session-Id") != "abc" {
			conflicts.Add(1)
			w.Header().Set("X-Transmission-Session-Id", "abc")
			w.WriteHeader(http.StatusConflict)
			return
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(req))
	}))
	t.Cleanup(srv.Close)
	return NewTransmissionClient(srv.URL, "", "", 5*time.Second), &conflicts
}

func TestTransmissionAddTorrentFile(t *testing.T) {
	var got rpcRequest
	client, conflicts := newFakeTransmission(t, func(req rpcRequest) map[string]interface{} {
		got = req
		return map[string]interface{}{
			"result":    "success",
			"arguments": map[string]interface{}{"torrent-added": map[string]interface{}{"hashString": "aa"}},
		}
	})

	err := client.AddTorrentFile(context.Background(), []byte("d4:infoe"), AddOptions{
		SavePath: "/library/欧美剧",
		Category: "movie_manager",
		Tags:     []string{"auto_added"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, conflicts.Load())
	assert.Equal(t, "torrent-add", got.Method)
	assert.Equal(t, "/library/欧美剧", got.Arguments["download-dir"])
	assert.Equal(t, []interface{}{"movie_manager", "auto_added"}, got.Arguments["labels"])
	assert.NotEmpty(t, got.Arguments["metainfo"])
}

func TestTransmissionDuplicate(t *testing.T) {
	client, _ := newFakeTransmission(t, func(req rpcRequest) map[string]interface{} {
		return map[string]interface{}{
			"result":    "success",
			"arguments": map[string]interface{}{"torrent-duplicate": map[string]interface{}{"hashString": "aa"}},
		}
	})
	err := client.AddTorrent(context.Background(), "magnet:?xt=urn:btih:aa", AddOptions{SavePath: "/x"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestTransmissionHasTorrent(t *testing.T) {
	client, _ := newFakeTransmission(t, func(req rpcRequest) map[string]interface{} {
		torrents := []interface{}{}
		if ids, ok := req.Arguments["ids"].([]interface{}); ok && len(ids) == 1 && ids[0] == "deadbeef" {
			torrents = append(torrents, map[string]interface{}{"hashString": "deadbeef"})
		}
		return map[string]interface{}{"result": "success", "arguments": map[string]interface{}{"torrents": torrents}}
	})

	found, err := client.HasTorrent(context.Background(), "DEADBEEF")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = client.HasTorrent(context.Background(), "cafe")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTransmissionUnreachable(t *testing.T) {
	client := NewTransmissionClient("127.0.0.1:1", "", "", time.Second)
	err := client.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}
