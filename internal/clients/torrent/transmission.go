package torrent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type TransmissionClient struct {
	host       string
	username   string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

func NewTransmissionClient(host, username, password string, timeout time.Duration) *TransmissionClient {
	host = strings.TrimSuffix(host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return &TransmissionClient{
		host:       host,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *TransmissionClient) addArgs(opts AddOptions) map[string]interface{} {
	args := map[string]interface{}{
		"download-dir": opts.SavePath,
	}
	var labels []string
	if opts.Category != "" {
		labels = append(labels, opts.Category)
	}
	labels = append(labels, opts.Tags...)
	if len(labels) > 0 {
		args["labels"] = labels
	}
	return args
}

func (t *TransmissionClient) AddTorrent(ctx context.Context, magnetLink string, opts AddOptions) error {
	args := t.addArgs(opts)
	args["filename"] = magnetLink
	return t.add(ctx, args)
}

func (t *TransmissionClient) AddTorrentFile(ctx context.Context, fileContent []byte, opts AddOptions) error {
	args := t.addArgs(opts)
	args["metainfo"] = base64.StdEncoding.EncodeToString(fileContent)
	return t.add(ctx, args)
}

func (t *TransmissionClient) add(ctx context.Context, args map[string]interface{}) error {
	response, err := t.sendRequest(ctx, "torrent-add", args)
	if err != nil {
		return err
	}
	if arguments, ok := response["arguments"].(map[string]interface{}); ok {
		if _, dup := arguments["torrent-duplicate"]; dup {
			return ErrDuplicate
		}
		if _, added := arguments["torrent-added"]; added {
			return nil
		}
	}
	return fmt.Errorf("unexpected torrent-add response")
}

func (t *TransmissionClient) HasTorrent(ctx context.Context, hash string) (bool, error) {
	args := map[string]interface{}{
		"fields": []string{"hashString"},
		"ids":    []string{strings.ToLower(hash)},
	}
	response, err := t.sendRequest(ctx, "torrent-get", args)
	if err != nil {
		return false, err
	}
	if arguments, ok := response["arguments"].(map[string]interface{}); ok {
		if torrents, ok := arguments["torrents"].([]interface{}); ok {
			for _, tdata := range torrents {
				if torrent, ok := tdata.(map[string]interface{}); ok {
					if h, ok := torrent["hashString"].(string); ok && strings.EqualFold(h, hash) {
						return true, nil
					}
				}
			}
		}
	}
	return false, nil
}

func (t *TransmissionClient) HealthCheck(ctx context.Context) error {
	_, err := t.sendRequest(ctx, "session-get", map[string]interface{}{"fields": []string{"version"}})
	return err
}

func (t *TransmissionClient) sendRequest(ctx context.Context, method string, args interface{}) (map[string]interface{}, error) {
	reqData := map[string]interface{}{
		"method":    method,
		"arguments": args,
	}
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, err
	}

	// The first call usually answers 409 with the session id to use
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.host+"/transmission/rpc", bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if t.username != "" && t.password != "" {
			req.SetBasicAuth(t.username, t.password)
		}
		t.mu.Lock()
		if t.sessionID != "" {
			req.Header.Set("X-Transmission-Session-Id", t.sessionID)
		}
		t.mu.Unlock()

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, t.host, err)
		}

		if resp.StatusCode == http.StatusConflict {
			t.mu.Lock()
			t.sessionID = resp.Header.Get("X-Transmission-Session-Id")
			t.mu.Unlock()
			resp.Body.Close()
			continue
		}

		var response map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&response)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("transmission returned status %d", resp.StatusCode)
		}
		if err != nil {
			return nil, err
		}
		if result, ok := response["result"].(string); !ok || result != "success" {
			return nil, fmt.Errorf("transmission request failed: %v", response["result"])
		}
		return response, nil
	}
	return nil, fmt.Errorf("transmission kept rejecting the session id")
}
