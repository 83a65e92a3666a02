package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"curator/internal/clients/torrent"
	"curator/internal/core"
	"curator/internal/library"
	"curator/internal/utils"
)

// SessionHeader selects the session a request works on.
const SessionHeader = "X-Curator-Session"

type APIHandler struct {
	manager *core.Manager
	logger  *utils.Logger
}

// A helper function to respond with JSON
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to respond with a JSON error
func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// respondErr maps an operation error to its status code.
func respondErr(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{
		"error":      err.Error(),
		"error_kind": core.ErrorKind(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPathNotFound), errors.Is(err, core.ErrCandidateNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNoTorrentClient), errors.Is(err, core.ErrNoMetadataClient):
		return http.StatusPreconditionFailed
	case errors.Is(err, core.ErrClientUnreachable), errors.Is(err, torrent.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func NewAPIHandler(manager *core.Manager, logger *utils.Logger) *APIHandler {
	return &APIHandler{manager: manager, logger: logger}
}

func session(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *APIHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string   `json:"path"`
		ExcludeDirs []string `json:"exclude_dirs"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.logger.Info("Scan requested:", req.Path, "excluding", req.ExcludeDirs)
	result, err := h.manager.Scan(r.Context(), session(r), req.Path, req.ExcludeDirs)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":        result.Root,
		"directories": result.Directories,
		"files":       result.Files,
		"total_files": result.TotalFiles,
		"total_dirs":  result.TotalDirs,
		"errors":      result.ErrorMessages(),
	})
}

type processItem struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func (h *APIHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BasePath string        `json:"base_path"`
		Files    []processItem `json:"files"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var items []library.FileEntry
	for _, f := range req.Files {
		if f.Path == "" {
			h.logger.Warn("Skipping item without path:", f.Name)
			continue
		}
		items = append(items, fileEntry(f))
	}
	if len(items) == 0 {
		respondError(w, http.StatusBadRequest, "No files to process")
		return
	}

	report, err := h.manager.Process(r.Context(), session(r), req.BasePath, items)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func fileEntry(f processItem) library.FileEntry {
	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}
	e := library.FileEntry{Path: f.Path, Name: name, Kind: library.KindFile}
	if f.Type == string(library.KindDirectory) {
		e.Kind = library.KindDirectory
	} else {
		e.Extension = utils.NormalizeExtension(name)
	}
	return e
}

func (h *APIHandler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.ProcessAll(r.Context(), session(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *APIHandler) MatchTorrents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TorrentPath string `json:"torrent_path"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	report, err := h.manager.MatchTorrents(r.Context(), session(r), req.TorrentPath)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *APIHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Matches(session(r)))
}

func (h *APIHandler) ScanTorrents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TorrentPath string `json:"torrent_path"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	listing, err := h.manager.ScanTorrents(req.TorrentPath)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

func (h *APIHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "Query is required")
		return
	}
	results, err := h.manager.Search(r.Context(), req.Query)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Session(session(r)).Summary())
}

type candidateRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (h *APIHandler) RemoveTorrent(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if err := decode(r, &req); err != nil || req.ID == "" {
		respondError(w, http.StatusBadRequest, "Candidate id is required")
		return
	}
	c, err := h.manager.RemoveCandidate(r.Context(), session(r), req.ID, req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *APIHandler) RestoreTorrent(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if err := decode(r, &req); err != nil || req.ID == "" {
		respondError(w, http.StatusBadRequest, "Candidate id is required")
		return
	}
	c, err := h.manager.RestoreCandidate(session(r), req.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *APIHandler) AddTorrents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	report, err := h.manager.AddTorrents(r.Context(), session(r), req.IDs)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *APIHandler) ResetData(w http.ResponseWriter, r *http.Request) {
	summary, err := h.manager.ResetData(r.Context())
	if err != nil {
		h.logger.Error("Data reset failed:", err)
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"message":         "Data reset",
		"processed_files": summary.ProcessedFiles,
		"removal_log":     summary.RemovalLog,
		"candidates":      summary.Candidates,
	})
}

func (h *APIHandler) ProcessedFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.ProcessedFiles(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"processed_files": records})
}

func (h *APIHandler) RemovalLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.RemovalLog(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"removal_log": entries})
}

func (h *APIHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"config": h.manager.Settings(),
	})
}

// SaveConfig merges the posted fields over the current settings.
func (h *APIHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	settings := h.manager.Settings()
	if err := decode(r, &settings); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.manager.SaveSettings(settings); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *APIHandler) GetCategoryConfig(w http.ResponseWriter, r *http.Request) {
	text, err := h.manager.CategoryDocument()
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "config_text": text})
}

func (h *APIHandler) SaveCategoryConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigText string `json:"config_text"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.manager.SaveCategoryDocument(req.ConfigText); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *APIHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.manager.Status(r.Context()))
}

func (h *APIHandler) TestTorrent(w http.ResponseWriter, r *http.Request) {
	testResult(w, h.manager.TestTorrentConnection(r.Context()))
}

func (h *APIHandler) TestMetadata(w http.ResponseWriter, r *http.Request) {
	testResult(w, h.manager.TestMetadata(r.Context()))
}

func testResult(w http.ResponseWriter, err error) {
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
