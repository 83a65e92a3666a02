package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"curator/internal/config"
	"curator/internal/core"
	"curator/internal/utils"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"
)

type Server struct {
	config     *config.Config
	manager    *core.Manager
	logger     *utils.Logger
	httpServer *http.Server
	apiHandler *APIHandler
	events     *EventsHandler
}

func NewServer(cfg *config.Config, manager *core.Manager, logger *utils.Logger) *Server {
	return &Server{
		config:     cfg,
		manager:    manager,
		logger:     logger,
		apiHandler: NewAPIHandler(manager, logger),
		events:     NewEventsHandler(manager.Events(), logger),
	}
}

// Router builds the API routes.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	// Pipeline
	api.HandleFunc("/scan", s.apiHandler.Scan).Methods("POST")
	api.HandleFunc("/process", s.apiHandler.Process).Methods("POST")
	api.HandleFunc("/process_all", s.apiHandler.ProcessAll).Methods("POST")
	api.HandleFunc("/match_torrents", s.apiHandler.MatchTorrents).Methods("POST")
	api.HandleFunc("/matches", s.apiHandler.GetMatches).Methods("GET")
	api.HandleFunc("/scan_torrents", s.apiHandler.ScanTorrents).Methods("POST")
	api.HandleFunc("/search", s.apiHandler.Search).Methods("POST")
	api.HandleFunc("/session", s.apiHandler.GetSession).Methods("GET")
	api.HandleFunc("/remove_torrent", s.apiHandler.RemoveTorrent).Methods("POST")
	api.HandleFunc("/restore_torrent", s.apiHandler.RestoreTorrent).Methods("POST")
	api.HandleFunc("/add_torrents", s.apiHandler.AddTorrents).Methods("POST")
	api.HandleFunc("/reset_data", s.apiHandler.ResetData).Methods("POST")

	// Records
	api.HandleFunc("/processed_files", s.apiHandler.ProcessedFiles).Methods("GET")
	api.HandleFunc("/removal_log", s.apiHandler.RemovalLog).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.apiHandler.GetConfig).Methods("GET")
	api.HandleFunc("/config", s.apiHandler.SaveConfig).Methods("POST")
	api.HandleFunc("/category-config", s.apiHandler.GetCategoryConfig).Methods("GET")
	api.HandleFunc("/category-config", s.apiHandler.SaveCategoryConfig).Methods("POST")
	api.HandleFunc("/status", s.apiHandler.GetSystemStatus).Methods("GET")
	api.HandleFunc("/test/torrent", s.apiHandler.TestTorrent).Methods("GET")
	api.HandleFunc("/test/metadata", s.apiHandler.TestMetadata).Methods("GET")

	api.HandleFunc("/events", s.events.Serve).Methods("GET")
	return router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.config.App.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.App.MaxConnections)
	}

	s.httpServer = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		// Classification of a large library runs inside the request
		WriteTimeout: 30 * time.Minute,
	}

	s.logger.Info("Starting server on port", s.config.App.Port)
	return s.httpServer.Serve(ln)
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
