// Package api exposes the control surface over HTTP: status, history
// replays, duplicate scans, time range and delay settings, flow input
// and tombstone freezing.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/session"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Dependencies contains all service dependencies.
type Dependencies struct {
	Telegram TelegramClient
	History  HistoryService
	Scan     ScanService
	Dedup    DedupEngine
	Queue    TaskQueue
	Pipeline PipelineStats
	Flow     FlowMachine
	Tomb     Freezer
	Settings SettingsSource
	Sessions *session.Store

	Rules    RuleSource
	Messages MessageSource
	// Summarizer is nil when no LLM is configured.
	Summarizer Summarizer
}

// Server is the HTTP control server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	cfg        *Config
	deps       *Dependencies
	log        *logger.Logger
}

// NewServer creates the control server and wires its routes.
func NewServer(cfg *Config, deps *Dependencies) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		deps:   deps,
		log:    logger.Get(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/auth/qr", s.handleStartQR)
		r.Delete("/auth/qr", s.handleCancelQR)

		r.Post("/history/start", s.handleHistoryStart)
		r.Post("/history/stop", s.handleHistoryStop)
		r.Get("/history/progress", s.handleHistoryProgress)
		r.Get("/history/stats", s.handleHistoryStats)

		r.Post("/scan", s.handleScan)
		r.Post("/scan/select", s.handleScanSelect)
		r.Post("/scan/delete", s.handleScanDelete)
		r.Post("/scan/delete/stop", s.handleScanDeleteStop)
		r.Get("/scan/progress", s.handleScanProgress)

		r.Put("/timerange", s.handleSetTimeRange)
		r.Put("/delay", s.handleSetDelay)

		r.Post("/flow/input", s.handleFlowInput)
		r.Put("/flow/picker", s.handleSetPicker)
		r.Get("/flow/picker", s.handleGetPicker)

		r.Post("/digest", s.handleDigest)
		r.Post("/tombstone/freeze", s.handleFreeze)
	})
}

// Start begins serving. It blocks until the listener fails or the
// server is stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("api server listening")
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
