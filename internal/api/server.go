package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"alpha-arena-prompt/internal/config"
	"alpha-arena-prompt/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server provides the HTTP interface for the viewer.
type Server struct {
	server    *http.Server
	service   *Service
	logger    *zap.Logger
	cfg       *config.Server
	trades    *hub[[]models.Trade]
	upgrader  websocket.Upgrader
	startTime time.Time
	done      chan struct{}
	stopOnce  sync.Once
}

// NewServer creates a new Server and subscribes it to new-trade events.
func NewServer(cfg *config.Server, service *Service, logger *zap.Logger) *Server {
	s := &Server{
		service:   service,
		logger:    logger.Named("api-server"),
		cfg:       cfg,
		trades:    newHub[[]models.Trade](),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
	service.OnNewTrades(s.trades.Broadcast)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/trades/latest", s.withCORS(http.HandlerFunc(s.latestHandler)))
	mux.Handle("/api/trades/poll", s.withCORS(http.HandlerFunc(s.pollHandler)))
	mux.Handle("/api/trades/stats", s.withCORS(http.HandlerFunc(s.statsHandler)))
	mux.Handle("/api/status", s.withCORS(http.HandlerFunc(s.statusHandler)))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ws/trades", s.tradeStreamHandler)

	if dir := s.cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(dir)))
		} else {
			s.logger.Info("Static viewer directory not found, serving API only", zap.String("dir", dir))
		}
	}
	return mux
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server and closes open streams.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	s.stopOnce.Do(func() { close(s.done) })
	return s.server.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
