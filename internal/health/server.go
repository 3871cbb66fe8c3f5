package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chiehw/ethwatch/internal/config"
	"github.com/chiehw/ethwatch/internal/storage"
)

// Server exposes the read-only health/status surface and the Prometheus
// metrics endpoint.
type Server struct {
	cfg       *config.Config
	storage   *storage.Storage
	registry  *prometheus.Registry
	log       *slog.Logger
	startedAt time.Time

	server *http.Server
}

// NewServer creates a health server.
func NewServer(cfg *config.Config, store *storage.Storage, registry *prometheus.Registry, log *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		storage:   store,
		registry:  registry,
		log:       log,
		startedAt: time.Now(),
	}
}

// Start starts the server and blocks until it exits. Shuts down gracefully
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting health server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cursor, _ := s.storage.Cursor()
	txCount, _ := s.storage.TransactionCount()
	subCount, _ := s.storage.SubscriberCount()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":             "running",
		"target_address":     s.cfg.TargetAddress,
		"cursor_block":       cursor,
		"total_transactions": txCount,
		"subscribers":        subCount,
		"uptime_seconds":     int(time.Since(s.startedAt).Seconds()),
		"time":               time.Now().UTC().Format(time.RFC3339),
	})
}
