package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/database"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
)

// EventStore is where accepted events go.
type EventStore interface {
	InsertEvents(ctx context.Context, events []models.Event) error
}

type Server struct {
	db       EventStore
	address  string
	cfg      config.ServerConfig
	log      logger.Logger
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	server   *http.Server
}

type Option func(*Server)

// WithMetrics records collector counters into m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// DefaultMaxBeaconBytes caps a beacon body when the config leaves it unset.
const DefaultMaxBeaconBytes = 64 << 10

func NewServer(db EventStore, cfg config.ServerConfig, log logger.Logger, opts ...Option) *Server {
	if cfg.MaxBeaconBytes <= 0 {
		cfg.MaxBeaconBytes = DefaultMaxBeaconBytes
	}
	s := &Server{
		db:      db,
		address: cfg.Address,
		cfg:     cfg,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// handleEvents is the ordinary write path: a JSON batch.
func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var batch models.Batch
	if err := json.NewDecoder(request.Body).Decode(&batch); err != nil {
		s.metrics.Reject(metrics.PathEvents)
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.store(w, request, metrics.PathEvents, batch.Events)
}

// handleBeacon is the unload-safe path. Beacons arrive as text/plain, so the
// content type is not checked.
func (s *Server) handleBeacon(w http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, request.Body, s.cfg.MaxBeaconBytes))
	if err != nil {
		s.metrics.Reject(metrics.PathBeacon)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Beacon too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.metrics.Reject(metrics.PathBeacon)
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	s.store(w, request, metrics.PathBeacon, []models.Event{event})
}

func (s *Server) store(w http.ResponseWriter, request *http.Request, path string, events []models.Event) {
	if err := s.db.InsertEvents(request.Context(), events); err != nil {
		s.metrics.Reject(path)
		if errors.Is(err, database.ErrInvalidEvent) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("Database error", logger.String("path", path), logger.Error(err))
		http.Error(w, "Failed to store events", http.StatusInternalServerError)
		return
	}
	s.metrics.Received(path, len(events))
	w.WriteHeader(http.StatusNoContent) // success, no body
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/beacon", s.handleBeacon)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the collector routes, for mounting without a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("BrowseTrace collector listening", logger.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.log.Info("Shutting down server...")

	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.log.Info("Server exited")
	return nil
}
