// Package httpapi exposes the operational surface: liveness and pipeline
// statistics over plain HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/altair-labs/salesagent/internal/buffer"
	"github.com/altair-labs/salesagent/internal/store"
)

// Broker is the slice of the broker client the API needs.
type Broker interface {
	Ping() error
	QueueDepth(queue string) int
}

// Server serves /health and /stats.
type Server struct {
	addr   string
	stores *store.Stores
	broker Broker
	buf    *buffer.Buffer
	queues []string

	httpServer *http.Server
}

func New(addr string, stores *store.Stores, b Broker, buf *buffer.Buffer, queues ...string) *Server {
	return &Server{addr: addr, stores: stores, broker: b, buf: buf, queues: queues}
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	slog.Info("http api starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "broker": "ok"}
	status := http.StatusOK

	if err := s.stores.Ping(r.Context()); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.broker.Ping(); err != nil {
		checks["broker"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := s.stores.Stats.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	depths := make(map[string]int, len(s.queues))
	for _, q := range s.queues {
		depths[q] = s.broker.QueueDepth(q)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"store":  dbStats,
		"buffer": s.buf.Stats(),
		"queues": depths,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
