// Package dashboard serves a worker pool's counters over HTTP.
//
// It exposes:
//   - GET /metrics           – Prometheus text exposition
//   - GET /api/stats         – current metrics snapshot (JSON)
//   - GET /api/stats/stream  – SSE stream of snapshots (250 ms ticks)
//   - GET /api/pool          – pool name and size (JSON)
//   - GET /healthz           – liveness probe
//
// CORS is wide-open so a browser dashboard on another port can poll it.
package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrvillage/ieu/logger"
	"github.com/mrvillage/ieu/metrics"
)

// ─── Data Types ───────────────────────────────────────────────────────────────

// PoolInfo describes the pool whose metrics are being served.
type PoolInfo struct {
	Name    string `json:"name"`
	Workers int    `json:"workers"`
}

// StatsPayload is the JSON body of /api/stats and each SSE event.
type StatsPayload struct {
	metrics.Snapshot
	Timestamp      int64   `json:"timestamp"`
	ItemsPerSecond float64 `json:"items_per_second"`
}

// ─── Server ───────────────────────────────────────────────────────────────────

// Server provides the HTTP endpoints.
type Server struct {
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	info    PoolInfo
	log     *logger.Logger
	router  chi.Router

	subsMu sync.Mutex
	subs   map[chan StatsPayload]struct{}

	tick     time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a dashboard Server for m.  gather is scraped by /metrics; pass
// the registry the pool's metrics.Collector was registered with.
func New(m *metrics.Metrics, gather prometheus.Gatherer, info PoolInfo, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		metrics: m,
		gather:  gather,
		info:    info,
		log:     log,
		subs:    make(map[chan StatsPayload]struct{}),
		tick:    250 * time.Millisecond,
		stopCh:  make(chan struct{}),
	}
	s.router = s.routes()
	go s.statsTicker()
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts an HTTP server on addr and blocks until it fails.
// Write timeouts are disabled because the SSE stream is long-lived.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("dashboard: listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return srv.ListenAndServe()
}

// Close stops the SSE ticker.  Open streams end when their clients go away.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ─── Route registration ───────────────────────────────────────────────────────

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok") //nolint:errcheck
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/stats/stream", s.handleStatsStream)
		r.Get("/pool", s.handlePool)
	})
	return r
}

// ─── CORS middleware ──────────────────────────────────────────────────────────

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── /api/stats ───────────────────────────────────────────────────────────────

func (s *Server) snapshot() StatsPayload {
	return StatsPayload{
		Timestamp:      time.Now().UnixMilli(),
		Snapshot:       s.metrics.Snapshot(),
		ItemsPerSecond: s.metrics.ItemsPerSecond(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.snapshot())
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.info)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("dashboard: encode response: %v", err)
	}
}

// ─── /api/stats/stream ────────────────────────────────────────────────────────

func (s *Server) statsTicker() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		snap := s.snapshot()
		s.subsMu.Lock()
		for ch := range s.subs {
			select {
			case ch <- snap:
			default:
				// Slow subscriber – drop rather than block.
			}
		}
		s.subsMu.Unlock()
	}
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan StatsPayload, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	defer func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}()

	// First event immediately so clients need not wait a tick.
	if err := sseWrite(w, s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
