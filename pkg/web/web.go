// Package web serves a read-only view of the stored domain records and the metrics
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/metrics"
	"github.com/mallocator/domain-watch/pkg/state"
)

// DefaultHistoryLimit is the number of snapshots /api/history returns without a limit parameter
const DefaultHistoryLimit = 100

// Server exposes the store and the metrics over HTTP
type Server struct {
	store   state.Store
	metrics *metrics.Metrics
	log     *logger.Logger
	srv     *http.Server
}

// New creates a viewer listening on addr. m may be nil.
func New(addr string, store state.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{store: store, metrics: m, log: log}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the router with all endpoints mounted
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", s.metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/domains", s.listDomains)
		r.Get("/domains/{domain}", s.getDomain)
		r.Get("/history", s.history)
	})
	return r
}

// Start serves in the background until Shutdown is called
func (s *Server) Start() {
	go func() {
		s.log.Infof("Web viewer listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Web viewer stopped: %v", err)
		}
	}()
}

// Shutdown stops the server, waiting for open requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infof("Shutting down web viewer")
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if records == nil {
		records = []*state.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	domain := config.NormalizeDomain(chi.URLParam(r, "domain"))
	rec, err := s.store.Get(r.Context(), domain)
	if err != nil {
		s.fail(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown domain " + domain})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive number"})
			return
		}
		limit = n
	}

	entries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []state.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Errorf("Web request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
