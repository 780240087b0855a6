// Package httpapi exposes the running entries over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/httprate"
	"github.com/rubiojr/nswfuel/internal/integration"
)

// Entries is the view of the registry the API serves.
type Entries interface {
	List() []*integration.Instance
	Get(entryID string) (*integration.Instance, bool)
	RefreshAll(ctx context.Context) error
}

type Options struct {
	// Logger enables request logging when set.
	Logger *httplog.Logger
	// RateLimit is the number of requests per minute allowed per IP. Zero
	// disables limiting.
	RateLimit int
}

type Router struct {
	entries Entries
}

func NewRouter(entries Entries, opts Options) http.Handler {
	rt := &Router{entries: entries}
	mux := chi.NewRouter()

	mux.Use(middleware.RealIP)
	if opts.Logger != nil {
		mux.Use(httplog.RequestLogger(opts.Logger))
	}
	mux.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		mux.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}

	mux.Get("/health", rt.handleHealth)
	mux.Get("/api/v1/entries", rt.handleListEntries)
	mux.Route("/api/v1/entries/{id}", func(r chi.Router) {
		r.Get("/nearby", rt.handleNearby)
		r.Get("/favourite", rt.handleFavourite)
		r.Get("/calls", rt.handleCalls)
	})
	mux.Post("/api/v1/refresh", rt.handleRefresh)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) instance(w http.ResponseWriter, r *http.Request) (*integration.Instance, bool) {
	id := chi.URLParam(r, "id")
	inst, ok := rt.entries.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entry "+id)
		return nil, false
	}
	return inst, true
}

func (rt *Router) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := rt.entries.RefreshAll(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var refreshErr *integration.RefreshError
	if !errors.As(err, &refreshErr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failures := make([]failureResponse, len(refreshErr.Failures))
	for i, f := range refreshErr.Failures {
		failures[i] = failureResponse{EntryID: f.EntryID, Coordinator: f.Coordinator, Error: f.Err.Error()}
	}
	writeJSON(w, http.StatusBadGateway, refreshResponse{Error: err.Error(), Failures: failures})
}
