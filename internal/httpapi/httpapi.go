// Package httpapi binds the Request Plane's operations onto an HTTP
// surface with chi, the router the retrieval pack's gateway service uses
// for its own JSON endpoints. Only enabled when Config.HTTP.Enabled is
// set; digestctl talks to the Request Plane in-process instead.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"newsdigest/internal/model"
	"newsdigest/internal/requestplane"
)

// Server exposes scrape/run/send_digest/search/list_summaries/stats/
// get_items over HTTP.
type Server struct {
	plane  *requestplane.Plane
	logger *slog.Logger
	router chi.Router
}

func New(plane *requestplane.Plane, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{plane: plane, logger: logger}
	r := chi.NewRouter()
	r.Post("/runs/scrape", s.handleScrape)
	r.Post("/runs/full", s.handleRun)
	r.Post("/digests/send", s.handleSendDigest)
	r.Get("/search", s.handleSearch)
	r.Get("/summaries", s.handleListSummaries)
	r.Get("/stats", s.handleStats)
	r.Get("/items", s.handleGetItems)
	s.router = r
	return s
}

// Start blocks serving addr; callers typically run it on its own goroutine.
func (s *Server) Start(addr string) error {
	s.logger.Info("http api starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

type scrapeRequest struct {
	WindowHours int `json:"window_hours"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.plane.Scrape(r.Context(), req.WindowHours)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type runRequest struct {
	WindowHours int  `json:"window_hours"`
	TopN        int  `json:"top_n"`
	SkipEmail   bool `json:"skip_email"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.plane.Run(r.Context(), req.WindowHours, req.TopN, req.SkipEmail)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type sendDigestRequest struct {
	WindowHours int    `json:"window_hours"`
	TopN        int    `json:"top_n"`
	Recipient   string `json:"recipient,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

func (s *Server) handleSendDigest(w http.ResponseWriter, r *http.Request) {
	var req sendDigestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.plane.SendDigest(r.Context(), req.WindowHours, req.TopN, req.Recipient, req.Subject)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	k, err := intParam(q, "k", 10)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	hits, err := s.plane.Search(r.Context(), query, k, model.Category(q.Get("category")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowHours, err := intParam(q, "window_hours", 24)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := intParam(q, "page", 1)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	pageSize, err := intParam(q, "page_size", 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	page_, err := s.plane.ListSummaries(r.Context(), windowHours, page, pageSize)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page_)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.plane.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := model.ArticleKind(q.Get("kind"))
	limit, err := intParam(q, "limit", 50)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.plane.GetItems(r.Context(), kind, limit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func intParam(q map[string][]string, key string, def int) (int, error) {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return def, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
