// Package api serves the stored report history over a read-only JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/change"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/store"
)

// Reader is the read side of the tracker the API exposes.
type Reader interface {
	Current(ctx context.Context, key string) (*model.Record, error)
	History(ctx context.Context, key string) ([]model.Version, error)
	Diff(ctx context.Context, key string, v1, v2 int) (map[string]change.Change, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	reader Reader
	store  store.Store
}

// New returns a Server reading through r and listing from st.
func New(r Reader, st store.Store) *Server {
	return &Server{reader: r, store: st}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(instrument)
		r.Get("/reports", s.listReports)
		r.Route("/reports/{key}", func(r chi.Router) {
			r.Get("/", s.getReport)
			r.Get("/versions", s.listVersions)
			r.Get("/diff", s.diff)
		})
		r.Get("/log", s.listLog)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListCurrent(r.Context(), store.ListFilter{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Current{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reader.Current(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	hist, err := s.reader.History(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(hist) == 0 {
		writeError(w, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

type diffResponse struct {
	Key     string                   `json:"key"`
	From    int                      `json:"from"`
	To      int                      `json:"to"`
	Changes map[string]change.Change `json:"changes"`
}

func (s *Server) diff(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.Atoi(r.URL.Query().Get("from"))
	to, err2 := strconv.Atoi(r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil || from < 1 || to < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "from and to must be positive version numbers"})
		return
	}
	key := chi.URLParam(r, "key")
	changes, err := s.reader.Diff(r.Context(), key, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diffResponse{Key: key, From: from, To: to, Changes: changes})
}

func (s *Server) listLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := paging(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var before int64
	if raw := q.Get("before_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "before_id must be a non-negative integer"})
			return
		}
		before = n
	}
	entries, err := s.store.ListLog(r.Context(), store.LogFilter{
		Key:      q.Get("key"),
		RunID:    q.Get("run_id"),
		Status:   model.Status(q.Get("status")),
		Limit:    limit,
		Offset:   offset,
		BeforeID: before,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: name + " must be a non-negative integer"})
			return 0, 0, false
		}
		*dst = n
	}
	return limit, offset, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	zap.L().Error("api: request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
