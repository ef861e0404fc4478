// Package server exposes the enriched snapshot and the frontend over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/metrics"
	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/snapshot"
)

// Error bodies returned to clients.
const (
	msgReadFailed  = "Không đọc được dữ liệu ATM"
	msgNotFound    = "Not found"
	msgServerError = "Server error"
)

// DataCacheControl is sent with every file under /data.
const DataCacheControl = "public, max-age=3600"

// dataExtensions are the only files served under /data; the directory may
// also hold the SQLite store and boundary sources.
var dataExtensions = []string{".json", ".geojson"}

// Config controls what the server exposes.
type Config struct {
	// StaticDir holds the frontend assets served at /. Empty disables it.
	StaticDir string
	// DataDir is exposed read-only under /data. Empty disables it.
	DataDir        string
	AllowedOrigins []string
}

// Server serves the snapshot API, the raw data directory and the frontend.
type Server struct {
	cfg       Config
	snapshots *snapshot.Store
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New creates a Server. m may be nil, in which case /metrics is not mounted.
func New(cfg Config, snapshots *snapshot.Store, m *metrics.Metrics) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		cfg:       cfg,
		snapshots: snapshots,
		metrics:   m,
		log:       zap.L().With(zap.String("component", "server")),
	}
}

// Handler builds the full router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.observe)

	s.Register(r)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// Register mounts the routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/api/atm", s.handleATM)
	r.Get("/api/banks", s.handleBanks)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{DisableCompression: true}))
	}
	if s.cfg.DataDir != "" {
		r.Get("/data/*", s.files(s.cfg.DataDir, "/data", DataCacheControl, dataExtensions...))
	}
	if s.cfg.StaticDir != "" {
		r.Get("/*", s.files(s.cfg.StaticDir, "", ""))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleATM returns the snapshot as stored. With ?bank= or ?district= the
// records are filtered case-insensitively on the bank label and district.
func (s *Server) handleATM(w http.ResponseWriter, r *http.Request) {
	raw, err := s.snapshots.ReadRaw()
	if err != nil {
		s.log.Error("server: read snapshot", zap.String("path", s.snapshots.Path()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgReadFailed)
		return
	}

	bank := strings.TrimSpace(r.URL.Query().Get("bank"))
	district := strings.TrimSpace(r.URL.Query().Get("district"))
	if bank == "" && district == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}

	var records []model.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		s.log.Error("server: decode snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgReadFailed)
		return
	}
	writeJSON(w, http.StatusOK, filterRecords(snapshot.Canonicalize(records), bank, district))
}

func (s *Server) handleBanks(w http.ResponseWriter, _ *http.Request) {
	records, err := s.snapshots.Read()
	if err != nil {
		s.log.Error("server: read snapshot", zap.String("path", s.snapshots.Path()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgReadFailed)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Banks(records))
}

func filterRecords(records []model.Record, bank, district string) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if bank != "" && !strings.EqualFold(r.BankLabel(), bank) {
			continue
		}
		if district != "" && (r.District == nil || !strings.EqualFold(*r.District, district)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// files serves regular files under root. Directories resolve to index.html;
// anything else missing is a JSON 404. With exts set, only files with one of
// those extensions are served.
func (s *Server) files(root, prefix, cacheControl string, exts ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := path.Clean("/" + strings.TrimPrefix(r.URL.Path, prefix))
		name := filepath.Join(root, filepath.FromSlash(rel))
		if len(exts) > 0 && !slices.Contains(exts, strings.ToLower(filepath.Ext(name))) {
			writeError(w, http.StatusNotFound, msgNotFound)
			return
		}

		info, err := os.Stat(name)
		if err == nil && info.IsDir() {
			name = filepath.Join(name, "index.html")
			info, err = os.Stat(name)
		}
		if err != nil || info.IsDir() {
			writeError(w, http.StatusNotFound, msgNotFound)
			return
		}
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		http.ServeFile(w, r, name)
	}
}

// recoverer turns a panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint
				panic(rec)
			}
			s.log.Error("server: panic",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.ByteString("stack", debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, msgServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, status, start)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
