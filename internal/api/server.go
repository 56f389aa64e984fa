package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/export"
	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/metrics"
	"github.com/viniciushammett/go-build-inspector/internal/pipeline"
	"github.com/viniciushammett/go-build-inspector/internal/processor"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/store"
)

type Deps struct {
	Log       *logger.Logger
	Store     *store.Store // optional, backs the read routes
	Pipeline  *pipeline.Pipeline
	Defaults  processor.Options // fills fields a request leaves empty
	// EvidenceRoot bounds the dir a request may name. Choosing a dir also
	// requires AuthToken to be set.
	EvidenceRoot string
	AuthToken    string // plain token or its bcrypt hash
}
type Config struct {
	Addr        string
	CORSOrigins []string
}

type Server struct {
	d Deps
	c Config
}

func NewServer(d Deps, c Config) *Server { return &Server{d: d, c: c} }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if len(s.c.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.c.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { metrics.Handler().ServeHTTP(w, r) })
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/v1/process", s.handleProcess)
		r.Get("/v1/reports", s.handleList)
		r.Get("/v1/reports/{id}", s.handleGet)
		r.Get("/v1/export.csv", s.handleCSV)
	})
	return s.d.Log.HTTPLogger(r)
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.c.Addr, Handler: s.Router()}
	go func() { <-ctx.Done(); _ = srv.Shutdown(context.Background()) }()
	s.d.Log.Info().Str("addr", s.c.Addr).Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) auth(r *http.Request) bool {
	if s.d.AuthToken == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	if !strings.HasPrefix(got, "Bearer ") {
		return false
	}
	tok := strings.TrimPrefix(got, "Bearer ")
	if strings.HasPrefix(s.d.AuthToken, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(s.d.AuthToken), []byte(tok)) == nil
	}
	return tok == s.d.AuthToken
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var in processor.Options
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
	}
	dir, err := s.evidenceDir(in.Dir)
	if err != nil {
		s.d.Log.Warn().Err(err).Str("dir", in.Dir).Msg("process request refused")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	in.Dir = dir
	if in.VMAddress == "" {
		in.VMAddress = s.d.Defaults.VMAddress
	}
	if in.Whitelist == nil {
		in.Whitelist = s.d.Defaults.Whitelist
	}

	rep, err := s.d.Pipeline.Run(r.Context(), in)
	switch {
	case errors.Is(err, evidence.ErrMalformedConfig):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, evidence.ErrMissingEvidence), errors.Is(err, evidence.ErrCaptureDecode):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rep)
}

var errDirNotAllowed = errors.New("evidence dir not allowed")

// evidenceDir resolves a requested dir against EvidenceRoot. Relative dirs are
// taken from the root; the result, symlinks followed, must stay inside it.
func (s *Server) evidenceDir(req string) (string, error) {
	if req == "" {
		return s.d.Defaults.Dir, nil
	}
	if s.d.AuthToken == "" {
		return "", fmt.Errorf("%w: authToken not configured", errDirNotAllowed)
	}
	if s.d.EvidenceRoot == "" {
		return "", fmt.Errorf("%w: no evidence root configured", errDirNotAllowed)
	}
	root, err := filepath.Abs(s.d.EvidenceRoot)
	if err != nil {
		return "", err
	}
	dir := req
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	if !within(root, dir) {
		return "", fmt.Errorf("%w: outside %s", errDirNotAllowed, root)
	}
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			realRoot = root
		}
		if !within(realRoot, real) {
			return "", fmt.Errorf("%w: outside %s", errDirNotAllowed, root)
		}
	}
	return dir, nil
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	reps, err := s.list(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reps == nil {
		reps = []report.Report{}
	}
	writeJSON(w, reps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	rep, err := s.d.Store.Get(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	reps, err := s.list(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=reports.csv")
	if err := export.WriteCSV(w, reps); err != nil {
		s.d.Log.Error().Err(err).Msg("csv export")
	}
}

// list reads the archive; unreadable records are logged and left out.
func (s *Server) list(r *http.Request) ([]report.Report, error) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reps, err := s.d.Store.List(limit)
	if errors.Is(err, store.ErrCorrupt) {
		s.d.Log.Warn().Err(err).Msg("skipped archive records")
		return reps, nil
	}
	return reps, err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
