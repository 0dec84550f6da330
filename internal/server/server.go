package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dm-go/internal/dm"
	"dm-go/internal/metrics"
)

// UserHeader carries the authenticated user name. It is set by the
// authenticating proxy in front of the server.
const UserHeader = "X-Remote-User"

// maxMemory is the part of a multipart upload kept in memory; the rest is
// spooled to temporary files by net/http.
const maxMemory = 32 << 20

type userKey struct{}

// Server exposes DMService over HTTP.
type Server struct {
	svc       *dm.DMService
	logger    dm.Logger
	collector *metrics.Collector
	registry  *prometheus.Registry
	router    *mux.Router
}

// New creates a Server for svc. The collector is registered on a private
// registry served at /metrics.
func New(svc *dm.DMService, logger dm.Logger, collector *metrics.Collector) (*Server, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	s := &Server{
		svc:       svc,
		logger:    logger,
		collector: collector,
		registry:  registry,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(requireUser)
	api.HandleFunc("/file-uploads/", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/files/", s.handleListAll).Methods(http.MethodGet)
	api.HandleFunc("/files/user/", s.handleListOwned).Methods(http.MethodGet)
	api.HandleFunc("/documents/{path:.+}", s.handleDocument).Methods(http.MethodGet)
	api.HandleFunc("/file_versions/{id}", s.handleFileVersion).Methods(http.MethodGet)
	api.HandleFunc("/file_versions/{id}/download", s.handleFileVersionDownload).Methods(http.MethodGet)
	api.HandleFunc("/file_versions/{id}/grants", s.handleGrant).Methods(http.MethodPost)
	api.HandleFunc("/directories/", s.handleCreateDirectory).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// requireUser rejects requests without an identity header.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey{}).(string)
	return user
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records request durations labelled by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.collector.ObserveRequest(route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
