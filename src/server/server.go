// Package server exposes the pipeline outputs over a read-only JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"SpeedRecords/src/config"
	"SpeedRecords/src/metrics"
	"SpeedRecords/src/processor"
	"SpeedRecords/src/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ResultFunc returns the current pipeline result.
type ResultFunc func(ctx context.Context) (*processor.Result, error)

// Server serves the four tables and the figures derived from them.
type Server struct {
	results ResultFunc
	logger  *storage.Logger
	metrics *metrics.Collector
	router  *mux.Router
	http    *http.Server
}

// New builds the router. logger and collector may be nil.
func New(cfg config.HTTPConfig, results ResultFunc, logger *storage.Logger, collector *metrics.Collector) *Server {
	s := &Server{
		results: results,
		logger:  logger,
		metrics: collector,
		router:  mux.NewRouter(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/records/filtered", s.getFiltered).Methods(http.MethodGet)
	api.HandleFunc("/records/valid", s.getValid).Methods(http.MethodGet)
	api.HandleFunc("/pivots/hour-weekday", s.getHourWeekday).Methods(http.MethodGet)
	api.HandleFunc("/pivots/weekday-month", s.getWeekdayMonth).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.getSummary).Methods(http.MethodGet)
	api.HandleFunc("/describe", s.getDescribe).Methods(http.MethodGet)
	api.HandleFunc("/limits", s.getLimits).Methods(http.MethodGet)
	api.HandleFunc("/histogram", s.getHistogram).Methods(http.MethodGet)
	api.HandleFunc("/distribution", s.getDistribution).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics", s.getDiagnostics).Methods(http.MethodGet)
	api.HandleFunc("/export.xlsx", s.getExport).Methods(http.MethodGet)

	s.router.HandleFunc("/logs", s.streamLogs).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
		s.router.Use(s.instrument)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// an error.
func (s *Server) ListenAndServe() error {
	s.logInfo("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// instrument records the route template and status of every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RecordAPIRequest(route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logInfo(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Infow(msg, kv...)
	}
}

func (s *Server) logError(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Errorw(msg, kv...)
	}
}
