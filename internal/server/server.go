// Package server exposes research runs and saved reports over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/judge"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/pipeline"
	"github.com/noahsdonaldson/prospector/internal/store"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

// Researcher starts research runs.
type Researcher interface {
	Run(ctx context.Context, req pipeline.Request) <-chan model.Event
}

// ResearcherFactory returns a Researcher backed by the named model
// provider. An empty provider selects the configured default.
type ResearcherFactory func(ctx context.Context, provider string) (Researcher, error)

// Validator scores saved reports.
type Validator interface {
	Validate(ctx context.Context, r *model.Report) (*judge.Report, error)
}

// Server serves the research API.
type Server struct {
	cfg      config.ServerConfig
	store    store.Store
	research ResearcherFactory
	judge    Validator
	validate *validator.Validate
}

// New returns a Server. judge may be nil, which disables report validation.
func New(cfg config.ServerConfig, st store.Store, research ResearcherFactory, j Validator) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		research: research,
		judge:    j,
		validate: newValidator(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(
		metricsMiddleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		chiMiddleware.RequestID,
		requestLogger,
		chiMiddleware.Recoverer,
	)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/research", s.handleResearch)
		r.Post("/research/save", s.handleSave)

		r.Get("/companies", s.handleListCompanies)
		r.Get("/companies/{id}/reports", s.handleListReports)
		r.Get("/companies/{id}/personas", s.handleListPersonas)

		r.Get("/reports/{id}", s.handleGetReport)
		r.Delete("/reports/{id}", s.handleDeleteReport)
		r.Post("/reports/{id}/validate", s.handleValidateReport)

		r.Post("/personas", s.handleAddPersona)
	})

	return r
}

// Run serves on port until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
		zap.L().Info("server: stopped")
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
