// Пакет server — HTTP-сервер Secure Share с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/secureshare/internal/api/handlers"
	"github.com/bigkaa/secureshare/internal/api/middleware"
	"github.com/bigkaa/secureshare/internal/api/openapi"
	"github.com/bigkaa/secureshare/internal/config"
)

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	Files       *handlers.FilesHandler
	Maintenance *handlers.MaintenanceHandler
	System      *handlers.SystemHandler
	Health      *handlers.HealthHandler
}

// Server — HTTP-сервер Secure Share.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tlsCert         string
	tlsKey          string
	shutdownTimeout time.Duration
}

// NewRouter собирает chi-роутер со всеми endpoints и middleware.
func NewRouter(logger *slog.Logger, h Handlers) http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.System.GetInfo)
		r.Get("/openapi.yaml", openapi.Handler)

		r.Post("/files", h.Files.Upload)
		r.Get("/files/{handle}", h.Files.View)
		r.Get("/files/{handle}/content", h.Files.Content)

		r.Post("/maintenance/sweep", h.Maintenance.Sweep)
		r.Post("/maintenance/reconcile", h.Maintenance.Reconcile)
	})

	return router
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer:      srv,
		logger:          logger.With(slog.String("component", "http")),
		tlsCert:         cfg.TLSCert,
		tlsKey:          cfg.TLSKey,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run запускает сервер и блокируется до отмены ctx или ошибки сервера.
// При отмене ctx выполняется graceful shutdown с таймаутом shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.tlsCert != ""),
		)

		var err error
		if s.tlsCert != "" && s.tlsKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...",
		slog.Duration("timeout", s.shutdownTimeout),
	)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
