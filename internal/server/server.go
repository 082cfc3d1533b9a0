// Пакет server — HTTP-сервер LaborFlow с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/laborflow/internal/api/handlers"
	"github.com/bigkaa/laborflow/internal/api/middleware"
	"github.com/bigkaa/laborflow/internal/config"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
)

// Server — HTTP-сервер LaborFlow.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с маршрутами и middleware.
// jwtAuth может быть nil только в тестах: тогда /api/v1 отвечает 401.
// validator опционален.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	h *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth, validator),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// Health и metrics проверяются Kubernetes напрямую, без JWT.
func NewRouter(
	logger *slog.Logger,
	h *handlers.APIHandler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам).
	// RequestLogger до JWT: в лог попадают user_id и tenant_id.
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/api/openapi.yaml", h.GetOpenAPI)

	router.Route("/api/v1", func(r chi.Router) {
		if jwtAuth != nil {
			r.Use(jwtAuth.Middleware())
		}
		if validator != nil {
			r.Use(validator.Middleware())
		}

		r.Get("/workers", h.ListWorkers)
		r.Post("/workers", h.CreateWorker)
		r.Get("/workers/{id}", h.GetWorker)
		r.Delete("/workers/{id}", h.DeleteWorker)
		r.Put("/workers/{id}/stages/{stageId}", h.UpdateStage)
		r.Put("/workers/{id}/documents", h.AppendDocuments)
		r.With(middleware.RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin)).
			Post("/workers/{id}/documents/{locator}/approve", h.ApproveDocument)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
		r.Get("/notifications/summary", h.WeeklySummary)

		r.Get("/settings", h.GetSettings)
		r.With(middleware.RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin)).
			Put("/settings", h.UpdateSettings)
	})

	return router
}

// Run запускает сервер и блокируется до отмены ctx.
// После отмены выполняется graceful shutdown с таймаутом ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
