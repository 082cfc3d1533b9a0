// handler.go — основной обработчик API LaborFlow.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/laborflow/internal/api/errors"
	"github.com/bigkaa/laborflow/internal/api/middleware"
	"github.com/bigkaa/laborflow/internal/api/openapi"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/service"
)

// defaultUploadMaxBytes — лимит multipart-запроса, если не задан в конфигурации.
const defaultUploadMaxBytes = 32 << 20

// Pipeline — операции конвейера, используемые обработчиками.
type Pipeline interface {
	CreateWorker(ctx context.Context, caller rbac.Caller, in service.WorkerInput, uploads []service.Upload) (*model.Worker, error)
	UpdateStage(ctx context.Context, caller rbac.Caller, id, stageID string, status model.StageStatus, note *string) (*model.Worker, error)
	AppendDocuments(ctx context.Context, caller rbac.Caller, id string, keep []string, uploads []service.Upload) (*model.Worker, error)
	ApproveDocument(ctx context.Context, caller rbac.Caller, id, locator string) (*model.Worker, error)
	DeleteWorker(ctx context.Context, caller rbac.Caller, id string) error
	GetWorker(ctx context.Context, caller rbac.Caller, id string) (*model.Worker, error)
	ListWorkers(ctx context.Context, caller rbac.Caller, filter model.WorkerFilter) ([]*model.Worker, int, error)
}

// Notifications — лента уведомлений.
type Notifications interface {
	List(ctx context.Context, caller rbac.Caller) ([]model.FeedItem, error)
	MarkAllRead(ctx context.Context, caller rbac.Caller) (int64, error)
	WeeklySummary(ctx context.Context, tenantID string) ([]model.SummaryBucket, error)
}

// Settings — настройки компании.
type Settings interface {
	Get(ctx context.Context, tenantID string) (model.CompanySettings, error)
	Update(ctx context.Context, caller rbac.Caller, isPassportPrivate bool) (model.CompanySettings, error)
}

// APIHandler — основной обработчик API LaborFlow.
type APIHandler struct {
	health         *HealthHandler
	pipeline       Pipeline
	notifications  Notifications
	settings       Settings
	uploadMaxBytes int64
	logger         *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// uploadMaxBytes <= 0 заменяется значением по умолчанию (32 MiB).
func NewAPIHandler(
	health *HealthHandler,
	pipeline Pipeline,
	notifications Notifications,
	settings Settings,
	uploadMaxBytes int64,
	logger *slog.Logger,
) *APIHandler {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = defaultUploadMaxBytes
	}
	return &APIHandler{
		health:         health,
		pipeline:       pipeline,
		notifications:  notifications,
		settings:       settings,
		uploadMaxBytes: uploadMaxBytes,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI отдаёт встроенный контракт API.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Raw())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// callerFrom извлекает вызывающего из контекста.
// Без JWT middleware запрос отклоняется с 401.
func callerFrom(w http.ResponseWriter, r *http.Request) (rbac.Caller, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return rbac.Caller{}, false
	}
	return caller, true
}

// decodeJSON разбирает тело запроса. Неизвестные поля отклоняются.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
