package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/laborflow/internal/api/middleware"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/service"
)

// mockPipeline — мок конвейера, записывающий аргументы вызовов.
type mockPipeline struct {
	worker *model.Worker
	list   []*model.Worker
	total  int
	err    error

	gotInput   service.WorkerInput
	gotUploads []service.Upload
	gotContent []string
	gotKeep    []string
	gotFilter  model.WorkerFilter
	gotID      string
	gotStage   string
	gotStatus  model.StageStatus
	gotNote    *string
	gotLocator string
	gotCaller  rbac.Caller
}

// readUploads читает содержимое файлов, пока форма ещё не удалена.
func (m *mockPipeline) readUploads(uploads []service.Upload) {
	m.gotUploads = uploads
	for _, u := range uploads {
		rc, err := u.Open()
		if err != nil {
			continue
		}
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		m.gotContent = append(m.gotContent, string(data))
	}
}

func (m *mockPipeline) CreateWorker(_ context.Context, caller rbac.Caller, in service.WorkerInput, uploads []service.Upload) (*model.Worker, error) {
	m.gotCaller = caller
	m.gotInput = in
	m.readUploads(uploads)
	return m.worker, m.err
}

func (m *mockPipeline) UpdateStage(_ context.Context, caller rbac.Caller, id, stageID string, status model.StageStatus, note *string) (*model.Worker, error) {
	m.gotCaller, m.gotID, m.gotStage, m.gotStatus, m.gotNote = caller, id, stageID, status, note
	return m.worker, m.err
}

func (m *mockPipeline) AppendDocuments(_ context.Context, caller rbac.Caller, id string, keep []string, uploads []service.Upload) (*model.Worker, error) {
	m.gotCaller, m.gotID, m.gotKeep = caller, id, keep
	m.readUploads(uploads)
	return m.worker, m.err
}

func (m *mockPipeline) ApproveDocument(_ context.Context, caller rbac.Caller, id, locator string) (*model.Worker, error) {
	m.gotCaller, m.gotID, m.gotLocator = caller, id, locator
	return m.worker, m.err
}

func (m *mockPipeline) DeleteWorker(_ context.Context, caller rbac.Caller, id string) error {
	m.gotCaller, m.gotID = caller, id
	return m.err
}

func (m *mockPipeline) GetWorker(_ context.Context, caller rbac.Caller, id string) (*model.Worker, error) {
	m.gotCaller, m.gotID = caller, id
	return m.worker, m.err
}

func (m *mockPipeline) ListWorkers(_ context.Context, caller rbac.Caller, filter model.WorkerFilter) ([]*model.Worker, int, error) {
	m.gotCaller, m.gotFilter = caller, filter
	return m.list, m.total, m.err
}

// mockNotifications — мок ленты уведомлений.
type mockNotifications struct {
	items     []model.FeedItem
	marked    int64
	buckets   []model.SummaryBucket
	err       error
	gotTenant string
}

func (m *mockNotifications) List(_ context.Context, _ rbac.Caller) ([]model.FeedItem, error) {
	return m.items, m.err
}

func (m *mockNotifications) MarkAllRead(_ context.Context, _ rbac.Caller) (int64, error) {
	return m.marked, m.err
}

func (m *mockNotifications) WeeklySummary(_ context.Context, tenantID string) ([]model.SummaryBucket, error) {
	m.gotTenant = tenantID
	return m.buckets, m.err
}

// mockSettings — мок настроек компании.
type mockSettings struct {
	settings   model.CompanySettings
	err        error
	gotPrivate *bool
}

func (m *mockSettings) Get(_ context.Context, tenantID string) (model.CompanySettings, error) {
	s := m.settings
	s.TenantID = tenantID
	return s, m.err
}

func (m *mockSettings) Update(_ context.Context, caller rbac.Caller, isPassportPrivate bool) (model.CompanySettings, error) {
	m.gotPrivate = &isPassportPrivate
	if m.err != nil {
		return model.CompanySettings{}, m.err
	}
	return model.CompanySettings{
		TenantID:          caller.TenantID,
		IsPassportPrivate: isPassportPrivate,
		UpdatedBy:         caller.UserID,
	}, nil
}

// mockChecker — мок ReadinessChecker.
type mockChecker struct {
	status, message string
}

func (c mockChecker) CheckReady() (string, string) { return c.status, c.message }

// mockDeps — мок DependencyReporter.
type mockDeps map[string]bool

func (d mockDeps) Health() map[string]bool { return d }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCaller — сотрудник компании acme.
var testCaller = &middleware.AuthClaims{
	Subject:       "u-1",
	Name:          "Alice",
	TenantID:      "acme",
	EffectiveRole: rbac.RoleEmployee,
}

// testRouter собирает маршруты как в сервере, но без JWT:
// claims подставляются напрямую, если withCaller.
func testRouter(h *APIHandler, withCaller bool) http.Handler {
	r := chi.NewRouter()
	if withCaller {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithClaims(req.Context(), testCaller)))
			})
		})
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/workers", h.ListWorkers)
		r.Post("/workers", h.CreateWorker)
		r.Get("/workers/{id}", h.GetWorker)
		r.Delete("/workers/{id}", h.DeleteWorker)
		r.Put("/workers/{id}/stages/{stageId}", h.UpdateStage)
		r.Put("/workers/{id}/documents", h.AppendDocuments)
		r.Post("/workers/{id}/documents/{locator}/approve", h.ApproveDocument)
		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
		r.Get("/notifications/summary", h.WeeklySummary)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})
	return r
}
