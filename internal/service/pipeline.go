// pipeline.go — конвейер трудоустройства: создание работника, смена этапов,
// документы и удаление. Изменения выполняются под блокировкой строки работника,
// уведомления создаются только после успешной фиксации.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/laborflow/internal/blobstore"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/pipeline"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/repository"
)

// Параметры выборки списка работников.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// uploadParallelism — число одновременных загрузок в хранилище.
const uploadParallelism = 4

var stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lf_stage_transitions_total",
	Help: "Переходы этапов конвейера по этапу и новому статусу.",
}, []string{"stage", "status"})

// SettingsReader — источник настроек компании для маскирования.
type SettingsReader interface {
	Get(ctx context.Context, tenantID string) (model.CompanySettings, error)
}

// WorkerInput — поля нового работника.
type WorkerInput struct {
	PassportNumber string
	FullName       string
	DateOfBirth    time.Time
	Phone          string
	Email          string
	Address        string
	Country        string
	EmployerID     string
	JobDemandID    *string
	SubAgentID     *string
}

// Upload — файл из multipart-запроса.
type Upload struct {
	Filename    string
	Category    string
	ContentType string
	Size        int64
	// Open открывает содержимое; вызывается один раз при загрузке
	Open func() (io.ReadCloser, error)
}

// PipelineService — операции над работниками.
type PipelineService struct {
	workers      repository.WorkerRepository
	demands      repository.JobDemandRepository
	blobs        blobstore.Store
	settings     SettingsReader
	events       Emitter
	strictStages bool
	now          func() time.Time
	logger       *slog.Logger
}

// NewPipelineService создаёт сервис конвейера.
// strictStages определяет реакцию на неизвестный этап: ошибка валидации
// или возврат работника без изменений.
func NewPipelineService(
	workers repository.WorkerRepository,
	demands repository.JobDemandRepository,
	blobs blobstore.Store,
	settings SettingsReader,
	events Emitter,
	strictStages bool,
	logger *slog.Logger,
) *PipelineService {
	return &PipelineService{
		workers:      workers,
		demands:      demands,
		blobs:        blobs,
		settings:     settings,
		events:       events,
		strictStages: strictStages,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("service", "pipeline")),
	}
}

// CreateWorker регистрирует работника со всеми этапами в статусе pending.
// Файлы сохраняются в хранилище до начала транзакции.
func (s *PipelineService) CreateWorker(ctx context.Context, caller rbac.Caller, in WorkerInput, uploads []Upload) (*model.Worker, error) {
	in = normalizeInput(in)
	if err := validateWorkerInput(in); err != nil {
		return nil, err
	}

	var demand *model.JobDemand
	if in.JobDemandID != nil {
		d, err := s.demands.GetByID(ctx, caller.TenantID, *in.JobDemandID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrJobDemandNotFound) {
				return nil, fmt.Errorf("%w: заявка работодателя не найдена", ErrValidation)
			}
			return nil, mapRepoError("получение заявки работодателя", err)
		}
		demand = d
	}

	now := s.now()
	docs, err := s.storeUploads(ctx, caller, uploads, now)
	if err != nil {
		return nil, err
	}

	w := &model.Worker{
		ID:             uuid.New().String(),
		TenantID:       caller.TenantID,
		CreatedBy:      caller.UserID,
		PassportNumber: in.PassportNumber,
		FullName:       in.FullName,
		DateOfBirth:    in.DateOfBirth,
		Phone:          in.Phone,
		Email:          in.Email,
		Address:        in.Address,
		Country:        in.Country,
		EmployerID:     in.EmployerID,
		JobDemandID:    in.JobDemandID,
		SubAgentID:     in.SubAgentID,
		StageTimeline:  pipeline.NewTimeline(now),
		Documents:      pipeline.MergeDocuments(nil, nil, docs),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pipeline.Recompute(w)

	if err := s.workers.Create(ctx, w); err != nil {
		if len(docs) > 0 {
			s.logger.Warn("Работник не создан, загруженные файлы остались в хранилище",
				slog.Int("files", len(docs)),
			)
		}
		return nil, mapRepoError("создание работника", err)
	}

	s.logger.Info("Работник создан",
		slog.String("worker_id", w.ID),
		slog.String("tenant_id", w.TenantID),
		slog.Int("documents", len(w.Documents)),
	)

	s.emit(ctx, caller, model.CategoryWorker,
		fmt.Sprintf("%s added worker %s", actorName(caller), w.FullName))
	if demand != nil {
		s.emit(ctx, caller, model.CategoryJobDemand,
			fmt.Sprintf("%s assigned worker %s to job demand %s", actorName(caller), w.FullName, demand.Title))
	}

	return s.view(ctx, caller, w), nil
}

// UpdateStage меняет статус этапа работника и пересчитывает его статус.
func (s *PipelineService) UpdateStage(ctx context.Context, caller rbac.Caller, id, stageID string, status model.StageStatus, note *string) (*model.Worker, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: недопустимый статус этапа %q", ErrValidation, status)
	}
	scope := rbac.VisibilityScope(caller)

	if !pipeline.IsKnownStage(stageID) {
		if s.strictStages {
			return nil, fmt.Errorf("%w: неизвестный этап %q", ErrValidation, stageID)
		}
		w, err := s.workers.GetByID(ctx, scope, id)
		if err != nil {
			return nil, mapRepoError("получение работника", err)
		}
		s.logger.Debug("Неизвестный этап проигнорирован",
			slog.String("worker_id", id),
			slog.String("stage_id", stageID),
		)
		return s.view(ctx, caller, w), nil
	}

	w, err := s.workers.Mutate(ctx, scope, id, func(w *model.Worker) error {
		return pipeline.ApplyStage(w, stageID, status, note, s.now())
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownStage) || errors.Is(err, pipeline.ErrInvalidStageStatus) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, mapRepoError("изменение этапа", err)
	}
	stageTransitions.WithLabelValues(stageID, string(status)).Inc()

	s.logger.Info("Этап работника изменён",
		slog.String("worker_id", w.ID),
		slog.String("stage_id", stageID),
		slog.String("stage_status", string(status)),
		slog.String("worker_status", string(w.Status)),
	)

	s.emit(ctx, caller, model.CategoryWorker,
		fmt.Sprintf("%s marked stage %s as %s for worker %s", actorName(caller), stageID, status, w.FullName))

	return s.view(ctx, caller, w), nil
}

// AppendDocuments заменяет список документов: остаются перечисленные в keep
// (с сохранёнными статусами проверки), новые файлы добавляются как pending.
// Файлы загружаются до блокировки строки работника.
func (s *PipelineService) AppendDocuments(ctx context.Context, caller rbac.Caller, id string, keep []string, uploads []Upload) (*model.Worker, error) {
	scope := rbac.VisibilityScope(caller)

	// Без загрузки в хранилище для невидимых работников.
	if _, err := s.workers.GetByID(ctx, scope, id); err != nil {
		return nil, mapRepoError("получение работника", err)
	}

	now := s.now()
	added, err := s.storeUploads(ctx, caller, uploads, now)
	if err != nil {
		return nil, err
	}

	var removed int
	w, err := s.workers.Mutate(ctx, scope, id, func(w *model.Worker) error {
		merged := pipeline.MergeDocuments(w.Documents, keep, added)
		removed = len(w.Documents) + len(added) - len(merged)
		w.Documents = merged
		w.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, mapRepoError("изменение документов", err)
	}

	s.logger.Info("Документы работника обновлены",
		slog.String("worker_id", w.ID),
		slog.Int("added", len(added)),
		slog.Int("removed", removed),
	)

	s.emit(ctx, caller, model.CategoryWorker,
		fmt.Sprintf("%s updated documents of worker %s", actorName(caller), w.FullName))

	return s.view(ctx, caller, w), nil
}

// ApproveDocument отмечает документ проверенным. Доступно admin и super_admin.
func (s *PipelineService) ApproveDocument(ctx context.Context, caller rbac.Caller, id, locator string) (*model.Worker, error) {
	if !rbac.CanApproveDocuments(caller.Role) {
		return nil, fmt.Errorf("%w: подтверждать документы может только администратор", ErrForbidden)
	}

	var docName string
	w, err := s.workers.Mutate(ctx, rbac.VisibilityScope(caller), id, func(w *model.Worker) error {
		if !pipeline.ApproveDocument(w, locator, s.now()) {
			return fmt.Errorf("%w: документ не найден", ErrNotFound)
		}
		for _, d := range w.Documents {
			if d.Locator == locator {
				docName = d.Name
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError("подтверждение документа", err)
	}

	s.logger.Info("Документ подтверждён",
		slog.String("worker_id", w.ID),
		slog.String("locator", locator),
	)

	s.emit(ctx, caller, model.CategoryWorker,
		fmt.Sprintf("%s approved document %s of worker %s", actorName(caller), docName, w.FullName))

	return s.view(ctx, caller, w), nil
}

// DeleteWorker удаляет работника и убирает его из заявки работодателя.
func (s *PipelineService) DeleteWorker(ctx context.Context, caller rbac.Caller, id string) error {
	w, err := s.workers.Delete(ctx, rbac.VisibilityScope(caller), id)
	if err != nil {
		return mapRepoError("удаление работника", err)
	}

	s.logger.Info("Работник удалён",
		slog.String("worker_id", w.ID),
		slog.String("tenant_id", w.TenantID),
	)

	s.emit(ctx, caller, model.CategoryWorker,
		fmt.Sprintf("%s removed worker %s", actorName(caller), w.FullName))
	return nil
}

// GetWorker возвращает работника с учётом видимости и маскирования.
func (s *PipelineService) GetWorker(ctx context.Context, caller rbac.Caller, id string) (*model.Worker, error) {
	w, err := s.workers.GetByID(ctx, rbac.VisibilityScope(caller), id)
	if err != nil {
		return nil, mapRepoError("получение работника", err)
	}
	return s.view(ctx, caller, w), nil
}

// ListWorkers возвращает страницу работников и общее количество.
func (s *PipelineService) ListWorkers(ctx context.Context, caller rbac.Caller, filter model.WorkerFilter) ([]*model.Worker, int, error) {
	switch filter.Status {
	case "", model.WorkerStatusPending, model.WorkerStatusProcessing, model.WorkerStatusDeployed:
	default:
		return nil, 0, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, filter.Status)
	}
	if filter.Stage != "" && !pipeline.IsKnownStage(filter.Stage) {
		return nil, 0, fmt.Errorf("%w: неизвестный этап %q", ErrValidation, filter.Stage)
	}
	if filter.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset не может быть отрицательным", ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	items, total, err := s.workers.List(ctx, rbac.VisibilityScope(caller), filter)
	if err != nil {
		return nil, 0, mapRepoError("получение списка работников", err)
	}

	settings, mask := s.maskingFor(ctx, caller)
	out := make([]*model.Worker, len(items))
	for i, w := range items {
		out[i] = applyView(w, caller.Role, settings, mask)
	}
	return out, total, nil
}

// storeUploads параллельно сохраняет файлы и возвращает записи документов
// в порядке исходного списка.
func (s *PipelineService) storeUploads(ctx context.Context, caller rbac.Caller, uploads []Upload, now time.Time) ([]model.DocumentEntry, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	for _, u := range uploads {
		if strings.TrimSpace(u.Filename) == "" || u.Open == nil {
			return nil, fmt.Errorf("%w: файл без имени", ErrValidation)
		}
	}

	docs := make([]model.DocumentEntry, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadParallelism)

	for i, u := range uploads {
		g.Go(func() error {
			rc, err := u.Open()
			if err != nil {
				return fmt.Errorf("открытие файла %q: %w", u.Filename, err)
			}
			defer rc.Close()

			obj, err := s.blobs.Store(gctx, rc, blobstore.Metadata{
				Filename:    u.Filename,
				ContentType: u.ContentType,
				TenantID:    caller.TenantID,
				UploadedBy:  caller.UserID,
			})
			if err != nil {
				return fmt.Errorf("сохранение файла %q: %w", u.Filename, err)
			}

			category := u.Category
			if category == "" {
				category = "other"
			}
			docs[i] = model.DocumentEntry{
				Name:       u.Filename,
				Category:   category,
				Locator:    obj.Locator,
				Size:       obj.Size,
				Checksum:   obj.Checksum,
				UploadedAt: now,
				Approval:   model.ApprovalPending,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Ошибка загрузки файлов",
			slog.Int("files", len(uploads)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return docs, nil
}

// view применяет политику маскирования к одному работнику.
func (s *PipelineService) view(ctx context.Context, caller rbac.Caller, w *model.Worker) *model.Worker {
	settings, mask := s.maskingFor(ctx, caller)
	return applyView(w, caller.Role, settings, mask)
}

// maskingFor возвращает настройки компании. При ошибке чтения
// паспорт скрывается для всех, кроме admin и super_admin.
func (s *PipelineService) maskingFor(ctx context.Context, caller rbac.Caller) (model.CompanySettings, bool) {
	settings, err := s.settings.Get(ctx, caller.TenantID)
	if err != nil {
		s.logger.Warn("Настройки компании недоступны, паспорт скрывается",
			slog.String("tenant_id", caller.TenantID),
			slog.String("error", err.Error()),
		)
		return model.CompanySettings{TenantID: caller.TenantID}, !rbac.CanManageSettings(caller.Role)
	}
	return settings, false
}

func applyView(w *model.Worker, role string, settings model.CompanySettings, forceMask bool) *model.Worker {
	out := rbac.ApplyMasking(w, role, settings)
	if forceMask {
		out.PassportNumber = rbac.MaskPassport(out.PassportNumber)
	}
	return out
}

func (s *PipelineService) emit(ctx context.Context, caller rbac.Caller, category model.NotificationCategory, content string) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, caller.TenantID, caller.UserID, category, content)
}

func normalizeInput(in WorkerInput) WorkerInput {
	in.PassportNumber = strings.TrimSpace(in.PassportNumber)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	in.Country = strings.TrimSpace(in.Country)
	in.EmployerID = strings.TrimSpace(in.EmployerID)
	in.JobDemandID = trimOptional(in.JobDemandID)
	in.SubAgentID = trimOptional(in.SubAgentID)
	return in
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func validateWorkerInput(in WorkerInput) error {
	var missing []string
	if in.FullName == "" {
		missing = append(missing, "full_name")
	}
	if in.PassportNumber == "" {
		missing = append(missing, "passport_number")
	}
	if in.DateOfBirth.IsZero() {
		missing = append(missing, "date_of_birth")
	}
	if in.Phone == "" {
		missing = append(missing, "phone")
	}
	if in.Address == "" {
		missing = append(missing, "address")
	}
	if in.Country == "" {
		missing = append(missing, "country")
	}
	if in.EmployerID == "" {
		missing = append(missing, "employer_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заполнены обязательные поля: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
