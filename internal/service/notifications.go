// notifications.go — лента уведомлений компании.
//
// Уведомления создаются после успешной фиксации изменения работника.
// Ошибка создания уведомления пишется в лог и не возвращается вызывающему:
// изменение уже зафиксировано и не должно откатываться.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/repository"
)

// FeedLimit — максимальное число уведомлений в ленте.
const FeedLimit = 50

// SummaryDays — число календарных дней (UTC) в недельной сводке, включая сегодня.
const SummaryDays = 7

// SummarySince возвращает начало окна сводки: полночь UTC шесть дней назад.
// Окно не длиннее недели, поэтому дни недели в нём не повторяются.
func SummarySince(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d-(SummaryDays-1), 0, 0, 0, 0, time.UTC)
}

// emitTimeout ограничивает запись уведомления после завершения запроса.
const emitTimeout = 5 * time.Second

var notificationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lf_notifications_emitted_total",
	Help: "Созданные уведомления по категории и результату (ok, invalid, error).",
}, []string{"category", "result"})

// Emitter — приёмник доменных событий.
type Emitter interface {
	Emit(ctx context.Context, tenantID, actorID string, category model.NotificationCategory, content string)
}

// Enqueuer — очередь внешней рассылки (реализуется Dispatcher).
type Enqueuer interface {
	Enqueue(n model.Notification) bool
}

// NotificationService — создание уведомлений и учёт прочтения.
type NotificationService struct {
	repo      repository.NotificationRepository
	outbound  Enqueuer
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewNotificationService создаёт сервис уведомлений.
// outbound может быть nil — тогда внешняя рассылка не выполняется.
func NewNotificationService(
	repo repository.NotificationRepository,
	outbound Enqueuer,
	retention time.Duration,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		repo:      repo,
		outbound:  outbound,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("service", "notifications")),
	}
}

// Emit сохраняет уведомление с пустым набором прочтений
// и ставит его в очередь внешней рассылки. Никогда не возвращает ошибку.
func (s *NotificationService) Emit(ctx context.Context, tenantID, actorID string, category model.NotificationCategory, content string) {
	if tenantID == "" || actorID == "" || strings.TrimSpace(content) == "" {
		notificationsEmitted.WithLabelValues(string(category), "invalid").Inc()
		s.logger.Warn("Уведомление не создано: не заполнены обязательные поля",
			slog.String("tenant_id", tenantID),
			slog.String("actor_id", actorID),
			slog.String("category", string(category)),
		)
		return
	}
	if !category.Valid() {
		s.logger.Warn("Неизвестная категория уведомления, используется system",
			slog.String("category", string(category)),
		)
		category = model.CategorySystem
	}

	now := s.now()
	n := model.Notification{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Category:  category,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}

	// Запрос мог завершиться сразу после фиксации изменения.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, &n); err != nil {
		notificationsEmitted.WithLabelValues(string(category), "error").Inc()
		s.logger.Warn("Ошибка сохранения уведомления",
			slog.String("tenant_id", tenantID),
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		return
	}
	notificationsEmitted.WithLabelValues(string(category), "ok").Inc()

	if s.outbound != nil && !s.outbound.Enqueue(n) {
		s.logger.Warn("Очередь внешней рассылки переполнена, уведомление не отправлено",
			slog.String("notification_id", n.ID),
		)
	}
}

// List возвращает последние уведомления компании с признаком прочтения для вызывающего.
func (s *NotificationService) List(ctx context.Context, caller rbac.Caller) ([]model.FeedItem, error) {
	items, err := s.repo.ListForUser(ctx, caller.TenantID, caller.UserID, FeedLimit, s.now())
	if err != nil {
		return nil, mapRepoError("получение ленты уведомлений", err)
	}
	return items, nil
}

// MarkAllRead отмечает все уведомления компании прочитанными для вызывающего.
// Повторный вызов ничего не меняет и возвращает 0.
func (s *NotificationService) MarkAllRead(ctx context.Context, caller rbac.Caller) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, caller.TenantID, caller.UserID, s.now())
	if err != nil {
		return 0, mapRepoError("отметка уведомлений", err)
	}
	if n > 0 {
		s.logger.Debug("Уведомления отмечены прочитанными",
			slog.String("user_id", caller.UserID),
			slog.Int64("count", n),
		)
	}
	return n, nil
}

// WeeklySummary возвращает число уведомлений за последние 7 календарных
// дней по дню недели и категории.
func (s *NotificationService) WeeklySummary(ctx context.Context, tenantID string) ([]model.SummaryBucket, error) {
	buckets, err := s.repo.WeeklySummary(ctx, tenantID, SummarySince(s.now()))
	if err != nil {
		return nil, mapRepoError("построение сводки уведомлений", err)
	}
	return buckets, nil
}

// actorName — имя инициатора для текста уведомления.
// Идентификаторы в тексты не попадают.
func actorName(c rbac.Caller) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "A team member"
}
