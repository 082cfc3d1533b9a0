package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// NotificationRepository — интерфейс для таблиц notifications и notification_reads.
// Уведомления неизменяемы; отметки о прочтении только добавляются.
type NotificationRepository interface {
	// Create сохраняет уведомление.
	Create(ctx context.Context, n *model.Notification) error
	// ListForUser возвращает до limit неистёкших уведомлений компании,
	// новые первыми, с признаком прочтения пользователем userID.
	ListForUser(ctx context.Context, tenantID, userID string, limit int, now time.Time) ([]model.FeedItem, error)
	// MarkAllRead отмечает прочитанными все уведомления компании для userID.
	// Возвращает число новых отметок; повторный вызов возвращает 0.
	MarkAllRead(ctx context.Context, tenantID, userID string, now time.Time) (int64, error)
	// WeeklySummary группирует уведомления с момента since
	// по ISO-дню недели (UTC) и категории.
	WeeklySummary(ctx context.Context, tenantID string, since time.Time) ([]model.SummaryBucket, error)
	// PurgeExpired удаляет истёкшие уведомления вместе с отметками.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type notificationRepo struct {
	db DBTX
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db DBTX) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (id, tenant_id, actor_id, category, content, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		n.ID, n.TenantID, n.ActorID, string(n.Category), n.Content, n.CreatedAt, n.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания уведомления: %w", err)
	}
	return nil
}

func (r *notificationRepo) ListForUser(ctx context.Context, tenantID, userID string, limit int, now time.Time) ([]model.FeedItem, error) {
	query := `
		SELECT n.id::text, n.tenant_id, n.actor_id, n.category, n.content, n.created_at, n.expires_at,
			EXISTS (
				SELECT 1 FROM notification_reads r
				WHERE r.notification_id = n.id AND r.user_id = $2
			) AS is_read
		FROM notifications n
		WHERE n.tenant_id = $1 AND n.expires_at > $3
		ORDER BY n.created_at DESC, n.id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, tenantID, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	var result []model.FeedItem
	for rows.Next() {
		var item model.FeedItem
		var category string
		if err := rows.Scan(
			&item.ID, &item.TenantID, &item.ActorID, &category, &item.Content,
			&item.CreatedAt, &item.ExpiresAt, &item.IsRead,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уведомления: %w", err)
		}
		item.Category = model.NotificationCategory(category)
		item.Label = item.Category.Label()
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации уведомлений: %w", err)
	}
	return result, nil
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, tenantID, userID string, now time.Time) (int64, error) {
	// Один оператор: конкурентные вызовы одного пользователя сходятся
	// через ON CONFLICT по первичному ключу (notification_id, user_id).
	query := `
		INSERT INTO notification_reads (notification_id, user_id, read_at)
		SELECT n.id, $2, $3
		FROM notifications n
		WHERE n.tenant_id = $1 AND n.expires_at > $3
		ON CONFLICT (notification_id, user_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, tenantID, userID, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка отметки уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) WeeklySummary(ctx context.Context, tenantID string, since time.Time) ([]model.SummaryBucket, error) {
	query := `
		SELECT EXTRACT(ISODOW FROM created_at AT TIME ZONE 'UTC')::int AS dow,
			category, COUNT(*)
		FROM notifications
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY dow, category
		ORDER BY dow, category`

	rows, err := r.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения сводки: %w", err)
	}
	defer rows.Close()

	var result []model.SummaryBucket
	for rows.Next() {
		var b model.SummaryBucket
		var category string
		if err := rows.Scan(&b.ISODayOfWeek, &category, &b.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сводки: %w", err)
		}
		b.Category = model.NotificationCategory(category)
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *notificationRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}
