package model

import (
	"strings"
	"time"
)

// NotificationCategory — внутренняя категория уведомления.
type NotificationCategory string

// Категории уведомлений.
const (
	CategoryGeneral   NotificationCategory = "general"
	CategoryEmployer  NotificationCategory = "employer"
	CategoryWorker    NotificationCategory = "worker"
	CategoryJobDemand NotificationCategory = "job-demand"
	CategorySubAgent  NotificationCategory = "sub-agent"
	CategorySystem    NotificationCategory = "system"
)

// categoryLabels — подписи категорий для клиента.
var categoryLabels = map[NotificationCategory]string{
	CategoryGeneral:   "System",
	CategoryEmployer:  "Employer",
	CategoryWorker:    "Worker",
	CategoryJobDemand: "Demand",
	CategorySubAgent:  "Agent",
	CategorySystem:    "System",
}

// Valid проверяет, известна ли категория.
func (c NotificationCategory) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label возвращает подпись категории для клиента.
// Неизвестные категории отображаются как System.
func (c NotificationCategory) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return "System"
}

// PreferenceKey возвращает имя атрибута пользователя в IdP,
// включающего внешние уведомления данной категории: notify_job_demand.
func (c NotificationCategory) PreferenceKey() string {
	return "notify_" + strings.ReplaceAll(string(c), "-", "_")
}

// Notification — событие, видимое всем сотрудникам компании.
// Хранится в таблице notifications; отметки о прочтении — в notification_reads.
type Notification struct {
	ID       string
	TenantID string
	// ActorID — sub пользователя, инициировавшего событие
	ActorID  string
	Category NotificationCategory
	// Content — готовый текст с именами, без идентификаторов
	Content   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// FeedItem — уведомление в ленте конкретного пользователя.
type FeedItem struct {
	Notification
	// IsRead — пользователь отметил уведомление прочитанным
	IsRead bool
	// Label — подпись категории
	Label string
}

// SummaryBucket — количество уведомлений за день недели и категорию.
type SummaryBucket struct {
	// ISODayOfWeek — 1 (понедельник) … 7 (воскресенье)
	ISODayOfWeek int
	Category     NotificationCategory
	Count        int
}
