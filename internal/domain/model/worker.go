// Пакет model — доменные модели LaborFlow.
package model

import "time"

// WorkerStatus — агрегированный статус работника в конвейере.
type WorkerStatus string

// Статусы работника. Вычисляются из числа завершённых этапов.
const (
	WorkerStatusPending    WorkerStatus = "pending"
	WorkerStatusProcessing WorkerStatus = "processing"
	WorkerStatusDeployed   WorkerStatus = "deployed"
)

// StageStatus — статус отдельного этапа конвейера.
type StageStatus string

// Статусы этапа.
const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
)

// Valid проверяет, является ли значение допустимым статусом этапа.
func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusPending, StageStatusProcessing, StageStatusCompleted:
		return true
	}
	return false
}

// ApprovalStatus — статус проверки документа.
type ApprovalStatus string

// Статусы проверки документа.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
)

// Worker — кандидат, проходящий конвейер трудоустройства.
// Хранится в таблицах workers, worker_stages, worker_documents.
type Worker struct {
	// ID — UUID записи
	ID string
	// TenantID — компания-владелец записи
	TenantID string
	// CreatedBy — sub пользователя, создавшего запись
	CreatedBy string
	// PassportNumber — номер паспорта, уникальный во всей системе
	PassportNumber string

	FullName    string
	DateOfBirth time.Time
	Phone       string
	Email       string
	Address     string
	Country     string

	// EmployerID — работодатель
	EmployerID string
	// JobDemandID — заявка работодателя (опционально)
	JobDemandID *string
	// SubAgentID — субагент (опционально)
	SubAgentID *string

	// Status — производный статус, см. pipeline.DeriveStatus
	Status WorkerStatus
	// CurrentStage — первый незавершённый этап
	CurrentStage string

	// StageTimeline — ровно 11 этапов в фиксированном порядке
	StageTimeline []StageEntry
	// Documents — загруженные документы
	Documents []DocumentEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageEntry — элемент хронологии этапов работника.
type StageEntry struct {
	StageID   string
	Status    StageStatus
	UpdatedAt time.Time
	Note      *string
}

// DocumentEntry — метаданные загруженного документа.
type DocumentEntry struct {
	// Name — отображаемое имя файла
	Name string
	// Category — категория (passport, medical, contract, ...)
	Category string
	// Locator — непрозрачная ссылка, выданная хранилищем
	Locator string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum   string
	UploadedAt time.Time
	Approval   ApprovalStatus
}

// Clone возвращает глубокую копию работника.
// Маскирование и моки работают с копией, не затрагивая исходную запись.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	if w.JobDemandID != nil {
		v := *w.JobDemandID
		c.JobDemandID = &v
	}
	if w.SubAgentID != nil {
		v := *w.SubAgentID
		c.SubAgentID = &v
	}
	c.StageTimeline = make([]StageEntry, len(w.StageTimeline))
	for i, s := range w.StageTimeline {
		if s.Note != nil {
			n := *s.Note
			s.Note = &n
		}
		c.StageTimeline[i] = s
	}
	c.Documents = append([]DocumentEntry(nil), w.Documents...)
	return &c
}

// WorkerFilter — параметры выборки списка работников.
type WorkerFilter struct {
	Status WorkerStatus
	Stage  string
	Limit  int
	Offset int
}

// JobDemand — заявка работодателя. Управляется вне сервиса;
// здесь нужны только название для текстов уведомлений и список работников.
type JobDemand struct {
	ID         string
	TenantID   string
	EmployerID string
	Title      string
	WorkerIDs  []string
	CreatedAt  time.Time
}
