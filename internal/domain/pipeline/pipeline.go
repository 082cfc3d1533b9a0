// Пакет pipeline — правила конвейера трудоустройства: фиксированная
// таблица этапов, вычисление статуса работника и слияние документов.
// Чистые функции без ввода-вывода; сериализацию обеспечивает вызывающий слой.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// Идентификаторы этапов в порядке прохождения.
const (
	StageDocumentCollection      = "document-collection"
	StageDocumentVerification    = "document-verification"
	StageInterview               = "interview"
	StageMedicalExamination      = "medical-examination"
	StagePoliceClearance         = "police-clearance"
	StageTraining                = "training"
	StageVisaApplication         = "visa-application"
	StageVisaApproval            = "visa-approval"
	StageTicketBooking           = "ticket-booking"
	StagePreDepartureOrientation = "pre-departure-orientation"
	StageDeployed                = "deployed"
)

// stages — статическая таблица этапов. Порядок хронологии
// восстанавливается по индексу в этой таблице, а не по порядку хранения.
var stages = [...]string{
	StageDocumentCollection,
	StageDocumentVerification,
	StageInterview,
	StageMedicalExamination,
	StagePoliceClearance,
	StageTraining,
	StageVisaApplication,
	StageVisaApproval,
	StageTicketBooking,
	StagePreDepartureOrientation,
	StageDeployed,
}

// StageCount — число этапов конвейера.
const StageCount = len(stages)

var stageIndex = func() map[string]int {
	m := make(map[string]int, StageCount)
	for i, s := range stages {
		m[s] = i
	}
	return m
}()

// Ошибки правил конвейера.
var (
	// ErrUnknownStage — идентификатор этапа отсутствует в таблице.
	ErrUnknownStage = errors.New("неизвестный этап")
	// ErrInvalidStageStatus — недопустимый статус этапа.
	ErrInvalidStageStatus = errors.New("недопустимый статус этапа")
)

// Stages возвращает копию упорядоченного списка этапов.
func Stages() []string {
	out := make([]string, StageCount)
	copy(out, stages[:])
	return out
}

// StageIndex возвращает позицию этапа в конвейере.
func StageIndex(stageID string) (int, bool) {
	i, ok := stageIndex[stageID]
	return i, ok
}

// IsKnownStage проверяет, входит ли этап в таблицу.
func IsKnownStage(stageID string) bool {
	_, ok := stageIndex[stageID]
	return ok
}

// FirstStage возвращает первый этап конвейера.
func FirstStage() string {
	return stages[0]
}

// NewTimeline создаёт хронологию из всех этапов в статусе pending.
func NewTimeline(now time.Time) []model.StageEntry {
	timeline := make([]model.StageEntry, StageCount)
	for i, s := range stages {
		timeline[i] = model.StageEntry{
			StageID:   s,
			Status:    model.StageStatusPending,
			UpdatedAt: now,
		}
	}
	return timeline
}

// CompletedCount возвращает число завершённых этапов.
func CompletedCount(timeline []model.StageEntry) int {
	n := 0
	for _, e := range timeline {
		if e.Status == model.StageStatusCompleted {
			n++
		}
	}
	return n
}

// DeriveStatus вычисляет статус работника из числа завершённых этапов:
// 0 — pending, 1..10 — processing, 11 — deployed.
func DeriveStatus(completed int) model.WorkerStatus {
	switch {
	case completed <= 0:
		return model.WorkerStatusPending
	case completed >= StageCount:
		return model.WorkerStatusDeployed
	default:
		return model.WorkerStatusProcessing
	}
}

// CurrentStage возвращает первый незавершённый этап в порядке конвейера.
// Если завершены все — последний этап.
func CurrentStage(timeline []model.StageEntry) string {
	best := -1
	for _, e := range timeline {
		if e.Status == model.StageStatusCompleted {
			continue
		}
		i, ok := stageIndex[e.StageID]
		if !ok {
			continue
		}
		if best == -1 || i < best {
			best = i
		}
	}
	if best == -1 {
		return stages[StageCount-1]
	}
	return stages[best]
}

// SortTimeline упорядочивает хронологию по статической таблице этапов.
func SortTimeline(timeline []model.StageEntry) []model.StageEntry {
	sorted := make([]model.StageEntry, 0, len(timeline))
	byID := make(map[string]model.StageEntry, len(timeline))
	for _, e := range timeline {
		byID[e.StageID] = e
	}
	for _, s := range stages {
		if e, ok := byID[s]; ok {
			sorted = append(sorted, e)
		}
	}
	return sorted
}

// Recompute пересчитывает Status и CurrentStage по хронологии.
func Recompute(w *model.Worker) {
	w.Status = DeriveStatus(CompletedCount(w.StageTimeline))
	w.CurrentStage = CurrentStage(w.StageTimeline)
}

// ApplyStage меняет статус этапа, обновляет дату перехода и пересчитывает
// агрегаты. note == nil оставляет заметку без изменений.
// Для неизвестного этапа возвращает ErrUnknownStage, работник не меняется.
func ApplyStage(w *model.Worker, stageID string, status model.StageStatus, note *string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStageStatus, status)
	}
	for i := range w.StageTimeline {
		e := &w.StageTimeline[i]
		if e.StageID != stageID {
			continue
		}
		e.Status = status
		e.UpdatedAt = now
		if note != nil {
			n := *note
			e.Note = &n
		}
		Recompute(w)
		w.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownStage, stageID)
}

// --- Документы ---

// MergeDocuments формирует новый список документов работника:
// сохранённые документы, чьи локаторы перечислены в keep (в порядке keep),
// плюс добавленные. Сохранённые записи берутся из stored целиком,
// поэтому статус проверки клиент изменить не может. Неизвестные
// локаторы и повторы в keep игнорируются.
func MergeDocuments(stored []model.DocumentEntry, keep []string, added []model.DocumentEntry) []model.DocumentEntry {
	byLocator := make(map[string]model.DocumentEntry, len(stored))
	for _, d := range stored {
		byLocator[d.Locator] = d
	}

	merged := make([]model.DocumentEntry, 0, len(keep)+len(added))
	seen := make(map[string]bool, len(keep))
	for _, loc := range keep {
		d, ok := byLocator[loc]
		if !ok || seen[loc] {
			continue
		}
		seen[loc] = true
		merged = append(merged, d)
	}
	for _, d := range added {
		d.Approval = model.ApprovalPending
		merged = append(merged, d)
	}
	return merged
}

// ApproveDocument отмечает документ с указанным локатором как проверенный.
// Возвращает false, если документа нет.
func ApproveDocument(w *model.Worker, locator string, now time.Time) bool {
	for i := range w.Documents {
		if w.Documents[i].Locator == locator {
			w.Documents[i].Approval = model.ApprovalApproved
			w.UpdatedAt = now
			return true
		}
	}
	return false
}
