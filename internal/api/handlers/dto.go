// dto.go — JSON-представления ресурсов API и преобразование из доменных моделей.
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/service"
)

// workerCreateRequest — JSON-часть "worker" запроса создания.
type workerCreateRequest struct {
	PassportNumber string               `json:"passport_number"`
	FullName       string               `json:"full_name"`
	DateOfBirth    openapi_types.Date   `json:"date_of_birth"`
	Phone          string               `json:"phone"`
	Email          *openapi_types.Email `json:"email,omitempty"`
	Address        string               `json:"address"`
	Country        string               `json:"country"`
	EmployerID     string               `json:"employer_id"`
	JobDemandID    *string              `json:"job_demand_id,omitempty"`
	SubAgentID     *string              `json:"sub_agent_id,omitempty"`
}

func (r workerCreateRequest) toInput() service.WorkerInput {
	in := service.WorkerInput{
		PassportNumber: r.PassportNumber,
		FullName:       r.FullName,
		DateOfBirth:    r.DateOfBirth.Time,
		Phone:          r.Phone,
		Address:        r.Address,
		Country:        r.Country,
		EmployerID:     r.EmployerID,
		JobDemandID:    r.JobDemandID,
		SubAgentID:     r.SubAgentID,
	}
	if r.Email != nil {
		in.Email = string(*r.Email)
	}
	return in
}

// stageUpdateRequest — тело PUT /workers/{id}/stages/{stageId}.
type stageUpdateRequest struct {
	Status model.StageStatus `json:"status"`
	Note   *string           `json:"note,omitempty"`
}

// documentRef — элемент списка "existing".
type documentRef struct {
	Locator string `json:"locator"`
}

// settingsUpdateRequest — тело PUT /settings.
type settingsUpdateRequest struct {
	IsPassportPrivate *bool `json:"is_passport_private"`
}

type stageEntryResponse struct {
	StageID   string            `json:"stage_id"`
	Status    model.StageStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
	Note      *string           `json:"note,omitempty"`
}

type documentResponse struct {
	Name           string               `json:"name"`
	Category       string               `json:"category"`
	Locator        string               `json:"locator"`
	Size           int64                `json:"size"`
	Checksum       string               `json:"checksum,omitempty"`
	UploadedAt     time.Time            `json:"uploaded_at"`
	ApprovalStatus model.ApprovalStatus `json:"approval_status"`
}

type workerResponse struct {
	ID             string               `json:"id"`
	TenantID       string               `json:"tenant_id"`
	CreatedBy      string               `json:"created_by"`
	PassportNumber string               `json:"passport_number"`
	FullName       string               `json:"full_name"`
	DateOfBirth    openapi_types.Date   `json:"date_of_birth"`
	Phone          string               `json:"phone"`
	Email          *openapi_types.Email `json:"email,omitempty"`
	Address        string               `json:"address"`
	Country        string               `json:"country"`
	EmployerID     string               `json:"employer_id"`
	JobDemandID    *string              `json:"job_demand_id,omitempty"`
	SubAgentID     *string              `json:"sub_agent_id,omitempty"`
	Status         model.WorkerStatus   `json:"status"`
	CurrentStage   string               `json:"current_stage"`
	StageTimeline  []stageEntryResponse `json:"stage_timeline"`
	Documents      []documentResponse   `json:"documents"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type workerListResponse struct {
	Items  []workerResponse `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type notificationResponse struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

type notificationListResponse struct {
	Items []notificationResponse `json:"items"`
}

type markAllReadResponse struct {
	Marked int64 `json:"marked"`
}

type summaryBucketResponse struct {
	ISODayOfWeek int    `json:"iso_day_of_week"`
	Category     string `json:"category"`
	Label        string `json:"label"`
	Count        int    `json:"count"`
}

type weeklySummaryResponse struct {
	Since   time.Time               `json:"since"`
	Buckets []summaryBucketResponse `json:"buckets"`
}

type settingsResponse struct {
	TenantID          string     `json:"tenant_id"`
	IsPassportPrivate bool       `json:"is_passport_private"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// --- Преобразование ---

func toWorkerResponse(w *model.Worker) workerResponse {
	resp := workerResponse{
		ID:             w.ID,
		TenantID:       w.TenantID,
		CreatedBy:      w.CreatedBy,
		PassportNumber: w.PassportNumber,
		FullName:       w.FullName,
		DateOfBirth:    openapi_types.Date{Time: w.DateOfBirth},
		Phone:          w.Phone,
		Address:        w.Address,
		Country:        w.Country,
		EmployerID:     w.EmployerID,
		JobDemandID:    w.JobDemandID,
		SubAgentID:     w.SubAgentID,
		Status:         w.Status,
		CurrentStage:   w.CurrentStage,
		StageTimeline:  make([]stageEntryResponse, 0, len(w.StageTimeline)),
		Documents:      make([]documentResponse, 0, len(w.Documents)),
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if w.Email != "" {
		email := openapi_types.Email(w.Email)
		resp.Email = &email
	}
	for _, s := range w.StageTimeline {
		resp.StageTimeline = append(resp.StageTimeline, stageEntryResponse{
			StageID:   s.StageID,
			Status:    s.Status,
			UpdatedAt: s.UpdatedAt,
			Note:      s.Note,
		})
	}
	for _, d := range w.Documents {
		resp.Documents = append(resp.Documents, documentResponse{
			Name:           d.Name,
			Category:       d.Category,
			Locator:        d.Locator,
			Size:           d.Size,
			Checksum:       d.Checksum,
			UploadedAt:     d.UploadedAt,
			ApprovalStatus: d.Approval,
		})
	}
	return resp
}

func toNotificationResponse(it model.FeedItem) notificationResponse {
	return notificationResponse{
		ID:        it.ID,
		Category:  string(it.Category),
		Label:     it.Label,
		Content:   it.Content,
		ActorID:   it.ActorID,
		CreatedAt: it.CreatedAt,
		IsRead:    it.IsRead,
	}
}

func toSettingsResponse(s model.CompanySettings) settingsResponse {
	resp := settingsResponse{
		TenantID:          s.TenantID,
		IsPassportPrivate: s.IsPassportPrivate,
		UpdatedBy:         s.UpdatedBy,
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}
