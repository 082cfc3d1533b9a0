// workers.go — обработчики конвейера работников:
// создание, список, карточка, удаление, смена этапа, документы.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/laborflow/internal/api/errors"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/service"
)

// multipartMemory — часть multipart-запроса, удерживаемая в памяти;
// остальное ParseMultipartForm сбрасывает во временные файлы.
const multipartMemory = 8 << 20

// CreateWorker — POST /api/v1/workers (multipart: worker, files, category).
func (h *APIHandler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	var req workerCreateRequest
	found, err := formJSON(form, "worker", &req)
	if err != nil {
		apierrors.ValidationError(w, "Некорректная часть worker: "+err.Error())
		return
	}
	if !found {
		apierrors.ValidationError(w, "Отсутствует часть worker")
		return
	}

	worker, err := h.pipeline.CreateWorker(r.Context(), caller, req.toInput(), uploadsFrom(form))
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerResponse(worker))
}

// ListWorkers — GET /api/v1/workers?status=&stage=&limit=&offset=.
func (h *APIHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := model.WorkerFilter{
		Status: model.WorkerStatus(q.Get("status")),
		Stage:  q.Get("stage"),
	}
	var err error
	if filter.Limit, err = queryInt(q, "limit"); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(q, "offset"); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	workers, total, err := h.pipeline.ListWorkers(r.Context(), caller, filter)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	if limit > service.MaxListLimit {
		limit = service.MaxListLimit
	}
	resp := workerListResponse{
		Items:  make([]workerResponse, 0, len(workers)),
		Total:  total,
		Limit:  limit,
		Offset: filter.Offset,
	}
	for _, wk := range workers {
		resp.Items = append(resp.Items, toWorkerResponse(wk))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetWorker — GET /api/v1/workers/{id}.
func (h *APIHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	worker, err := h.pipeline.GetWorker(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

// DeleteWorker — DELETE /api/v1/workers/{id}.
func (h *APIHandler) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.DeleteWorker(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStage — PUT /api/v1/workers/{id}/stages/{stageId}.
func (h *APIHandler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req stageUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	worker, err := h.pipeline.UpdateStage(r.Context(), caller,
		chi.URLParam(r, "id"), chi.URLParam(r, "stageId"), req.Status, req.Note)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

// AppendDocuments — PUT /api/v1/workers/{id}/documents (multipart: existing, files, category).
func (h *APIHandler) AppendDocuments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	keep, err := existingLocators(form)
	if err != nil {
		apierrors.ValidationError(w, "Некорректная часть existing: "+err.Error())
		return
	}

	worker, err := h.pipeline.AppendDocuments(r.Context(), caller, chi.URLParam(r, "id"), keep, uploadsFrom(form))
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

// ApproveDocument — POST /api/v1/workers/{id}/documents/{locator}/approve.
// Локатор передаётся в пути URL-кодированным.
func (h *APIHandler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	locator, err := url.PathUnescape(chi.URLParam(r, "locator"))
	if err != nil || locator == "" {
		apierrors.ValidationError(w, "Некорректный локатор документа")
		return
	}

	worker, err := h.pipeline.ApproveDocument(r.Context(), caller, chi.URLParam(r, "id"), locator)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

// --- multipart ---

// parseMultipart ограничивает размер тела и разбирает multipart-форму.
// Превышение лимита — 413, прочие ошибки разбора — 400.
func (h *APIHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", h.uploadMaxBytes))
			return nil, false
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return nil, false
	}
	return r.MultipartForm, true
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	// mime/multipart не везде оборачивает ошибку чтения через %w.
	return strings.Contains(err.Error(), "request body too large")
}

// formJSON декодирует JSON из текстового поля или файловой части формы.
// Возвращает false, если части с таким именем нет. Неизвестные поля отклоняются.
func formJSON(form *multipart.Form, name string, dst any) (bool, error) {
	var src io.Reader
	if vals := form.Value[name]; len(vals) > 0 {
		src = strings.NewReader(vals[0])
	} else if files := form.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return true, err
		}
		defer f.Close()
		src = f
	} else {
		return false, nil
	}
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	return true, dec.Decode(dst)
}

// existingLocators собирает локаторы сохраняемых документов.
// Каждое значение existing — объект {"locator": ...} или массив таких объектов.
func existingLocators(form *multipart.Form) ([]string, error) {
	var keep []string
	for _, raw := range form.Value["existing"] {
		raw = strings.TrimSpace(raw)
		var refs []documentRef
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &refs); err != nil {
				return nil, err
			}
		} else {
			var ref documentRef
			if err := json.Unmarshal([]byte(raw), &ref); err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		for _, ref := range refs {
			if ref.Locator == "" {
				return nil, errors.New("пустой locator")
			}
			keep = append(keep, ref.Locator)
		}
	}
	return keep, nil
}

// uploadsFrom сопоставляет файлы из части files с категориями по порядку.
func uploadsFrom(form *multipart.Form) []service.Upload {
	files := form.File["files"]
	categories := form.Value["category"]

	uploads := make([]service.Upload, 0, len(files))
	for i, fh := range files {
		var category string
		if i < len(categories) {
			category = categories[i]
		}
		uploads = append(uploads, service.Upload{
			Filename:    fh.Filename,
			Category:    category,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return uploads
}

func queryInt(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return v, nil
}
