// settings.go — настройки компании (приватность паспортных данных).
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/laborflow/internal/api/errors"
)

// GetSettings — GET /api/v1/settings.
func (h *APIHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	settings, err := h.settings.Get(r.Context(), caller.TenantID)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// UpdateSettings — PUT /api/v1/settings. Доступно admin и super_admin.
func (h *APIHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req settingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.IsPassportPrivate == nil {
		apierrors.ValidationError(w, "Поле is_passport_private обязательно")
		return
	}

	settings, err := h.settings.Update(r.Context(), caller, *req.IsPassportPrivate)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}
