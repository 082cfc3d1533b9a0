// notifications.go — лента уведомлений компании и недельная сводка.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/laborflow/internal/api/errors"
	"github.com/bigkaa/laborflow/internal/service"
)

// ListNotifications — GET /api/v1/notifications.
func (h *APIHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	items, err := h.notifications.List(r.Context(), caller)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}

	resp := notificationListResponse{Items: make([]notificationResponse, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, toNotificationResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

// MarkAllNotificationsRead — POST /api/v1/notifications/read-all.
func (h *APIHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	marked, err := h.notifications.MarkAllRead(r.Context(), caller)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, markAllReadResponse{Marked: marked})
}

// WeeklySummary — GET /api/v1/notifications/summary.
func (h *APIHandler) WeeklySummary(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	since := service.SummarySince(time.Now())
	buckets, err := h.notifications.WeeklySummary(r.Context(), caller.TenantID)
	if err != nil {
		apierrors.FromService(w, h.logger, err)
		return
	}

	resp := weeklySummaryResponse{
		Since:   since,
		Buckets: make([]summaryBucketResponse, 0, len(buckets)),
	}
	for _, b := range buckets {
		resp.Buckets = append(resp.Buckets, summaryBucketResponse{
			ISODayOfWeek: b.ISODayOfWeek,
			Category:     string(b.Category),
			Label:        b.Category.Label(),
			Count:        b.Count,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
