package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/model"
	"github.com/erazemk/svezina/internal/store"
	"github.com/erazemk/svezina/internal/tracker"
)

// AlertsHandler exposes scheduled alerts and the notification inbox.
type AlertsHandler struct {
	DB      *sql.DB
	Queue   *jobs.Queue
	Tracker *tracker.Service
}

// Pending handles GET /api/alerts.
func (h *AlertsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Queue.Pending(r.Context())
	if err != nil {
		slog.Error("listing pending alerts", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if pending == nil {
		pending = []jobs.Job{}
	}
	jsonResponse(w, http.StatusOK, pending)
}

// Notifications handles GET /api/notifications?unread=true.
func (h *AlertsHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	list, err := store.ListNotifications(r.Context(), h.DB, unread)
	if err != nil {
		slog.Error("listing notifications", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	jsonResponse(w, http.StatusOK, list)
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *AlertsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	found, err := store.MarkNotificationRead(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("marking notification read", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	if !found {
		jsonError(w, http.StatusNotFound, "notification not found")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "notification read"})
}

// Clear handles POST /api/admin/clear.
func (h *AlertsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.ClearAll(r.Context()); err != nil {
		slog.Error("clearing data", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to clear data")
		return
	}
	slog.Warn("data cleared", "by", GetClaims(r.Context()).Email)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "all items cleared"})
}
