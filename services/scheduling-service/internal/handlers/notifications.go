package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/notify"
)

type NotificationHandler struct {
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

func NewNotificationHandler(dispatcher *notify.Dispatcher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher, logger: logger}
}

type listNotificationsResponse struct {
	Notifications []model.NotificationRecord `json:"notifications"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.dispatcher.List(r.Context(), who.UserID, r.URL.Query().Get("unread") == "true", limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []model.NotificationRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, listNotificationsResponse{Notifications: recs})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())
	rec, err := h.dispatcher.MarkRead(r.Context(), who.UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}
