package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

type AppointmentHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *booking.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type createAppointmentRequest struct {
	ProviderID      string `json:"provider_id"`
	SubjectID       string `json:"subject_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Reason          string `json:"reason"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type listAppointmentsResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())

	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		writeError(w, r, h.logger, model.Validation(map[string]string{"start_time": "must be an RFC3339 timestamp"}))
		return
	}

	appt, err := h.svc.Book(r.Context(), who, booking.BookingRequest{
		ProviderID:      req.ProviderID,
		SubjectID:       req.SubjectID,
		StartTime:       start,
		DurationMinutes: req.DurationMinutes,
		Type:            model.AppointmentType(req.Type),
		Reason:          req.Reason,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())
	appt, err := h.svc.Get(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())
	q := r.URL.Query()

	f := storage.AppointmentFilter{
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		SubjectID:  strings.TrimSpace(q.Get("subject_id")),
	}
	fields := map[string]string{}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields["from"] = "must be an RFC3339 timestamp"
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields["to"] = "must be an RFC3339 timestamp"
		}
		f.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields["limit"] = "must be a positive integer"
		}
		f.Limit = n
	}
	if len(fields) > 0 {
		writeError(w, r, h.logger, model.Validation(fields))
		return
	}

	appts, err := h.svc.List(r.Context(), who, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	httpx.WriteJSON(w, http.StatusOK, listAppointmentsResponse{Appointments: appts})
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())

	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	appt, err := h.svc.Transition(r.Context(), who, r.PathValue("id"), model.AppointmentStatus(req.Status), req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}
