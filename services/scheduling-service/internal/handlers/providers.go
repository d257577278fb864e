package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/storage"
)

// ProviderHandler serves availability and weekly templates.
type ProviderHandler struct {
	engine *availability.Engine
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewProviderHandler(engine *availability.Engine, store storage.Store, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{engine: engine, store: store, logger: logger, now: time.Now}
}

type slotItem struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type slotsResponse struct {
	ProviderID string     `json:"provider_id"`
	Date       string     `json:"date"`
	Slots      []slotItem `json:"slots"`
}

type putTemplateRequest struct {
	Days [7]model.DayTemplate `json:"days"`
}

func (h *ProviderHandler) Slots(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerID")
	q := r.URL.Query()

	date, err := time.Parse(time.DateOnly, q.Get("date"))
	if err != nil {
		writeError(w, r, h.logger, model.Validation(map[string]string{"date": "must be YYYY-MM-DD"}))
		return
	}
	var granularity time.Duration
	if raw := q.Get("granularity_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, model.Validation(map[string]string{"granularity_minutes": "must be a positive integer"}))
			return
		}
		granularity = time.Duration(n) * time.Minute
	}

	var slots []model.Slot
	if q.Get("available") == "true" {
		slots, err = h.engine.ComputeFreeSlots(r.Context(), providerID, date, granularity)
	} else {
		slots, err = h.engine.DaySlots(r.Context(), providerID, date, granularity)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{Start: s.Start, End: s.End, Available: s.Available})
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{ProviderID: providerID, Date: date.Format(time.DateOnly), Slots: items})
}

func (h *ProviderHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("providerID")
	if _, err := h.store.GetProvider(r.Context(), providerID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tpl, err := h.store.GetTemplate(r.Context(), providerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tpl)
}

// PutTemplate replaces all seven days at once.
func (h *ProviderHandler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFromContext(r.Context())
	providerID := r.PathValue("providerID")
	if !who.IsAdmin() && !who.OwnsProvider(providerID) {
		writeError(w, r, h.logger, model.Errorf(model.KindUnauthorized, "only the provider may change its template"))
		return
	}
	if _, err := h.store.GetProvider(r.Context(), providerID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req putTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tpl := model.WeeklyTemplate{ProviderID: providerID, Days: req.Days, UpdatedAt: h.now().UTC()}
	if err := tpl.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.store.PutTemplate(r.Context(), tpl); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("weekly template replaced", "provider_id", providerID, "actor", who.UserID)
	httpx.WriteJSON(w, http.StatusOK, tpl)
}
