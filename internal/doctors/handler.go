package doctors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfman30/frontdesk-queue/internal/clock"
	"github.com/wolfman30/frontdesk-queue/internal/events"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// Handler provides staff endpoints for doctor status and breaks.
type Handler struct {
	repo      Repository
	publisher events.Publisher
	clock     clock.Clock
	logger    *logging.Logger
}

// NewHandler creates a doctors HTTP handler.
func NewHandler(repo Repository, publisher events.Publisher, clk clock.Clock, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("doctors: repository required")
	}
	if clk == nil {
		clk = clock.NewClinic(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, publisher: publisher, clock: clk, logger: logger}
}

// Mount registers doctor routes on r. Queue and walk-in routes share the
// /doctors/{doctorID} prefix, so the router mounts handlers side by side.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/doctors/{doctorID}", h.GetDoctor)
	r.Put("/doctors/{doctorID}/status", h.SetStatus)
	r.Post("/doctors/{doctorID}/breaks", h.AddBreak)
}

// GetDoctor returns the doctor with today's resolved session windows.
// GET /doctors/{doctorID}
func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	doc, err := h.repo.Get(r.Context(), doctorID)
	if err != nil {
		h.writeRepoError(w, doctorID, err)
		return
	}

	resp := struct {
		*Doctor
		Today []Window `json:"today_sessions"`
	}{Doctor: doc}
	if windows, err := Sessions(doc, h.clock.Now()); err == nil {
		resp.Today = windows
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode doctor", "doctor_id", doctorID, "error", err)
	}
}

// SetStatusRequest toggles the doctor In or Out.
type SetStatusRequest struct {
	Status ConsultationStatus `json:"status"`
}

// SetStatus is the manual In/Out toggle.
// PUT /doctors/{doctorID}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, `{"error": "status must be In or Out"}`, http.StatusBadRequest)
		return
	}

	doc, err := h.repo.Get(r.Context(), doctorID)
	if err != nil {
		h.writeRepoError(w, doctorID, err)
		return
	}

	if doc.ConsultationStatus != req.Status {
		ok, err := h.repo.UpdateConsultationStatus(r.Context(), doctorID, doc.ConsultationStatus, req.Status)
		if err != nil {
			h.writeRepoError(w, doctorID, err)
			return
		}
		if !ok {
			http.Error(w, `{"error": "doctor status changed concurrently, retry"}`, http.StatusConflict)
			return
		}
		h.publishStatusChange(r, doc, req.Status)
		h.logger.Info("doctor status set", "doctor_id", doctorID, "from", doc.ConsultationStatus, "to", req.Status)
		doc.ConsultationStatus = req.Status
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		h.logger.Error("failed to encode doctor", "doctor_id", doctorID, "error", err)
	}
}

// AddBreakRequest adds a break for a date. Date defaults to today; start and
// end are "HH:MM" in the clinic zone.
type AddBreakRequest struct {
	Date  string `json:"date,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// AddBreak records a break period.
// POST /doctors/{doctorID}/breaks
func (h *Handler) AddBreak(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")

	var req AddBreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	now := h.clock.Now()
	day := clock.StartOfDay(now)
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := clock.ParseDayKey(req.Date, now.Location())
		if err != nil {
			http.Error(w, `{"error": "date must look like 19 October 2026"}`, http.StatusBadRequest)
			return
		}
		day = parsed
	}
	start, err := clock.AtClock(day, req.Start)
	if err != nil {
		http.Error(w, `{"error": "start must be HH:MM"}`, http.StatusBadRequest)
		return
	}
	end, err := clock.AtClock(day, req.End)
	if err != nil {
		http.Error(w, `{"error": "end must be HH:MM"}`, http.StatusBadRequest)
		return
	}

	iv := Interval{Start: start, End: end}
	if err := h.repo.AddBreak(r.Context(), doctorID, clock.DayKey(day), iv); err != nil {
		h.writeRepoError(w, doctorID, err)
		return
	}
	h.logger.Info("doctor break added", "doctor_id", doctorID, "date", clock.DayKey(day), "start", req.Start, "end", req.End)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(iv)
}

func (h *Handler) publishStatusChange(r *http.Request, doc *Doctor, to ConsultationStatus) {
	if h.publisher == nil {
		return
	}
	evt := events.DoctorStatusChangedV1{
		EventID:   uuid.NewString(),
		ClinicID:  doc.ClinicID,
		DoctorID:  doc.ID,
		From:      string(doc.ConsultationStatus),
		To:        string(to),
		Source:    "staff",
		ChangedAt: h.clock.Now().UTC().Truncate(time.Second),
	}
	if err := h.publisher.Publish(r.Context(), doc.ClinicID, evt); err != nil {
		h.logger.Warn("failed to publish doctor status event", "doctor_id", doc.ID, "error", err)
	}
}

func (h *Handler) writeRepoError(w http.ResponseWriter, doctorID string, err error) {
	switch {
	case errors.Is(err, ErrDoctorNotFound):
		http.Error(w, `{"error": "doctor not found"}`, http.StatusNotFound)
	case errors.Is(err, ErrInvalidBreak):
		http.Error(w, `{"error": "break end must be after start"}`, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidStatus):
		http.Error(w, `{"error": "status must be In or Out"}`, http.StatusBadRequest)
	default:
		h.logger.Error("doctor repository failure", "doctor_id", doctorID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}
