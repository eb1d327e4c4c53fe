package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/frontdesk-queue/internal/audit"
	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// HistoryReader reads the audit trail for an appointment.
type HistoryReader interface {
	QueryEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// Handler exposes booking and staff actions over HTTP.
type Handler struct {
	service *Service
	history HistoryReader
	logger  *logging.Logger
}

// NewHandler creates an appointments HTTP handler. history may be nil.
func NewHandler(service *Service, history HistoryReader, logger *logging.Logger) *Handler {
	if service == nil {
		panic("appointments: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, history: history, logger: logger}
}

// Routes returns a chi router mounted at /appointments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Book)
	r.Get("/{appointmentID}", h.Get)
	r.Get("/{appointmentID}/history", h.History)
	r.Post("/{appointmentID}/{action}", h.Act)
	return r
}

// Book pre-books a slot.
// POST /appointments
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.DoctorID == "" || req.Date == "" {
		http.Error(w, `{"error": "doctor_id and date required"}`, http.StatusBadRequest)
		return
	}
	appt, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Get returns one appointment.
// GET /appointments/{appointmentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.Store().Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// History returns the appointment's audit trail.
// GET /appointments/{appointmentID}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.Store().Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var trail []audit.Event
	if h.history != nil {
		trail, err = h.history.QueryEvents(r.Context(), audit.Filter{
			ClinicID:      appt.ClinicID,
			AppointmentID: appt.ID,
			Limit:         100,
		})
		if err != nil {
			h.logger.Warn("audit history unavailable", "appointment_id", appt.ID, "error", err)
		}
	}
	if trail == nil {
		trail = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, trail)
}

// Act applies a staff action: check-in, arrive, start, complete or cancel.
// POST /appointments/{appointmentID}/{action}
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	var (
		appt *Appointment
		err  error
	)
	switch chi.URLParam(r, "action") {
	case "check-in":
		appt, err = h.service.CheckIn(r.Context(), id)
	case "arrive":
		appt, err = h.service.Arrive(r.Context(), id)
	case "start":
		appt, err = h.service.StartConsultation(r.Context(), id)
	case "complete":
		appt, err = h.service.Complete(r.Context(), id)
	case "cancel":
		appt, err = h.service.Cancel(r.Context(), id)
	default:
		http.Error(w, `{"error": "unknown action"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, doctors.ErrDoctorNotFound):
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, `{"error": "invalid status transition"}`, http.StatusConflict)
	case errors.Is(err, ErrConflict):
		http.Error(w, `{"error": "appointment changed concurrently, retry"}`, http.StatusConflict)
	case errors.Is(err, ErrSlotTaken):
		http.Error(w, `{"error": "slot already booked"}`, http.StatusConflict)
	case errors.Is(err, ErrConsultationInProgress):
		http.Error(w, `{"error": "doctor already has a consultation in progress"}`, http.StatusConflict)
	case errors.Is(err, ErrInvalidDate):
		http.Error(w, `{"error": "date must look like 19 October 2026"}`, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidSlot), errors.Is(err, doctors.ErrSessionIndex), errors.Is(err, doctors.ErrNoSessions):
		http.Error(w, `{"error": "requested slot is not available on that day"}`, http.StatusUnprocessableEntity)
	default:
		h.logger.Error("appointment request failed", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
