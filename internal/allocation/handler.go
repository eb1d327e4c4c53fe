package allocation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// Handler exposes walk-in issuing over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("allocation: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Mount registers the walk-in route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/doctors/{doctorID}/walk-ins", h.IssueWalkIn)
}

// IssueWalkIn issues the next walk-in token.
// POST /doctors/{doctorID}/walk-ins
//
// An exhausted allotment answers 409 with force_book_available so the desk can
// confirm an overflow booking and resend with force_book set.
func (h *Handler) IssueWalkIn(w http.ResponseWriter, r *http.Request) {
	var req WalkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	req.DoctorID = chi.URLParam(r, "doctorID")

	walkIn, err := h.service.IssueWalkIn(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(walkIn)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, doctors.ErrDoctorNotFound):
		http.Error(w, `{"error": "doctor not found"}`, http.StatusNotFound)
	case errors.Is(err, ErrSlotUnavailable):
		http.Error(w, `{"error": "walk-in allotment exhausted", "force_book_available": true}`, http.StatusConflict)
	case errors.Is(err, ErrDoctorUnavailable):
		http.Error(w, `{"error": "doctor has no open session"}`, http.StatusUnprocessableEntity)
	case errors.Is(err, ErrReservationConflict):
		http.Error(w, `{"error": "slot contested, retry"}`, http.StatusConflict)
	default:
		h.logger.Error("walk-in request failed", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}
