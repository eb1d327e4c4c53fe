package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/frontdesk-queue/internal/doctors"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

const (
	defaultStreamInterval = 15 * time.Second
	writeWait             = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves queue snapshots over HTTP and a websocket feed.
type Handler struct {
	service  *Service
	interval time.Duration
	logger   *logging.Logger
}

// NewHandler creates a queue handler. interval paces the websocket feed.
func NewHandler(service *Service, interval time.Duration, logger *logging.Logger) *Handler {
	if service == nil {
		panic("queue: service required")
	}
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, interval: interval, logger: logger}
}

// Mount registers the queue routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/doctors/{doctorID}/queue", h.GetQueue)
	r.Get("/doctors/{doctorID}/queue/stream", h.Stream)
}

// GetQueue returns one snapshot.
// GET /doctors/{doctorID}/queue?date=&session=&viewer=&frozen=
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, `{"error": "session must be a non-negative integer"}`, http.StatusBadRequest)
		return
	}
	state, err := h.service.Snapshot(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

// Stream pushes the viewer's snapshot every interval, or immediately when the
// client sends {"action":"refresh"}. The viewer's frozen set is kept for the
// life of the connection.
// GET /doctors/{doctorID}/queue/stream?viewer=
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, `{"error": "session must be a non-negative integer"}`, http.StatusBadRequest)
		return
	}
	state, err := h.service.Snapshot(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("queue stream upgrade failed", "doctor_id", req.DoctorID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	refresh := make(chan struct{}, 1)
	go readPump(conn, cancel, refresh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		holdView(&req, state)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(state); err != nil {
			h.logger.Debug("queue stream closed", "doctor_id", req.DoctorID, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-refresh:
		}
		state, err = h.service.Snapshot(ctx, req)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			return
		}
	}
}

type clientMessage struct {
	Action string `json:"action"`
}

func readPump(conn *websocket.Conn, cancel context.CancelFunc, refresh chan<- struct{}) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == "refresh" {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}
}

// holdView freezes the connection's viewer the first time the snapshot
// reports them in the buffer.
func holdView(req *Request, state State) {
	if req.Viewer == nil || req.Viewer.Frozen || state.FrozenAhead == nil {
		return
	}
	req.Viewer.Frozen = true
	req.Viewer.FrozenAhead = state.FrozenAhead
}

func parseRequest(r *http.Request) (Request, error) {
	q := r.URL.Query()
	req := Request{
		DoctorID: chi.URLParam(r, "doctorID"),
		Date:     strings.TrimSpace(q.Get("date")),
	}
	if raw := strings.TrimSpace(q.Get("session")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return Request{}, errors.New("invalid session")
		}
		req.SessionIndex = &idx
	}
	if id := strings.TrimSpace(q.Get("viewer")); id != "" {
		req.Viewer = &Viewer{AppointmentID: id}
		if q.Has("frozen") {
			req.Viewer.Frozen = true
			req.Viewer.FrozenAhead = []string{}
			for _, v := range strings.Split(q.Get("frozen"), ",") {
				if v = strings.TrimSpace(v); v != "" {
					req.Viewer.FrozenAhead = append(req.Viewer.FrozenAhead, v)
				}
			}
		}
	}
	return req, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, doctors.ErrDoctorNotFound):
		http.Error(w, `{"error": "doctor not found"}`, http.StatusNotFound)
	case errors.Is(err, ErrInvalidDate):
		http.Error(w, `{"error": "date must look like 19 October 2026"}`, http.StatusBadRequest)
	default:
		h.logger.Error("queue request failed", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}
