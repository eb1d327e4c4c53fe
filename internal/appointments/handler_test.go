package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/frontdesk-queue/internal/audit"
)

type stubHistory struct {
	events []audit.Event
	err    error
	filter audit.Filter
}

func (s *stubHistory) QueryEvents(_ context.Context, filter audit.Filter) ([]audit.Event, error) {
	s.filter = filter
	return s.events, s.err
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBookAndFetch(t *testing.T) {
	f := newServiceFixture(t)
	routes := NewHandler(f.svc, nil, nil).Routes()

	rec := doRequest(routes, http.MethodPost, "/", `{"doctor_id":"doc-1","patient_name":"Asha","date":"19 October 2026","session_index":0,"slot_index":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var booked Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booked))
	assert.Equal(t, "A2", booked.TokenNumber)

	rec = doRequest(routes, http.MethodGet, "/"+booked.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(routes, http.MethodPost, "/", `{"doctor_id":"doc-1","date":"19 October 2026","session_index":0,"slot_index":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerBookErrors(t *testing.T) {
	f := newServiceFixture(t)
	routes := NewHandler(f.svc, nil, nil).Routes()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
		{name: "missing date", body: `{"doctor_id":"doc-1"}`, want: http.StatusBadRequest},
		{name: "bad date", body: `{"doctor_id":"doc-1","date":"2026-10-19"}`, want: http.StatusBadRequest},
		{name: "unknown doctor", body: `{"doctor_id":"ghost","date":"19 October 2026"}`, want: http.StatusNotFound},
		{name: "slot out of range", body: `{"doctor_id":"doc-1","date":"19 October 2026","slot_index":99}`, want: http.StatusUnprocessableEntity},
		{name: "closed day", body: `{"doctor_id":"doc-1","date":"20 October 2026"}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(routes, http.MethodPost, "/", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerActions(t *testing.T) {
	f := newServiceFixture(t)
	routes := NewHandler(f.svc, nil, nil).Routes()
	appt := f.book(t, 0, 2)

	rec := doRequest(routes, http.MethodPost, "/"+appt.ID+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(routes, http.MethodPost, "/"+appt.ID+"/check-in", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(routes, http.MethodPost, "/"+appt.ID+"/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var started Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotNil(t, started.ConsultationStartedAt)

	rec = doRequest(routes, http.MethodPost, "/"+appt.ID+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(routes, http.MethodPost, "/"+appt.ID+"/teleport", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(routes, http.MethodPost, "/ghost/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerHistory(t *testing.T) {
	f := newServiceFixture(t)
	appt := f.book(t, 0, 2)
	history := &stubHistory{events: []audit.Event{{ID: "evt-1", EventType: audit.EventStatusTransition}}}
	routes := NewHandler(f.svc, history, nil).Routes()

	rec := doRequest(routes, http.MethodGet, "/"+appt.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	require.Len(t, trail, 1)
	assert.Equal(t, appt.ID, history.filter.AppointmentID)
	assert.Equal(t, "clinic-1", history.filter.ClinicID)

	history.err = errors.New("db down")
	history.events = nil
	rec = doRequest(routes, http.MethodGet, "/"+appt.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
