package doctors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var doctorColumns = []string{
	"id", "clinic_id", "name", "average_consulting_time", "walk_in_allotment",
	"availability", "break_periods", "consultation_status", "updated_at",
}

func TestPostgresRepositoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	availability, _ := json.Marshal(testDoctor().Availability)
	breaks, _ := json.Marshal(map[string][]Interval{"19 October 2026": {{Start: at(11, 0), End: at(11, 30)}}})
	updated := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, clinic_id").WithArgs("doc-1").WillReturnRows(
		pgxmock.NewRows(doctorColumns).AddRow("doc-1", "clinic-1", "Dr. Rao", 5, 0, availability, breaks, "In", updated))

	repo := NewPostgresRepository(mock)
	doc, err := repo.Get(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, "Dr. Rao", doc.Name)
	assert.Equal(t, 5, doc.AverageConsultingTime)
	assert.Equal(t, StatusIn, doc.ConsultationStatus)
	require.Len(t, doc.Availability, 2)
	assert.Len(t, doc.BreakPeriods["19 October 2026"], 1)
	assert.True(t, doc.BreakPeriods["19 October 2026"][0].Start.Equal(at(11, 0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, clinic_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresRepository(mock).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestPostgresRepositoryList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, clinic_id").WillReturnRows(
		pgxmock.NewRows(doctorColumns).
			AddRow("doc-1", "clinic-1", "A", 5, 0, []byte(`[]`), []byte(`{}`), "In", now).
			AddRow("doc-2", "clinic-1", "B", 10, 3, []byte(`[]`), []byte(`{}`), "Out", now))

	docs, err := NewPostgresRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 3, docs[1].WalkInAllotment)
	assert.Equal(t, StatusOut, docs[1].ConsultationStatus)
}

func TestPostgresRepositoryUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO doctors").
		WithArgs("doc-1", "clinic-1", "Dr. Rao", 5, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), "In").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresRepository(mock).Upsert(context.Background(), testDoctor()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUpdateConsultationStatusIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	mock.ExpectExec("UPDATE doctors").WithArgs("doc-1", "In", "Out").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.UpdateConsultationStatus(context.Background(), "doc-1", StatusIn, StatusOut)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE doctors").WithArgs("doc-1", "In", "Out").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = repo.UpdateConsultationStatus(context.Background(), "doc-1", StatusIn, StatusOut)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.UpdateConsultationStatus(context.Background(), "doc-1", StatusIn, "Lunch")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryAddBreak(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)

	iv := Interval{Start: at(11, 0), End: at(11, 30)}
	mock.ExpectExec("UPDATE doctors").WithArgs("doc-1", "19 October 2026", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.AddBreak(context.Background(), "doc-1", "19 October 2026", iv))

	mock.ExpectExec("UPDATE doctors").WithArgs("ghost", "19 October 2026", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.AddBreak(context.Background(), "ghost", "19 October 2026", iv), ErrDoctorNotFound)

	assert.ErrorIs(t, repo.AddBreak(context.Background(), "doc-1", "19 October 2026", Interval{Start: iv.End, End: iv.Start}), ErrInvalidBreak)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewInMemoryRepository(*testDoctor())
	ctx := context.Background()

	doc, err := repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	doc.Name = "mutated"

	again, err := repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rao", again.Name)

	ok, err := repo.UpdateConsultationStatus(ctx, "doc-1", StatusOut, StatusIn)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateConsultationStatus(ctx, "doc-1", StatusIn, StatusOut)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.AddBreak(ctx, "doc-1", "19 October 2026", Interval{Start: at(11, 0), End: at(11, 30)}))
	doc, err = repo.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOut, doc.ConsultationStatus)
	assert.Len(t, doc.BreakPeriods["19 October 2026"], 1)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
