package doctors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores doctors in the relational database. Availability
// and breaks are JSONB columns.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("doctors: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

const selectDoctorColumns = `
	SELECT id, clinic_id, name, average_consulting_time, walk_in_allotment,
	       availability, break_periods, consultation_status, updated_at
	FROM doctors
`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	row := r.db.QueryRow(ctx, selectDoctorColumns+` WHERE id = $1`, id)
	d, err := scanDoctor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("doctors: select failed: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, selectDoctorColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("doctors: list failed: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("doctors: scan failed: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Upsert(ctx context.Context, d *Doctor) error {
	if d == nil {
		return nil
	}
	availability, err := json.Marshal(d.Availability)
	if err != nil {
		return fmt.Errorf("doctors: marshal availability: %w", err)
	}
	breaks := d.BreakPeriods
	if breaks == nil {
		breaks = map[string][]Interval{}
	}
	breakJSON, err := json.Marshal(breaks)
	if err != nil {
		return fmt.Errorf("doctors: marshal breaks: %w", err)
	}
	status := d.ConsultationStatus
	if !status.Valid() {
		status = StatusOut
	}

	query := `
		INSERT INTO doctors (id, clinic_id, name, average_consulting_time, walk_in_allotment,
		                     availability, break_periods, consultation_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			clinic_id = EXCLUDED.clinic_id,
			name = EXCLUDED.name,
			average_consulting_time = EXCLUDED.average_consulting_time,
			walk_in_allotment = EXCLUDED.walk_in_allotment,
			availability = EXCLUDED.availability,
			break_periods = EXCLUDED.break_periods,
			consultation_status = EXCLUDED.consultation_status,
			updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query,
		d.ID,
		d.ClinicID,
		d.Name,
		d.AverageConsultingTime,
		d.WalkInAllotment,
		availability,
		breakJSON,
		string(status),
	); err != nil {
		return fmt.Errorf("doctors: upsert failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateConsultationStatus(ctx context.Context, id string, from, to ConsultationStatus) (bool, error) {
	if !to.Valid() {
		return false, ErrInvalidStatus
	}
	query := `
		UPDATE doctors
		SET consultation_status = $3, updated_at = now()
		WHERE id = $1 AND consultation_status = $2
	`
	ct, err := r.db.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("doctors: update status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// AddBreak appends iv to the day's break list in a single statement.
func (r *PostgresRepository) AddBreak(ctx context.Context, id string, dayKey string, iv Interval) error {
	if !iv.End.After(iv.Start) {
		return ErrInvalidBreak
	}
	payload, err := json.Marshal([]Interval{iv})
	if err != nil {
		return fmt.Errorf("doctors: marshal break: %w", err)
	}
	query := `
		UPDATE doctors
		SET break_periods = jsonb_set(
				break_periods,
				ARRAY[$2::text],
				COALESCE(break_periods -> $2::text, '[]'::jsonb) || $3::jsonb,
				true),
			updated_at = now()
		WHERE id = $1
	`
	ct, err := r.db.Exec(ctx, query, id, dayKey, payload)
	if err != nil {
		return fmt.Errorf("doctors: add break: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		d            Doctor
		availability []byte
		breaks       []byte
		status       string
		updatedAt    time.Time
	)
	if err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&d.AverageConsultingTime,
		&d.WalkInAllotment,
		&availability,
		&breaks,
		&status,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &d.Availability); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
	}
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &d.BreakPeriods); err != nil {
			return nil, fmt.Errorf("decode breaks: %w", err)
		}
	}
	d.ConsultationStatus = ConsultationStatus(status)
	d.UpdatedAt = updatedAt
	return &d, nil
}
