package admission

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careflow/careflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type admissionRepoPG struct{ conn queryable }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository {
	return &admissionRepoPG{conn: pool}
}

const admissionCols = `id, patient_id, bed_id, status, created_at, updated_at`

func (r *admissionRepoPG) scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	if err := row.Scan(&a.ID, &a.PatientID, &a.BedID, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusAwaitingCleaning
	}
	err := r.conn.QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, bed_id, status) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.BedID, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "admission_active_patient_idx") {
		return ErrActiveExists
	}
	return err
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.scanAdmission(r.conn.QueryRow(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE id = $1`, id))
}

func (r *admissionRepoPG) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return r.scanAdmission(r.conn.QueryRow(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE patient_id = $1 AND status <> 'discharged'`, patientID))
}

func (r *admissionRepoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return r.scanAdmission(r.conn.QueryRow(ctx, `
		SELECT `+admissionCols+` FROM admission WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, patientID))
}

func (r *admissionRepoPG) List(ctx context.Context, limit, offset int) ([]*Admission, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM admission`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn.Query(ctx,
		`SELECT `+admissionCols+` FROM admission ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		a, err := r.scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *admissionRepoPG) LinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE admission SET bed_id = $2, status = 'assigned', updated_at = clock_timestamp()
		WHERE id = $1
		  AND (status = 'awaiting_cleaning' OR (status = 'assigned' AND bed_id = $2))`,
		id, bedID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *admissionRepoPG) UnlinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE admission SET bed_id = NULL, status = 'awaiting_cleaning', updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'assigned' AND bed_id = $2`,
		id, bedID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *admissionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	raw := make([]string, len(from))
	for i, s := range from {
		raw[i] = string(s)
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE admission SET status = $2, updated_at = clock_timestamp()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
