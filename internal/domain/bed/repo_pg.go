package bed

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

type bedRepoPG struct{ conn queryable }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository {
	return &bedRepoPG{conn: pool}
}

const bedCols = `id, label, ward, status, created_at, updated_at`

func (r *bedRepoPG) scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	if err := row.Scan(&b.ID, &b.Label, &b.Ward, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	return &b, nil
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	err := r.conn.QueryRow(ctx, `
		INSERT INTO bed (id, label, ward, status) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		b.ID, b.Label, b.Ward, b.Status).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err, "bed_label_key") {
		return ErrDuplicateLabel
	}
	return err
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.scanBed(r.conn.QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
}

func (r *bedRepoPG) GetByLabel(ctx context.Context, label string) (*Bed, error) {
	return r.scanBed(r.conn.QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE label = $1`, label))
}

func (r *bedRepoPG) List(ctx context.Context, limit, offset int) ([]*Bed, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM bed`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+bedCols+` FROM bed ORDER BY label LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *bedRepoPG) ListByStatus(ctx context.Context, status Status) ([]*Bed, error) {
	return r.query(ctx, `SELECT `+bedCols+` FROM bed WHERE status = $1 ORDER BY label`, status)
}

func (r *bedRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Bed, error) {
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := r.scanBed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bedRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	raw := make([]string, len(from))
	for i, s := range from {
		raw[i] = string(s)
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE bed SET status = $2, updated_at = clock_timestamp()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
