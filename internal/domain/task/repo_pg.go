package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

type taskRepoPG struct{ conn queryable }

func NewTaskRepoPG(pool *pgxpool.Pool) TaskRepository {
	return &taskRepoPG{conn: pool}
}

const taskCols = `id, seq, type, agent_role, patient_id, bed_id, status, dedupe_key, successor, created_at, completed_at`

func (r *taskRepoPG) scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var successor []byte
	if err := row.Scan(&t.ID, &t.Seq, &t.Type, &t.AgentRole, &t.PatientID, &t.BedID,
		&t.Status, &t.DedupeKey, &successor, &t.CreatedAt, &t.CompletedAt); err != nil {
		return nil, db.NotFound(err)
	}
	if len(successor) > 0 {
		t.Successor = &Successor{}
		if err := json.Unmarshal(successor, t.Successor); err != nil {
			return nil, fmt.Errorf("decode successor of task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = StatusPending
	}
	err := r.conn.QueryRow(ctx, `
		INSERT INTO task (id, type, agent_role, patient_id, bed_id, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING seq, created_at`,
		t.ID, t.Type, t.AgentRole, t.PatientID, t.BedID, t.Status, t.DedupeKey,
	).Scan(&t.Seq, &t.CreatedAt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// ON CONFLICT DO NOTHING returns no row.
		return ErrDuplicate
	case db.IsUniqueViolation(err, "task_pending_bed_idx"):
		return ErrBedBusy
	}
	return err
}

func (r *taskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return r.scanTask(r.conn.QueryRow(ctx, `SELECT `+taskCols+` FROM task WHERE id = $1`, id))
}

func (r *taskRepoPG) GetByDedupeKey(ctx context.Context, key string) (*Task, error) {
	return r.scanTask(r.conn.QueryRow(ctx, `SELECT `+taskCols+` FROM task WHERE dedupe_key = $1`, key))
}

func (r *taskRepoPG) ListPending(ctx context.Context, role Role) ([]*Task, error) {
	return r.query(ctx, `
		SELECT `+taskCols+` FROM task
		WHERE agent_role = $1 AND status = 'pending'
		ORDER BY created_at, seq`, role)
}

func (r *taskRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Role != "" {
		add("agent_role = $%d", f.Role)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.BedID != nil {
		add("bed_id = $%d", *f.BedID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM task`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	items, err := r.query(ctx, fmt.Sprintf(`SELECT `+taskCols+` FROM task`+clause+
		` ORDER BY created_at, seq LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	return items, total, err
}

func (r *taskRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Task, error) {
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *taskRepoPG) Complete(ctx context.Context, id uuid.UUID, successor *Successor) (bool, error) {
	var raw []byte
	if successor != nil {
		var err error
		if raw, err = json.Marshal(successor); err != nil {
			return false, err
		}
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE task SET status = 'completed', successor = $2::jsonb, completed_at = clock_timestamp()
		WHERE id = $1 AND status = 'pending'`,
		id, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
