// Package sqlite is an Entity Store backed by an embedded SQLite database
// for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/db"
)

//go:embed schema.sql
var schema string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and if needed creates) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "careflow.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps conditional updates serialized.
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: conn, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Patients() patient.PatientRepository       { return patientRepo{s} }
func (s *Store) Beds() bed.BedRepository                   { return bedRepo{s} }
func (s *Store) Admissions() admission.AdmissionRepository { return admissionRepo{s} }
func (s *Store) Tasks() task.TaskRepository                { return taskRepo{s} }

func (s *Store) stamp() int64 { return s.now().UTC().UnixNano() }

func fromStamp(v int64) time.Time { return time.Unix(0, v).UTC() }

// nextSeq is evaluated inside the INSERT so allocation and insert are one
// statement.
func nextSeq(table string) string {
	return `(SELECT COALESCE(MAX(seq), 0) + 1 FROM ` + table + `)`
}

func uniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs[S ~string](id uuid.UUID, to S, from []S) []any {
	args := []any{string(to), id.String()}
	for _, f := range from {
		args = append(args, string(f))
	}
	return args
}

func (s *Store) updateStatus(ctx context.Context, table string, args []any, nfrom int) (bool, error) {
	if nfrom == 0 {
		return false, nil
	}
	args = append([]any{args[0], s.stamp()}, args[1:]...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders(nfrom)+`)`,
		args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&total)
	return total, err
}

// -- patients --

type patientRepo struct{ s *Store }

const patientCols = `id, name, status, created_at, updated_at`

func scanPatient(row interface{ Scan(...any) error }) (*patient.Patient, error) {
	var p patient.Patient
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &created, &updated); err != nil {
		return nil, db.NotFound(err)
	}
	p.CreatedAt, p.UpdatedAt = fromStamp(created), fromStamp(updated)
	return &p, nil
}

func (r patientRepo) Create(ctx context.Context, p *patient.Patient) error {
	now := r.s.stamp()
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = patient.StatusPendingBed
	}
	if _, err := r.s.db.ExecContext(ctx,
		`INSERT INTO patient (id, seq, name, status, created_at, updated_at) VALUES (?, `+nextSeq("patient")+`, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, string(p.Status), now, now); err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = fromStamp(now), fromStamp(now)
	return nil
}

func (r patientRepo) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	return scanPatient(r.s.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patient WHERE id = ?`, id.String()))
}

func (r patientRepo) List(ctx context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	total, err := r.s.count(ctx, "patient")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()
	var items []*patient.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r patientRepo) UpdateStatus(ctx context.Context, id uuid.UUID, to patient.Status, from ...patient.Status) (bool, error) {
	return r.s.updateStatus(ctx, "patient", statusArgs(id, to, from), len(from))
}

// -- beds --

type bedRepo struct{ s *Store }

const bedCols = `id, label, ward, status, created_at, updated_at`

func scanBed(row interface{ Scan(...any) error }) (*bed.Bed, error) {
	var b bed.Bed
	var created, updated int64
	if err := row.Scan(&b.ID, &b.Label, &b.Ward, &b.Status, &created, &updated); err != nil {
		return nil, db.NotFound(err)
	}
	b.CreatedAt, b.UpdatedAt = fromStamp(created), fromStamp(updated)
	return &b, nil
}

func (r bedRepo) Create(ctx context.Context, b *bed.Bed) error {
	now := r.s.stamp()
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = bed.StatusAvailable
	}
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO bed (id, label, ward, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Label, b.Ward, string(b.Status), now, now)
	if uniqueViolation(err, "bed.label") {
		return bed.ErrDuplicateLabel
	}
	if err != nil {
		return err
	}
	b.CreatedAt, b.UpdatedAt = fromStamp(now), fromStamp(now)
	return nil
}

func (r bedRepo) GetByID(ctx context.Context, id uuid.UUID) (*bed.Bed, error) {
	return scanBed(r.s.db.QueryRowContext(ctx, `SELECT `+bedCols+` FROM bed WHERE id = ?`, id.String()))
}

func (r bedRepo) GetByLabel(ctx context.Context, label string) (*bed.Bed, error) {
	return scanBed(r.s.db.QueryRowContext(ctx, `SELECT `+bedCols+` FROM bed WHERE label = ?`, label))
}

func (r bedRepo) query(ctx context.Context, q string, args ...any) ([]*bed.Bed, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []*bed.Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r bedRepo) List(ctx context.Context, limit, offset int) ([]*bed.Bed, int, error) {
	total, err := r.s.count(ctx, "bed")
	if err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+bedCols+` FROM bed ORDER BY label LIMIT ? OFFSET ?`, limit, offset)
	return items, total, err
}

func (r bedRepo) ListByStatus(ctx context.Context, status bed.Status) ([]*bed.Bed, error) {
	return r.query(ctx, `SELECT `+bedCols+` FROM bed WHERE status = ? ORDER BY label`, string(status))
}

func (r bedRepo) UpdateStatus(ctx context.Context, id uuid.UUID, to bed.Status, from ...bed.Status) (bool, error) {
	return r.s.updateStatus(ctx, "bed", statusArgs(id, to, from), len(from))
}

// -- admissions --

type admissionRepo struct{ s *Store }

const admissionCols = `id, patient_id, bed_id, status, created_at, updated_at`

func scanAdmission(row interface{ Scan(...any) error }) (*admission.Admission, error) {
	var a admission.Admission
	var bedID sql.NullString
	var created, updated int64
	if err := row.Scan(&a.ID, &a.PatientID, &bedID, &a.Status, &created, &updated); err != nil {
		return nil, db.NotFound(err)
	}
	if bedID.Valid {
		id, err := uuid.Parse(bedID.String)
		if err != nil {
			return nil, fmt.Errorf("admission %s bed_id: %w", a.ID, err)
		}
		a.BedID = &id
	}
	a.CreatedAt, a.UpdatedAt = fromStamp(created), fromStamp(updated)
	return &a, nil
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func (r admissionRepo) Create(ctx context.Context, a *admission.Admission) error {
	now := r.s.stamp()
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = admission.StatusAwaitingCleaning
	}
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO admission (id, seq, patient_id, bed_id, status, created_at, updated_at)
		VALUES (?, `+nextSeq("admission")+`, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.PatientID.String(), nullableID(a.BedID), string(a.Status), now, now)
	if uniqueViolation(err, "admission.patient_id") {
		return admission.ErrActiveExists
	}
	if err != nil {
		return err
	}
	a.CreatedAt, a.UpdatedAt = fromStamp(now), fromStamp(now)
	return nil
}

func (r admissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*admission.Admission, error) {
	return scanAdmission(r.s.db.QueryRowContext(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE id = ?`, id.String()))
}

func (r admissionRepo) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*admission.Admission, error) {
	return scanAdmission(r.s.db.QueryRowContext(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE patient_id = ? AND status <> 'discharged'`,
		patientID.String()))
}

func (r admissionRepo) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*admission.Admission, error) {
	return scanAdmission(r.s.db.QueryRowContext(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE patient_id = ? ORDER BY seq DESC LIMIT 1`,
		patientID.String()))
}

func (r admissionRepo) List(ctx context.Context, limit, offset int) ([]*admission.Admission, int, error) {
	total, err := r.s.count(ctx, "admission")
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+admissionCols+` FROM admission ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()
	var items []*admission.Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r admissionRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r admissionRepo) LinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error) {
	return r.exec(ctx, `
		UPDATE admission SET bed_id = ?, status = 'assigned', updated_at = ?
		WHERE id = ? AND (status = 'awaiting_cleaning' OR (status = 'assigned' AND bed_id = ?))`,
		bedID.String(), r.s.stamp(), id.String(), bedID.String())
}

func (r admissionRepo) UnlinkBed(ctx context.Context, id, bedID uuid.UUID) (bool, error) {
	return r.exec(ctx, `
		UPDATE admission SET bed_id = NULL, status = 'awaiting_cleaning', updated_at = ?
		WHERE id = ? AND status = 'assigned' AND bed_id = ?`,
		r.s.stamp(), id.String(), bedID.String())
}

func (r admissionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, to admission.Status, from ...admission.Status) (bool, error) {
	return r.s.updateStatus(ctx, "admission", statusArgs(id, to, from), len(from))
}

// -- tasks --

type taskRepo struct{ s *Store }

const taskCols = `id, seq, type, agent_role, patient_id, bed_id, status, dedupe_key, successor, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var t task.Task
	var bedID, dedupe, successor sql.NullString
	var created int64
	var completed sql.NullInt64
	if err := row.Scan(&t.ID, &t.Seq, &t.Type, &t.AgentRole, &t.PatientID, &bedID,
		&t.Status, &dedupe, &successor, &created, &completed); err != nil {
		return nil, db.NotFound(err)
	}
	if bedID.Valid {
		id, err := uuid.Parse(bedID.String)
		if err != nil {
			return nil, fmt.Errorf("task %s bed_id: %w", t.ID, err)
		}
		t.BedID = &id
	}
	if dedupe.Valid {
		t.DedupeKey = &dedupe.String
	}
	if successor.Valid {
		t.Successor = &task.Successor{}
		if err := json.Unmarshal([]byte(successor.String), t.Successor); err != nil {
			return nil, fmt.Errorf("decode successor of task %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = fromStamp(created)
	if completed.Valid {
		at := fromStamp(completed.Int64)
		t.CompletedAt = &at
	}
	return &t, nil
}

func (r taskRepo) Create(ctx context.Context, t *task.Task) error {
	now := r.s.stamp()
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	var dedupe any
	if t.DedupeKey != nil {
		dedupe = *t.DedupeKey
	}
	var seq int64
	err := r.s.db.QueryRowContext(ctx, `
		INSERT INTO task (id, seq, type, agent_role, patient_id, bed_id, status, dedupe_key, created_at)
		VALUES (?, `+nextSeq("task")+`, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING seq`,
		t.ID.String(), string(t.Type), string(t.AgentRole), t.PatientID.String(),
		nullableID(t.BedID), string(t.Status), dedupe, now).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return task.ErrDuplicate
	case uniqueViolation(err, "task.bed_id"):
		return task.ErrBedBusy
	case err != nil:
		return err
	}
	t.Seq = seq
	t.CreatedAt = fromStamp(now)
	return nil
}

func (r taskRepo) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return scanTask(r.s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM task WHERE id = ?`, id.String()))
}

func (r taskRepo) GetByDedupeKey(ctx context.Context, key string) (*task.Task, error) {
	return scanTask(r.s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM task WHERE dedupe_key = ?`, key))
}

func (r taskRepo) query(ctx context.Context, q string, args ...any) ([]*task.Task, error) {
	rows, err := r.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r taskRepo) ListPending(ctx context.Context, role task.Role) ([]*task.Task, error) {
	return r.query(ctx, `SELECT `+taskCols+` FROM task WHERE agent_role = ? AND status = 'pending' ORDER BY seq`,
		string(role))
}

func (r taskRepo) List(ctx context.Context, f task.ListFilter, limit, offset int) ([]*task.Task, int, error) {
	var where []string
	var args []any
	if f.Role != "" {
		where, args = append(where, "agent_role = ?"), append(args, string(f.Role))
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if f.PatientID != nil {
		where, args = append(where, "patient_id = ?"), append(args, f.PatientID.String())
	}
	if f.BedID != nil {
		where, args = append(where, "bed_id = ?"), append(args, f.BedID.String())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+taskCols+` FROM task`+clause+` ORDER BY seq LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	return items, total, err
}

func (r taskRepo) Complete(ctx context.Context, id uuid.UUID, successor *task.Successor) (bool, error) {
	var raw any
	if successor != nil {
		b, err := json.Marshal(successor)
		if err != nil {
			return false, err
		}
		raw = string(b)
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE task SET status = 'completed', successor = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'`,
		raw, r.s.stamp(), id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
