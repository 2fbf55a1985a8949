package workflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/careflow/careflow/internal/domain/admission"
	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
)

// mutation is one conditional write. apply reports false when the guard
// no longer holds. undo is nil for writes that must not be reverted, or
// that were already in place before this attempt.
type mutation struct {
	name     string
	apply    func(ctx context.Context, s Store) (bool, error)
	undo     func(ctx context.Context, s Store) (bool, error)
	conflict func(ctx context.Context, s Store) error
}

// setBed moves b to `to`. The write compares against the status b was
// loaded with, so a completion working from a stale read conflicts instead
// of claiming (and later undoing) another completion's write. A bed loaded
// at `to` is only re-asserted, which keeps a retry idempotent.
func setBed(b *bed.Bed, to bed.Status, from ...bed.Status) mutation {
	id, prev := b.ID, b.Status
	moves := prev != to && slices.Contains(from, prev)
	expect := from
	if moves || prev == to {
		expect = []bed.Status{prev}
	}
	m := mutation{
		name: fmt.Sprintf("bed %s -> %s", id, to),
		apply: func(ctx context.Context, s Store) (bool, error) {
			return s.Beds().UpdateStatus(ctx, id, to, expect...)
		},
		conflict: func(ctx context.Context, s Store) error {
			cur, err := s.Beds().GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload bed %s: %w", id, err)
			}
			return invalidState("bed", id, cur.Status, expect...)
		},
	}
	if moves {
		m.undo = func(ctx context.Context, s Store) (bool, error) {
			return s.Beds().UpdateStatus(ctx, id, prev, to)
		}
	}
	return m
}

// claimBed takes an available bed. Unlike setBed the target is not
// accepted, so of two concurrent claims on one bed only one applies.
func claimBed(b *bed.Bed) mutation {
	id := b.ID
	return mutation{
		name: fmt.Sprintf("bed %s -> %s", id, bed.StatusPendingCleaning),
		apply: func(ctx context.Context, s Store) (bool, error) {
			return s.Beds().UpdateStatus(ctx, id, bed.StatusPendingCleaning, bed.StatusAvailable)
		},
		undo: func(ctx context.Context, s Store) (bool, error) {
			return s.Beds().UpdateStatus(ctx, id, bed.StatusAvailable, bed.StatusPendingCleaning)
		},
		conflict: func(ctx context.Context, s Store) error {
			cur, err := s.Beds().GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload bed %s: %w", id, err)
			}
			return invalidState("bed", id, cur.Status, bed.StatusAvailable)
		},
	}
}

// setPatient moves p forward to `to`. Patient writes are never undone.
func setPatient(p *patient.Patient, to patient.Status, from ...patient.Status) mutation {
	id := p.ID
	from = append(append(from[:0:0], from...), to)
	return mutation{
		name: fmt.Sprintf("patient %s -> %s", id, to),
		apply: func(ctx context.Context, s Store) (bool, error) {
			return s.Patients().UpdateStatus(ctx, id, to, from...)
		},
		conflict: func(ctx context.Context, s Store) error {
			cur, err := s.Patients().GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload patient %s: %w", id, err)
			}
			return invalidState("patient", id, cur.Status, from...)
		},
	}
}

// linkAdmission records bedID on a and marks it assigned.
func linkAdmission(a *admission.Admission, bedID uuid.UUID) mutation {
	id, fresh := a.ID, !a.HasBed(bedID)
	m := mutation{
		name: fmt.Sprintf("admission %s -> assigned (bed %s)", id, bedID),
		apply: func(ctx context.Context, s Store) (bool, error) {
			return s.Admissions().LinkBed(ctx, id, bedID)
		},
		conflict: func(ctx context.Context, s Store) error {
			cur, err := s.Admissions().GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload admission %s: %w", id, err)
			}
			e := invalidState("admission", id, cur.Status, admission.StatusAwaitingCleaning)
			if cur.BedID != nil {
				e.Msg = fmt.Sprintf("already linked to bed %s", cur.BedID)
			}
			return e
		},
	}
	if fresh {
		m.undo = func(ctx context.Context, s Store) (bool, error) {
			return s.Admissions().UnlinkBed(ctx, id, bedID)
		}
	}
	return m
}

// closeAdmission ends the episode, comparing against the loaded status the
// same way setBed does.
func closeAdmission(a *admission.Admission) mutation {
	id, prev := a.ID, a.Status
	moves := prev == admission.StatusAssigned
	expect := []admission.Status{admission.StatusAssigned}
	if moves || prev == admission.StatusDischarged {
		expect = []admission.Status{prev}
	}
	m := mutation{
		name: fmt.Sprintf("admission %s -> discharged", id),
		apply: func(ctx context.Context, s Store) (bool, error) {
			return s.Admissions().UpdateStatus(ctx, id, admission.StatusDischarged, expect...)
		},
		conflict: func(ctx context.Context, s Store) error {
			cur, err := s.Admissions().GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload admission %s: %w", id, err)
			}
			return invalidState("admission", id, cur.Status, expect...)
		},
	}
	if moves {
		m.undo = func(ctx context.Context, s Store) (bool, error) {
			return s.Admissions().UpdateStatus(ctx, id, prev, admission.StatusDischarged)
		}
	}
	return m
}

// run applies muts in order. On failure the reversible writes already made
// are undone newest first. If anything stays committed the failure becomes
// a PartialFailure naming those writes.
func run(ctx context.Context, s Store, muts []mutation) ([]string, error) {
	done := make([]mutation, 0, len(muts))
	for _, m := range muts {
		ok, err := m.apply(ctx, s)
		if err == nil && !ok {
			err = m.conflict(ctx, s)
		} else if err != nil {
			err = fmt.Errorf("%s: %w", m.name, err)
		}
		if err != nil {
			return nil, compensate(ctx, s, done, err)
		}
		done = append(done, m)
	}
	names := make([]string, len(done))
	for i, m := range done {
		names[i] = m.name
	}
	return names, nil
}

func compensate(ctx context.Context, s Store, done []mutation, cause error) error {
	var committed []string
	for i := len(done) - 1; i >= 0; i-- {
		m := done[i]
		if m.undo != nil {
			if ok, err := m.undo(ctx, s); err == nil && ok {
				continue
			}
		}
		committed = append([]string{m.name}, committed...)
	}
	if len(committed) == 0 {
		return cause
	}
	return partialFailure(committed, cause)
}
