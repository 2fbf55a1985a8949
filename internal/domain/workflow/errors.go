package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/careflow/careflow/internal/domain/task"
)

// Kind classifies a workflow failure. The set is closed.
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindInvalidState     Kind = "InvalidState"
	KindInvalidPayload   Kind = "InvalidPayload"
	KindAlreadyCompleted Kind = "AlreadyCompleted"
	KindPartialFailure   Kind = "PartialFailure"
	KindInconsistent     Kind = "Inconsistent"
	KindRoleMismatch     Kind = "RoleMismatch"
	KindNoTransition     Kind = "NoTransition"
)

// Sentinels for errors.Is. Every *Error unwraps to the one matching its Kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrAlreadyCompleted = errors.New("task already completed")
	ErrPartialFailure   = errors.New("partial failure")
	ErrInconsistent     = errors.New("inconsistent store state")
	ErrRoleMismatch     = errors.New("role does not own task")
	ErrNoTransition     = errors.New("no transition for role and task type")
)

var sentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindInvalidState:     ErrInvalidState,
	KindInvalidPayload:   ErrInvalidPayload,
	KindAlreadyCompleted: ErrAlreadyCompleted,
	KindPartialFailure:   ErrPartialFailure,
	KindInconsistent:     ErrInconsistent,
	KindRoleMismatch:     ErrRoleMismatch,
	KindNoTransition:     ErrNoTransition,
}

// Error carries enough context for a caller to act on a failure.
type Error struct {
	Kind     Kind
	Entity   string
	ID       string
	Expected []string
	Actual   string
	// Committed lists writes that stayed applied when a sequence failed.
	Committed []string
	// NextTask is the successor of an already completed task, if any.
	NextTask *task.Task
	Msg      string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s %s", e.Entity, e.ID)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Actual != "" || len(e.Expected) > 0 {
		fmt.Fprintf(&b, " (status %q, expected %s)", e.Actual, strings.Join(e.Expected, "|"))
	}
	if len(e.Committed) > 0 {
		fmt.Fprintf(&b, " [committed: %s]", strings.Join(e.Committed, "; "))
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{sentinels[e.Kind]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func notFound(entity string, id fmt.Stringer) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id.String()}
}

func invalidPayload(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidPayload, Msg: fmt.Sprintf(format, args...)}
}

func invalidState[S ~string](entity string, id fmt.Stringer, actual S, expected ...S) *Error {
	exp := make([]string, len(expected))
	for i, s := range expected {
		exp[i] = string(s)
	}
	return &Error{Kind: KindInvalidState, Entity: entity, ID: id.String(), Actual: string(actual), Expected: exp}
}

func inconsistent(entity string, id fmt.Stringer, format string, args ...any) *Error {
	return &Error{Kind: KindInconsistent, Entity: entity, ID: id.String(), Msg: fmt.Sprintf(format, args...)}
}

func partialFailure(committed []string, cause error) *Error {
	return &Error{
		Kind:      KindPartialFailure,
		Committed: committed,
		Msg:       "later write failed after earlier writes committed",
		Cause:     cause,
	}
}

// KindOf returns the kind of err, or "" when err is not a workflow error.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidPayload:
		return http.StatusBadRequest
	case KindRoleMismatch:
		return http.StatusForbidden
	case KindInvalidState, KindAlreadyCompleted, KindNoTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
