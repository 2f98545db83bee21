package session

import (
	"errors"
	"fmt"

	model "github.com/verist/control-room/backend/internal/model/session"
)

var (
	// ErrNotFound covers session and case-id lookup misses. Handlers also
	// answer ErrUnauthorized with the not-found shape so probing agents
	// cannot enumerate other agents' sessions.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized means the actor is neither the owning agent nor a
	// superuser.
	ErrUnauthorized = errors.New("not authorized to manage this session")

	// ErrValidation marks malformed input; nothing was mutated.
	ErrValidation = errors.New("invalid request")

	// ErrInvalidTransition marks a stage/accept/reject request the state
	// machine refused, or an operation on a terminal session.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransitionError wraps ErrInvalidTransition with the session's current
// state so the caller can resync.
type TransitionError struct {
	Reason        string
	CurrentStage  model.Stage
	CurrentStatus model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s (stage=%s status=%s)", e.Reason, e.CurrentStage, e.CurrentStatus)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func transitionErr(s *model.Session, format string, args ...any) error {
	return &TransitionError{
		Reason:        fmt.Sprintf(format, args...),
		CurrentStage:  s.Stage,
		CurrentStatus: s.Status,
	}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
