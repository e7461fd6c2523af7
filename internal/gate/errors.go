package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/chainguard/internal/execx"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/writer"
)

// ErrorKind classifies a failed dispatch.
type ErrorKind string

const (
	KindInvalidScope      ErrorKind = "InvalidScope"
	KindUnknownCriterion  ErrorKind = "UnknownCriterion"
	KindUnknownOperation  ErrorKind = "UnknownOperation"
	KindBlocked           ErrorKind = "Blocked"
	KindBlockedByAlerts   ErrorKind = "BlockedByAlerts"
	KindDisallowedCommand ErrorKind = "DisallowedCommand"
	KindTimedOut          ErrorKind = "TimedOut"
	KindPersistenceError  ErrorKind = "PersistenceError"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindStorageCorrupt    ErrorKind = "StorageCorrupt"
	KindInternal          ErrorKind = "Internal"
)

// ErrInvalidArgument is returned for malformed request arguments.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrorInfo is the error part of a response.
type ErrorInfo struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// kindOf maps an error returned by a handler or a collaborator to its kind.
func kindOf(err error) ErrorKind {
	var (
		blocked    *taskstate.BlockedByAlertsError
		disallowed *execx.DisallowedCommandError
		persist    *writer.PersistenceError
	)
	switch {
	case errors.As(err, &blocked):
		return KindBlockedByAlerts
	case errors.As(err, &disallowed):
		return KindDisallowedCommand
	case errors.As(err, &persist):
		return KindPersistenceError
	case errors.Is(err, taskstate.ErrInvalidScope):
		return KindInvalidScope
	case errors.Is(err, taskstate.ErrUnknownCriterion):
		return KindUnknownCriterion
	case errors.Is(err, taskstate.ErrNoScope):
		return KindBlocked
	case errors.Is(err, store.ErrCorrupt):
		return KindStorageCorrupt
	case errors.Is(err, execx.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return KindTimedOut
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, taskstate.ErrInvalidPhase),
		errors.Is(err, taskstate.ErrPathOutsideProject),
		errors.Is(err, project.ErrInvalidWorkingDir),
		errors.Is(err, execx.ErrEmptyCommand),
		errors.Is(err, store.ErrInvalidKey):
		return KindInvalidArgument
	default:
		return KindInternal
	}
}

// statusFor returns the response status used for an error of kind k.
func statusFor(k ErrorKind) Status {
	if k == KindBlocked || k == KindBlockedByAlerts {
		return StatusBlocked
	}
	return StatusError
}
