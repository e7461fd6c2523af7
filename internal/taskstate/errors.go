package taskstate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidScope is returned when a scope definition is unusable.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrUnknownCriterion is returned when marking a criterion that does not exist.
	ErrUnknownCriterion = errors.New("unknown criterion")

	// ErrInvalidPhase is returned for a phase name outside the known set.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrNoScope is returned by operations that need a declared scope.
	ErrNoScope = errors.New("no scope set")

	// ErrPathOutsideProject is returned when a tracked path escapes the project root.
	ErrPathOutsideProject = errors.New("path outside project")
)

// BlockedByAlertsError is returned by Complete when unacknowledged blocking
// alerts exist and completion was not forced.
type BlockedByAlertsError struct {
	Alerts []Alert
}

func (e *BlockedByAlertsError) Error() string {
	msgs := make([]string, 0, len(e.Alerts))
	for _, a := range e.Alerts {
		msgs = append(msgs, a.Message)
	}
	return fmt.Sprintf("blocked by %d alert(s): %s", len(e.Alerts), strings.Join(msgs, "; "))
}
