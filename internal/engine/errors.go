package engine

import (
	"errors"
	"fmt"

	"caseflow/internal/repo"
)

var (
	// ErrSessionCompleted rejects writes to a submitted assessment.
	ErrSessionCompleted = errors.New("assessment session already completed")
	// ErrConflict reports a lost optimistic update on a subject's episode.
	ErrConflict = errors.New("concurrent update conflict")
)

// ValidationError is a caller mistake in request parameters.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

// conflictOnStale maps a stale episode version to ErrConflict.
func conflictOnStale(err error) error {
	if errors.Is(err, repo.ErrStaleVersion) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
