package model

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors below wrap exactly one of these, so callers
// can branch on the kind with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("transient failure")
)

var (
	// Session errors
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrSessionExists       = fmt.Errorf("session already exists: %w", ErrConflict)
	ErrVersionConflict     = fmt.Errorf("session was modified concurrently: %w", ErrConflict)
	ErrSessionEnded        = fmt.Errorf("session has ended: %w", ErrInvalid)
	ErrInvalidTransition   = fmt.Errorf("operation not allowed in current session status: %w", ErrInvalid)
	ErrInvalidJoinCode     = fmt.Errorf("join code must be 6 characters A-Z or 0-9: %w", ErrInvalid)
	ErrInvalidDisplayName  = fmt.Errorf("display name is required: %w", ErrInvalid)
	ErrInvalidCredentials  = fmt.Errorf("participant token not recognised: %w", ErrUnauthorized)

	// Round errors
	ErrNotHost                  = fmt.Errorf("caller is not the host: %w", ErrUnauthorized)
	ErrCannotKickHost           = fmt.Errorf("the host cannot be kicked: %w", ErrInvalid)
	ErrInsufficientParticipants = fmt.Errorf("at least %d participants are required to start: %w", MinParticipants, ErrInvalid)

	// Category errors
	ErrCategoryNotFound     = fmt.Errorf("category %w", ErrNotFound)
	ErrInvalidCategory      = fmt.Errorf("category is malformed: %w", ErrInvalid)
	ErrGeneratorUnavailable = fmt.Errorf("category generator is not configured: %w", ErrTransient)
)

// Transient marks an infrastructure failure (store or external call) so it
// can be recognised with errors.Is(err, ErrTransient). Errors that already
// carry a kind are returned unchanged.
func Transient(err error) error {
	if err == nil || HasKind(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// HasKind reports whether err wraps one of the error kinds
func HasKind(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrUnauthorized, ErrInvalid, ErrConflict, ErrTransient} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
