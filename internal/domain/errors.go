package domain

import "errors"

var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a challenge, battle, or participant cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyParticipating is returned when a user joins a challenge twice.
	ErrAlreadyParticipating = errors.New("already participating in challenge")
	// ErrNotParticipating is returned when a user leaves a challenge they never joined.
	ErrNotParticipating = errors.New("not participating in challenge")
	// ErrChallengeClosed is returned when joining a challenge that is no longer active.
	ErrChallengeClosed = errors.New("challenge is closed")
	// ErrForbidden indicates the caller holds the wrong role for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates the entity status is incompatible with the transition.
	ErrInvalidState = errors.New("invalid state for requested transition")
)
