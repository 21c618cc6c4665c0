package domain

import "errors"

// Membership errors
var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrAlreadyMember      = errors.New("already a member of this group")
	ErrInvalidDelta       = errors.New("star delta must be a non-zero integer")
	ErrOperationConflict  = errors.New("operation id already used for a different change")
)

// Goal errors
var (
	ErrGoalNotFound       = errors.New("goal not found")
	ErrActiveGoalExists   = errors.New("an active goal already exists for this group")
	ErrInvalidGoalTarget  = errors.New("goal target must be positive")
	ErrGoalAlreadyReached = errors.New("goal already completed")
)

// Badge errors
var (
	ErrBadgeNotFound = errors.New("badge not found")
)

// Catalog errors
var (
	ErrInvalidCatalog = errors.New("invalid progression catalog")
)

// Authentication errors
var (
	ErrInvalidToken = errors.New("invalid token")
)
