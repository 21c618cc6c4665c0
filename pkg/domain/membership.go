package domain

import (
	"time"

	"github.com/google/uuid"
)

// Membership is a user's progress record in a group.
type Membership struct {
	UserID           uuid.UUID
	GroupID          uuid.UUID
	TotalStars       int
	CurrentStage     int
	LastReadAt       *time.Time
	SeenCelebrations []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewMembership returns the record created when a user joins a group.
func NewMembership(userID, groupID uuid.UUID, now time.Time) *Membership {
	return &Membership{
		UserID:       userID,
		GroupID:      groupID,
		TotalStars:   0,
		CurrentStage: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasSeenCelebration returns true if the celebration id was already acknowledged.
func (m *Membership) HasSeenCelebration(id string) bool {
	for _, seen := range m.SeenCelebrations {
		if seen == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the celebration slice.
func (m *Membership) Clone() *Membership {
	c := *m
	if m.SeenCelebrations != nil {
		c.SeenCelebrations = append([]string(nil), m.SeenCelebrations...)
	}
	return &c
}

// MembershipKey identifies a membership.
type MembershipKey struct {
	UserID  uuid.UUID
	GroupID uuid.UUID
}

// Key returns the membership's key.
func (m *Membership) Key() MembershipKey {
	return MembershipKey{UserID: m.UserID, GroupID: m.GroupID}
}

// String renders the key as "user:group".
func (k MembershipKey) String() string {
	return k.UserID.String() + ":" + k.GroupID.String()
}

// ScopedOperationID names an operation from source within one membership, so
// a client key reused in another group or by another user is a new operation.
func ScopedOperationID(source string, key MembershipKey, id string) string {
	return source + ":" + key.String() + ":" + id
}

// StarDelta is a signed change to a membership's stars. A non-empty
// OperationID makes the change idempotent: replaying the same operation
// returns the originally recorded totals instead of applying it again. An
// operation id recorded for another membership or delta is a conflict.
type StarDelta struct {
	UserID      uuid.UUID
	GroupID     uuid.UUID
	Delta       int
	OperationID string
}

// StarChange is the authoritative result of applying a StarDelta.
type StarChange struct {
	PreviousTotal int
	Total         int
	PreviousStage int
	Stage         int
	// Replayed is set when the operation had already been applied.
	Replayed bool
}

// Crossed reports whether the change moved the total from below threshold to at or above it.
func (c StarChange) Crossed(threshold int) bool {
	return c.PreviousTotal < threshold && c.Total >= threshold
}
