// Package notify is the in-process change notification bus.
//
// Signals say "something in domain X changed for this membership" and never
// carry the changed data. Subscribers re-fetch their own view of the truth,
// so a signal delivered twice, or for state a subscriber already has, is harmless.
package notify

import (
	"github.com/google/uuid"
	"github.com/tendant/simple-stars/pkg/domain"
)

// Kind is the closed set of change domains.
type Kind string

const (
	ProgressChanged   Kind = "progress_changed"
	BadgesChanged     Kind = "badges_changed"
	MembershipChanged Kind = "membership_changed"
	GoalChanged       Kind = "goal_changed"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case ProgressChanged, BadgesChanged, MembershipChanged, GoalChanged:
		return true
	}
	return false
}

// Signal is a change notification keyed by membership.
type Signal struct {
	Kind    Kind      `json:"kind"`
	UserID  uuid.UUID `json:"user_id"`
	GroupID uuid.UUID `json:"group_id"`
	// Origin is the instance that published the signal. Set by the bus when empty.
	Origin string `json:"origin,omitempty"`
}

// Key returns the membership the signal refers to.
func (s Signal) Key() domain.MembershipKey {
	return domain.MembershipKey{UserID: s.UserID, GroupID: s.GroupID}
}

// Progress returns a ProgressChanged signal for key.
func Progress(key domain.MembershipKey) Signal {
	return Signal{Kind: ProgressChanged, UserID: key.UserID, GroupID: key.GroupID}
}

// Badges returns a BadgesChanged signal for key.
func Badges(key domain.MembershipKey) Signal {
	return Signal{Kind: BadgesChanged, UserID: key.UserID, GroupID: key.GroupID}
}

// Membership returns a MembershipChanged signal for key.
func Membership(key domain.MembershipKey) Signal {
	return Signal{Kind: MembershipChanged, UserID: key.UserID, GroupID: key.GroupID}
}

// Goal returns a GoalChanged signal for key.
func Goal(key domain.MembershipKey) Signal {
	return Signal{Kind: GoalChanged, UserID: key.UserID, GroupID: key.GroupID}
}

// Filter selects signals for a subscriber. A nil Filter matches everything.
type Filter func(Signal) bool

// Kinds matches signals of any of the given kinds.
func Kinds(kinds ...Kind) Filter {
	return func(s Signal) bool {
		for _, k := range kinds {
			if s.Kind == k {
				return true
			}
		}
		return false
	}
}

// Group matches signals for one group.
func Group(groupID uuid.UUID) Filter {
	return func(s Signal) bool { return s.GroupID == groupID }
}

// All matches signals accepted by every filter.
func All(filters ...Filter) Filter {
	return func(s Signal) bool {
		for _, f := range filters {
			if f != nil && !f(s) {
				return false
			}
		}
		return true
	}
}
