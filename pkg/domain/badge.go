package domain

import (
	"time"

	"github.com/google/uuid"
)

// Badge is a cosmetic unlockable from the static catalog.
type Badge struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	UnlockStars int    `yaml:"unlock_stars" json:"unlock_stars"`
	Bucket      int    `yaml:"-" json:"bucket"`
}

// UnlockedBadge records that a user earned a badge in a group.
type UnlockedBadge struct {
	UserID     uuid.UUID
	GroupID    uuid.UUID
	BadgeID    string
	UnlockedAt time.Time
	Seen       bool
}
