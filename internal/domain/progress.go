package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Progress is the snapshot returned to API callers after reads and transitions.
type Progress struct {
	UserID      primitive.ObjectID  `json:"userId"`
	PlanID      *primitive.ObjectID `json:"planId,omitempty"`
	PlanName    string              `json:"planName,omitempty"`
	LengthDays  int                 `json:"lengthDays"`
	CurrentDay  int                 `json:"currentDay"`
	CurrentDate *time.Time          `json:"currentDate,omitempty"`
	IsHold      bool                `json:"isHold"`
	HoldDate    *time.Time          `json:"holdDate,omitempty"`
	ResumeDate  *time.Time          `json:"resumeDate,omitempty"`
	Activated   bool                `json:"activated"`
	Days        []int               `json:"days"` // unlocked days, latest first
}

// SameDate compares two calendar dates stored as UTC midnights. A nil date never matches.
func SameDate(a *time.Time, b time.Time) bool {
	if a == nil {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
