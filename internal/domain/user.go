package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role type to distinguish between caller roles
type Role string

// Define constants for roles
const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleSubAdmin Role = "subadmin"
)

// User is the enrolled user as seen by the progression engine. Profile fields
// (name, mobile number, branch, ...) are owned by other collaborators and are
// not decoded here.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Activated bool               `bson:"activated" json:"activated"`
	Deleted   bool               `bson:"isDeleted" json:"-"`
	Blocked   bool               `bson:"isBlocked" json:"-"`

	// --- Progression (field names shared with the rest of the platform) ---
	CurrentPlanID *primitive.ObjectID `bson:"plan,omitempty" json:"currentPlanId,omitempty"`
	CurrentDay    int                 `bson:"planCurrentDay" json:"currentDay"`
	CurrentDate   *time.Time          `bson:"planCurrentDate,omitempty" json:"currentDate,omitempty"` // date currentDay was last set
	HoldDate      *time.Time          `bson:"planHoldDate,omitempty" json:"holdDate,omitempty"`       // non-nil while progression is paused
	ResumeDate    *time.Time          `bson:"planResumeDate,omitempty" json:"resumeDate,omitempty"`

	// Version is bumped on every progression write and checked on update.
	Version   int64     `bson:"version" json:"-"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// HasPlan reports whether a plan is currently assigned.
func (u *User) HasPlan() bool {
	return u.CurrentPlanID != nil && *u.CurrentPlanID != primitive.NilObjectID
}

// IsHeld reports whether progression is paused.
func (u *User) IsHeld() bool {
	return u.HoldDate != nil
}

// IsActive is true for an activated, non-deleted user who is not on hold.
func (u *User) IsActive() bool {
	return !u.IsHeld() && u.Activated && !u.Deleted
}

// EligibleForAdvancement is the scheduler's selection rule.
func (u *User) EligibleForAdvancement() bool {
	return u.IsActive() && !u.Blocked
}
