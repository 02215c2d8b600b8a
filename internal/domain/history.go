package domain

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HistoryKind classifies ledger rows. It is stored as the platform's numeric
// type code and rendered as a name in JSON.
type HistoryKind int

const (
	HistoryKindUnknown        HistoryKind = 0
	HistoryKindPlanAssignment HistoryKind = 1
)

func (k HistoryKind) String() string {
	switch k {
	case HistoryKindPlanAssignment:
		return "plan-assignment"
	default:
		return fmt.Sprintf("kind-%d", int(k))
	}
}

// MarshalText keeps API payloads readable; bson still sees the integer.
func (k HistoryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// HistoryEntry is an append-only ledger row: this user was assigned this plan at CreatedAt.
type HistoryEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user" json:"userId"`
	PlanID    primitive.ObjectID `bson:"plan" json:"planId"`
	Kind      HistoryKind        `bson:"type" json:"kind"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// PlanChoice is a history row joined to the plan it references.
type PlanChoice struct {
	PlanID     primitive.ObjectID
	LengthDays int
	AssignedAt time.Time
	EntryID    primitive.ObjectID // final tie-break between rows with equal length and time
}
