// internal/domain/plan.go
package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Plan is a catalog entry defining a fixed number of program days.
type Plan struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name"` // unique among non-deleted plans
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	LengthDays  int                `bson:"days" json:"lengthDays"`
	Deleted     bool               `bson:"isDeleted" json:"-"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}
