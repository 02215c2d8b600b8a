package repository

import (
	"context"

	"wellnessplan/progress-app/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound        = RepositoryError("not found")
	ErrDuplicate       = RepositoryError("duplicate key")
	ErrVersionConflict = RepositoryError("version conflict: document changed concurrently")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// UserRepository exposes the progression fields of the user document.
type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error)
	// ListEligibleForAdvancement returns the IDs of activated, non-deleted, non-blocked users
	// without a hold. Callers re-read each user before mutating it.
	ListEligibleForAdvancement(ctx context.Context) ([]primitive.ObjectID, error)
	// UpdateProgression writes the progression fields if user.Version still matches the stored
	// version, and bumps the version on success. Returns ErrVersionConflict otherwise.
	UpdateProgression(ctx context.Context, user *domain.User) error
	CountByCurrentPlan(ctx context.Context, planID primitive.ObjectID) (int64, error)
}

// PlanRepository defines the interface for interacting with the plan catalog.
type PlanRepository interface {
	Create(ctx context.Context, plan *domain.Plan) (primitive.ObjectID, error)
	// GetByID returns the plan even when soft-deleted; callers decide.
	GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Plan, error)
	GetActiveByName(ctx context.Context, name string) (*domain.Plan, error)
	ListActive(ctx context.Context) ([]domain.Plan, error)
	Update(ctx context.Context, plan *domain.Plan) error
	SoftDelete(ctx context.Context, id primitive.ObjectID) error
}

// HistoryRepository is the append-only ledger of plan assignments.
type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.HistoryEntry) (primitive.ObjectID, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]domain.HistoryEntry, error)
	// HasAssignment reports whether the ledger holds an assignment of planID to userID.
	HasAssignment(ctx context.Context, userID, planID primitive.ObjectID) (bool, error)
	// LongestAssigned returns the history plan with the largest length for the user.
	LongestAssigned(ctx context.Context, userID primitive.ObjectID) (*domain.PlanChoice, error)
	// ShortestAlternate returns the non-deleted history plan, other than excludePlanID, with the
	// smallest length. Ties go to the most recent entry, then the highest entry ID.
	ShortestAlternate(ctx context.Context, userID, excludePlanID primitive.ObjectID) (*domain.PlanChoice, error)
	CountByPlan(ctx context.Context, planID primitive.ObjectID) (int64, error)
}
