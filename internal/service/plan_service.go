package service

import (
	"context"
	"errors"
	"strings"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// PlanUpdate carries the fields an operator wants to change; nil means keep.
type PlanUpdate struct {
	Name        *string
	Description *string
	LengthDays  *int
}

// PlanService manages the plan catalog consumed by the progression engine.
type PlanService interface {
	CreatePlan(ctx context.Context, name, description string, lengthDays int) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)
	GetPlan(ctx context.Context, planID primitive.ObjectID) (*domain.Plan, error)
	// UpdatePlan refuses to change the length of a plan referenced by any progression or history row.
	UpdatePlan(ctx context.Context, planID primitive.ObjectID, upd PlanUpdate) (*domain.Plan, error)
	DeletePlan(ctx context.Context, planID primitive.ObjectID) error
}

type planService struct {
	planRepo    repository.PlanRepository
	userRepo    repository.UserRepository
	historyRepo repository.HistoryRepository
	log         *zap.SugaredLogger
}

// NewPlanService creates a new instance of planService.
func NewPlanService(
	planRepo repository.PlanRepository,
	userRepo repository.UserRepository,
	historyRepo repository.HistoryRepository,
	log *zap.SugaredLogger,
) PlanService {
	return &planService{
		planRepo:    planRepo,
		userRepo:    userRepo,
		historyRepo: historyRepo,
		log:         log,
	}
}

func (s *planService) CreatePlan(ctx context.Context, name, description string, lengthDays int) (*domain.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" || lengthDays < 1 {
		return nil, ErrInvalidPlan
	}
	if err := s.ensureNameFree(ctx, name, primitive.NilObjectID); err != nil {
		return nil, err
	}

	plan := &domain.Plan{
		Name:        name,
		Description: description,
		LengthDays:  lengthDays,
	}
	id, err := s.planRepo.Create(ctx, plan)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrPlanNameTaken
		}
		return nil, wrapf(err, "create plan %q", name)
	}
	plan.ID = id
	s.log.Infow("plan created", "planId", id.Hex(), "name", name, "lengthDays", lengthDays)
	return plan, nil
}

func (s *planService) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	plans, err := s.planRepo.ListActive(ctx)
	if err != nil {
		return nil, wrapf(err, "list plans")
	}
	return plans, nil
}

func (s *planService) GetPlan(ctx context.Context, planID primitive.ObjectID) (*domain.Plan, error) {
	if planID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}
	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, wrapf(err, "load plan %s", planID.Hex())
	}
	if plan.Deleted {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (s *planService) UpdatePlan(ctx context.Context, planID primitive.ObjectID, upd PlanUpdate) (*domain.Plan, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, ErrInvalidPlan
		}
		if name != plan.Name {
			if err := s.ensureNameFree(ctx, name, plan.ID); err != nil {
				return nil, err
			}
		}
		plan.Name = name
	}
	if upd.Description != nil {
		plan.Description = *upd.Description
	}
	if upd.LengthDays != nil && *upd.LengthDays != plan.LengthDays {
		if *upd.LengthDays < 1 {
			return nil, ErrInvalidPlan
		}
		inUse, err := s.inUse(ctx, plan.ID)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, ErrPlanLengthLocked
		}
		plan.LengthDays = *upd.LengthDays
	}

	if err := s.planRepo.Update(ctx, plan); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrPlanNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrPlanNameTaken
		}
		return nil, wrapf(err, "update plan %s", planID.Hex())
	}
	return plan, nil
}

func (s *planService) DeletePlan(ctx context.Context, planID primitive.ObjectID) error {
	if planID == primitive.NilObjectID {
		return ErrInvalidID
	}
	if err := s.planRepo.SoftDelete(ctx, planID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPlanNotFound
		}
		return wrapf(err, "delete plan %s", planID.Hex())
	}
	s.log.Infow("plan deleted", "planId", planID.Hex())
	return nil
}

func (s *planService) ensureNameFree(ctx context.Context, name string, self primitive.ObjectID) error {
	existing, err := s.planRepo.GetActiveByName(ctx, name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return wrapf(err, "look up plan name %q", name)
	case existing.ID != self:
		return ErrPlanNameTaken
	}
	return nil
}

func (s *planService) inUse(ctx context.Context, planID primitive.ObjectID) (bool, error) {
	users, err := s.userRepo.CountByCurrentPlan(ctx, planID)
	if err != nil {
		return false, wrapf(err, "count users on plan %s", planID.Hex())
	}
	if users > 0 {
		return true, nil
	}
	rows, err := s.historyRepo.CountByPlan(ctx, planID)
	if err != nil {
		return false, wrapf(err, "count history for plan %s", planID.Hex())
	}
	return rows > 0, nil
}
