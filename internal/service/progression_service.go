package service

import (
	"context"
	"errors"
	"time"

	"wellnessplan/progress-app/internal/clock"
	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/lock"
	"wellnessplan/progress-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ProgressionService covers the request-driven transitions of a user's plan progression.
type ProgressionService interface {
	// AssignPlan moves the user onto planID if it is longer than every plan the user has had.
	AssignPlan(ctx context.Context, userID, planID primitive.ObjectID) (*domain.Progress, error)
	Hold(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error)
	Resume(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error)
	// Activate marks the user as activated and starts progression at day 1 if it never started.
	Activate(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error)
	GetProgress(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error)
	GetHistory(ctx context.Context, userID primitive.ObjectID) ([]domain.HistoryEntry, error)
}

// progressionService implements the ProgressionService interface.
type progressionService struct {
	userRepo    repository.UserRepository
	planRepo    repository.PlanRepository
	historyRepo repository.HistoryRepository
	mutex       userMutex
	clock       clock.Clock
	log         *zap.SugaredLogger
}

// NewProgressionService creates a new instance of progressionService.
func NewProgressionService(
	userRepo repository.UserRepository,
	planRepo repository.PlanRepository,
	historyRepo repository.HistoryRepository,
	locker lock.Locker,
	clk clock.Clock,
	log *zap.SugaredLogger,
) ProgressionService {
	return &progressionService{
		userRepo:    userRepo,
		planRepo:    planRepo,
		historyRepo: historyRepo,
		mutex:       userMutex{locker: locker, log: log},
		clock:       clk,
		log:         log,
	}
}

// === Plan Assignment ===

func (s *progressionService) AssignPlan(ctx context.Context, userID, planID primitive.ObjectID) (*domain.Progress, error) {
	if userID == primitive.NilObjectID || planID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}

	var progress *domain.Progress
	err := s.mutex.with(ctx, userID, func(ctx context.Context) error {
		user, err := loadUser(ctx, s.userRepo, userID)
		if err != nil {
			return err
		}

		plan, err := s.planRepo.GetByID(ctx, planID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPlanNotFound
			}
			return wrapf(err, "load plan %s", planID.Hex())
		}
		if plan.Deleted {
			return ErrPlanNotFound
		}

		if user.HasPlan() && *user.CurrentPlanID == plan.ID {
			// The user row is written before the ledger row, so an earlier call may
			// have stopped in between. Repeating it completes that assignment.
			recorded, err := s.historyRepo.HasAssignment(ctx, userID, planID)
			if err != nil {
				return wrapf(err, "check history for user %s", userID.Hex())
			}
			if recorded {
				return ErrPlanAlreadyActive
			}
			if err := s.appendAssignment(ctx, user.ID, plan.ID); err != nil {
				return err
			}
			s.log.Warnw("plan assignment ledger repaired", "userId", userID.Hex(), "planId", planID.Hex())
			progress = buildProgress(user, plan)
			return nil
		}

		baseline, ok, err := s.baseline(ctx, user)
		if err != nil {
			return err
		}
		if ok {
			switch {
			case plan.LengthDays < baseline:
				return ErrPlanTooShort
			case plan.LengthDays == baseline:
				return ErrPlanAlreadyActive
			}
		}

		user.CurrentPlanID = &plan.ID
		if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
			return wrapf(err, "save user %s", userID.Hex())
		}
		if err := s.appendAssignment(ctx, user.ID, plan.ID); err != nil {
			return err
		}

		s.log.Infow("plan assigned",
			"userId", userID.Hex(), "planId", planID.Hex(),
			"lengthDays", plan.LengthDays, "baseline", baseline, "hadBaseline", ok)
		progress = buildProgress(user, plan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// appendAssignment writes the ledger row for an assignment already saved on the user.
// A failure leaves the user ahead of its ledger until the assignment is repeated.
func (s *progressionService) appendAssignment(ctx context.Context, userID, planID primitive.ObjectID) error {
	entry := &domain.HistoryEntry{
		UserID:    userID,
		PlanID:    planID,
		Kind:      domain.HistoryKindPlanAssignment,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.historyRepo.Append(ctx, entry); err != nil {
		s.log.Errorw("plan assigned but history append failed",
			"userId", userID.Hex(), "planId", planID.Hex(), "error", err)
		return wrapf(err, "append history for user %s", userID.Hex())
	}
	return nil
}

// baseline is the length an assignment has to beat: the current plan's length,
// raised to the longest plan in the user's history. ok is false when the user
// has neither.
func (s *progressionService) baseline(ctx context.Context, user *domain.User) (length int, ok bool, err error) {
	if user.HasPlan() {
		current, err := s.planRepo.GetByID(ctx, *user.CurrentPlanID)
		switch {
		case err == nil:
			length, ok = current.LengthDays, true
		case errors.Is(err, repository.ErrNotFound):
			s.log.Warnw("current plan missing from catalog", "userId", user.ID.Hex(), "planId", user.CurrentPlanID.Hex())
		default:
			return 0, false, wrapf(err, "load current plan %s", user.CurrentPlanID.Hex())
		}
	}

	longest, err := s.historyRepo.LongestAssigned(ctx, user.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return 0, false, wrapf(err, "query history for user %s", user.ID.Hex())
	case !ok || longest.LengthDays > length:
		length, ok = longest.LengthDays, true
	}
	return length, ok, nil
}

// === Hold / Resume ===

func (s *progressionService) Hold(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error) {
	return s.transition(ctx, userID, func(user *domain.User, today time.Time) error {
		if !user.HasPlan() {
			return ErrNoActivePlan
		}
		if user.IsHeld() {
			return ErrAlreadyOnHold
		}
		user.HoldDate = &today
		user.ResumeDate = nil
		return nil
	})
}

func (s *progressionService) Resume(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error) {
	return s.transition(ctx, userID, func(user *domain.User, today time.Time) error {
		if !user.HasPlan() {
			return ErrNoActivePlan
		}
		if !user.IsHeld() {
			return ErrNotOnHold
		}
		user.HoldDate = nil
		resumed := today
		user.ResumeDate = &resumed
		// Holding and resuming within one day must not advance twice.
		if !domain.SameDate(user.CurrentDate, today) {
			user.CurrentDay++
			user.CurrentDate = &today
		}
		return nil
	})
}

// transition runs apply on a freshly loaded user under the user's lock and saves the result.
func (s *progressionService) transition(ctx context.Context, userID primitive.ObjectID, apply func(*domain.User, time.Time) error) (*domain.Progress, error) {
	if userID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}

	var progress *domain.Progress
	err := s.mutex.with(ctx, userID, func(ctx context.Context) error {
		user, err := loadUser(ctx, s.userRepo, userID)
		if err != nil {
			return err
		}
		if err := apply(user, s.clock.Today()); err != nil {
			return err
		}
		if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
			return wrapf(err, "save user %s", userID.Hex())
		}
		s.log.Infow("progression updated",
			"userId", userID.Hex(), "currentDay", user.CurrentDay, "held", user.IsHeld())

		progress, err = s.snapshot(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// === Activation ===

func (s *progressionService) Activate(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error) {
	if userID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}

	var progress *domain.Progress
	err := s.mutex.with(ctx, userID, func(ctx context.Context) error {
		user, err := loadUser(ctx, s.userRepo, userID)
		if err != nil {
			return err
		}

		if !user.Activated || user.CurrentDay == 0 {
			user.Activated = true
			if user.CurrentDay == 0 {
				today := s.clock.Today()
				user.CurrentDay = 1
				user.CurrentDate = &today
			}
			if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
				return wrapf(err, "save user %s", userID.Hex())
			}
			s.log.Infow("user activated", "userId", userID.Hex())
		}

		progress, err = s.snapshot(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// === Reads ===

func (s *progressionService) GetProgress(ctx context.Context, userID primitive.ObjectID) (*domain.Progress, error) {
	if userID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}
	user, err := loadUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, user)
}

func (s *progressionService) GetHistory(ctx context.Context, userID primitive.ObjectID) ([]domain.HistoryEntry, error) {
	if userID == primitive.NilObjectID {
		return nil, ErrInvalidID
	}
	if _, err := loadUser(ctx, s.userRepo, userID); err != nil {
		return nil, err
	}
	entries, err := s.historyRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, wrapf(err, "list history for user %s", userID.Hex())
	}
	return entries, nil
}

func (s *progressionService) snapshot(ctx context.Context, user *domain.User) (*domain.Progress, error) {
	if !user.HasPlan() {
		return buildProgress(user, nil), nil
	}
	plan, err := s.planRepo.GetByID(ctx, *user.CurrentPlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return buildProgress(user, nil), nil
		}
		return nil, wrapf(err, "load plan %s", user.CurrentPlanID.Hex())
	}
	return buildProgress(user, plan), nil
}

// --- helpers shared with the advancement service ---

func loadUser(ctx context.Context, repo repository.UserRepository, userID primitive.ObjectID) (*domain.User, error) {
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapf(err, "load user %s", userID.Hex())
	}
	if user.Deleted {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func buildProgress(user *domain.User, plan *domain.Plan) *domain.Progress {
	p := &domain.Progress{
		UserID:      user.ID,
		PlanID:      user.CurrentPlanID,
		CurrentDay:  user.CurrentDay,
		CurrentDate: user.CurrentDate,
		IsHold:      user.IsHeld(),
		HoldDate:    user.HoldDate,
		ResumeDate:  user.ResumeDate,
		Activated:   user.Activated,
	}
	maxDay := user.CurrentDay
	if plan != nil {
		p.PlanName = plan.Name
		p.LengthDays = plan.LengthDays
		if maxDay > plan.LengthDays {
			maxDay = plan.LengthDays
		}
	}
	p.Days = make([]int, 0, maxDay)
	for d := maxDay; d >= 1; d-- {
		p.Days = append(p.Days, d)
	}
	return p
}

// userMutex runs a function while holding the per-user lock.
type userMutex struct {
	locker lock.Locker
	log    *zap.SugaredLogger
}

func (m userMutex) with(ctx context.Context, userID primitive.ObjectID, fn func(context.Context) error) error {
	key := "progression_lock:user:" + userID.Hex()
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return wrapf(err, "lock user %s", userID.Hex())
	}
	defer func() {
		// Release even if the request context is already gone.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			m.log.Warnw("failed to release user lock", "userId", userID.Hex(), "error", err)
		}
	}()
	return fn(ctx)
}
