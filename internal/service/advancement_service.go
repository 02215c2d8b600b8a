package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"wellnessplan/progress-app/internal/clock"
	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/lock"
	"wellnessplan/progress-app/internal/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AdvanceOutcome is what one scheduler pass did to one user.
type AdvanceOutcome string

const (
	OutcomeAdvanced   AdvanceOutcome = "advanced"
	OutcomeRolledOver AdvanceOutcome = "rolled_over" // exhausted plan replaced by a shorter historical plan
	OutcomeCompleted  AdvanceOutcome = "completed"   // exhausted plan with no alternative
	OutcomeSkipped    AdvanceOutcome = "skipped"
	OutcomeFailed     AdvanceOutcome = "failed"
)

// AdvanceReport summarizes one advanceAllActiveUsers run.
type AdvanceReport struct {
	RunID         string    `json:"runId"`
	Date          time.Time `json:"date"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Total         int       `json:"total"`
	Advanced      int       `json:"advanced"`
	RolledOver    int       `json:"rolledOver"`
	Completed     int       `json:"completed"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	FailedUserIDs []string  `json:"failedUserIds,omitempty"`
}

func (r *AdvanceReport) record(userID primitive.ObjectID, outcome AdvanceOutcome) {
	switch outcome {
	case OutcomeAdvanced:
		r.Advanced++
	case OutcomeRolledOver:
		r.RolledOver++
	case OutcomeCompleted:
		r.Completed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
		r.FailedUserIDs = append(r.FailedUserIDs, userID.Hex())
	}
}

// AdvancementService is the daily advancement entry point invoked by the scheduler.
type AdvancementService interface {
	// AdvanceAllActiveUsers advances every eligible user by at most one day for today.
	// Per-user failures are counted in the report; only a failure to list users is returned.
	AdvanceAllActiveUsers(ctx context.Context) (*AdvanceReport, error)
}

type advancementService struct {
	userRepo    repository.UserRepository
	planRepo    repository.PlanRepository
	historyRepo repository.HistoryRepository
	mutex       userMutex
	clock       clock.Clock
	workers     int
	log         *zap.SugaredLogger
}

// NewAdvancementService creates the advancement service. workers bounds how many
// users are processed concurrently.
func NewAdvancementService(
	userRepo repository.UserRepository,
	planRepo repository.PlanRepository,
	historyRepo repository.HistoryRepository,
	locker lock.Locker,
	clk clock.Clock,
	workers int,
	log *zap.SugaredLogger,
) AdvancementService {
	if workers < 1 {
		workers = 1
	}
	return &advancementService{
		userRepo:    userRepo,
		planRepo:    planRepo,
		historyRepo: historyRepo,
		mutex:       userMutex{locker: locker, log: log},
		clock:       clk,
		workers:     workers,
		log:         log,
	}
}

func (s *advancementService) AdvanceAllActiveUsers(ctx context.Context) (*AdvanceReport, error) {
	today := s.clock.Today()
	report := &AdvanceReport{
		RunID:     uuid.NewString(),
		Date:      today,
		StartedAt: time.Now().UTC(),
	}
	log := s.log.With("runId", report.RunID, "date", today.Format("2006-01-02"))

	userIDs, err := s.userRepo.ListEligibleForAdvancement(ctx)
	if err != nil {
		log.Errorw("failed to list users for advancement", "error", err)
		return nil, wrapf(err, "list eligible users")
	}
	report.Total = len(userIDs)
	log.Infow("advancement run started", "users", len(userIDs), "workers", s.workers)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			outcome, err := s.advanceUser(ctx, userID, today)
			if err != nil {
				outcome = OutcomeFailed
				log.Warnw("failed to advance user", "userId", userID.Hex(), "kind", KindOf(err).String(), "error", err)
			} else {
				log.Debugw("user processed", "userId", userID.Hex(), "outcome", outcome)
			}
			mu.Lock()
			report.record(userID, outcome)
			mu.Unlock()
			// Never fail the group: one user's error must not stop the batch.
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	log.Infow("advancement run finished",
		"total", report.Total, "advanced", report.Advanced, "rolledOver", report.RolledOver,
		"completed", report.Completed, "skipped", report.Skipped, "failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())
	return report, nil
}

// advanceUser re-reads the user under its lock so request-driven transitions that
// happened after the listing are honored.
func (s *advancementService) advanceUser(ctx context.Context, userID primitive.ObjectID, today time.Time) (AdvanceOutcome, error) {
	outcome := OutcomeSkipped
	err := s.mutex.with(ctx, userID, func(ctx context.Context) error {
		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return wrapf(err, "load user %s", userID.Hex())
		}
		if !user.EligibleForAdvancement() || !user.HasPlan() {
			return nil
		}
		// At most one advance per calendar day.
		if domain.SameDate(user.CurrentDate, today) {
			return nil
		}

		plan, err := s.planRepo.GetByID(ctx, *user.CurrentPlanID)
		if err != nil {
			return wrapf(err, "load plan %s", user.CurrentPlanID.Hex())
		}

		date := today
		nextDay := user.CurrentDay + 1
		if nextDay <= plan.LengthDays {
			user.CurrentDay = nextDay
			user.CurrentDate = &date
			if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
				return wrapf(err, "save user %s", userID.Hex())
			}
			outcome = OutcomeAdvanced
			return nil
		}

		alt, err := s.historyRepo.ShortestAlternate(ctx, user.ID, plan.ID)
		if errors.Is(err, repository.ErrNotFound) {
			outcome = OutcomeCompleted
			if user.CurrentDay == plan.LengthDays {
				return nil
			}
			// Resolve an overflow left by resume or an earlier rollover.
			user.CurrentDay = plan.LengthDays
			if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
				return wrapf(err, "save user %s", userID.Hex())
			}
			return nil
		}
		if err != nil {
			return wrapf(err, "query rollover plan for user %s", userID.Hex())
		}

		altID := alt.PlanID
		user.CurrentPlanID = &altID
		user.CurrentDay = nextDay
		user.CurrentDate = &date
		if err := s.userRepo.UpdateProgression(ctx, user); err != nil {
			return wrapf(err, "save user %s", userID.Hex())
		}
		s.log.Infow("exhausted plan rolled over",
			"userId", userID.Hex(), "fromPlanId", plan.ID.Hex(), "toPlanId", altID.Hex(), "currentDay", nextDay)
		outcome = OutcomeRolledOver
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}
