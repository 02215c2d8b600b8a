package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"wellnessplan/progress-app/internal/clock"
	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/lock"
	"wellnessplan/progress-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.CurrentPlanID != nil {
		id := *u.CurrentPlanID
		c.CurrentPlanID = &id
	}
	c.CurrentDate = cloneTime(u.CurrentDate)
	c.HoldDate = cloneTime(u.HoldDate)
	c.ResumeDate = cloneTime(u.ResumeDate)
	return &c
}

type memUserRepo struct {
	mu         sync.Mutex
	m          map[primitive.ObjectID]*domain.User
	failUpdate map[primitive.ObjectID]error
	updates    int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		m:          make(map[primitive.ObjectID]*domain.User),
		failUpdate: make(map[primitive.ObjectID]error),
	}
}

func (r *memUserRepo) put(u *domain.User) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == primitive.NilObjectID {
		u.ID = primitive.NewObjectID()
	}
	r.m[u.ID] = cloneUser(u)
	return u
}

func (r *memUserRepo) get(id primitive.ObjectID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUser(r.m[id])
}

func (r *memUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *memUserRepo) ListEligibleForAdvancement(ctx context.Context) ([]primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []primitive.ObjectID{}
	for _, u := range r.m {
		if u.EligibleForAdvancement() {
			out = append(out, u.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out, nil
}

func (r *memUserRepo) UpdateProgression(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdate[user.ID]; err != nil {
		return err
	}
	stored, ok := r.m[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != user.Version {
		return repository.ErrVersionConflict
	}
	user.Version++
	user.UpdatedAt = time.Now().UTC()
	r.m[user.ID] = cloneUser(user)
	r.updates++
	return nil
}

func (r *memUserRepo) CountByCurrentPlan(ctx context.Context, planID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.m {
		if u.CurrentPlanID != nil && *u.CurrentPlanID == planID {
			n++
		}
	}
	return n, nil
}

type memPlanRepo struct {
	mu sync.Mutex
	m  map[primitive.ObjectID]*domain.Plan
}

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{m: make(map[primitive.ObjectID]*domain.Plan)}
}

func (r *memPlanRepo) add(name string, days int) *domain.Plan {
	p := &domain.Plan{ID: primitive.NewObjectID(), Name: name, LengthDays: days, CreatedAt: time.Now().UTC()}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.m[p.ID] = &c
	return p
}

func (r *memPlanRepo) Create(ctx context.Context, plan *domain.Plan) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.m {
		if !p.Deleted && p.Name == plan.Name {
			return primitive.NilObjectID, repository.ErrDuplicate
		}
	}
	plan.ID = primitive.NewObjectID()
	c := *plan
	r.m[plan.ID] = &c
	return plan.ID, nil
}

func (r *memPlanRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *memPlanRepo) GetActiveByName(ctx context.Context, name string) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.m {
		if !p.Deleted && p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memPlanRepo) ListActive(ctx context.Context) ([]domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Plan{}
	for _, p := range r.m {
		if !p.Deleted {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LengthDays != out[j].LengthDays {
			return out[i].LengthDays < out[j].LengthDays
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memPlanRepo) Update(ctx context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[plan.ID]
	if !ok || p.Deleted {
		return repository.ErrNotFound
	}
	c := *plan
	r.m[plan.ID] = &c
	return nil
}

func (r *memPlanRepo) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok || p.Deleted {
		return repository.ErrNotFound
	}
	p.Deleted = true
	return nil
}

type memHistoryRepo struct {
	mu         sync.Mutex
	plans      *memPlanRepo
	entries    []domain.HistoryEntry
	failAppend error
}

func newMemHistoryRepo(plans *memPlanRepo) *memHistoryRepo {
	return &memHistoryRepo{plans: plans}
}

func (r *memHistoryRepo) add(userID, planID primitive.ObjectID, at time.Time) primitive.ObjectID {
	return r.addWithID(primitive.NewObjectID(), userID, planID, at)
}

func (r *memHistoryRepo) addWithID(id, userID, planID primitive.ObjectID, at time.Time) primitive.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, domain.HistoryEntry{
		ID: id, UserID: userID, PlanID: planID,
		Kind: domain.HistoryKindPlanAssignment, CreatedAt: at,
	})
	return id
}

func (r *memHistoryRepo) countFor(userID, planID primitive.ObjectID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.UserID == userID && e.PlanID == planID {
			n++
		}
	}
	return n
}

func (r *memHistoryRepo) count(userID primitive.ObjectID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

func (r *memHistoryRepo) Append(ctx context.Context, entry *domain.HistoryEntry) (primitive.ObjectID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend != nil {
		return primitive.NilObjectID, r.failAppend
	}
	entry.ID = primitive.NewObjectID()
	r.entries = append(r.entries, *entry)
	return entry.ID, nil
}

func (r *memHistoryRepo) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.HistoryEntry{}
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return newerEntry(out[i].ID, out[j].ID)
	})
	return out, nil
}

func (r *memHistoryRepo) HasAssignment(ctx context.Context, userID, planID primitive.ObjectID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == userID && e.PlanID == planID && e.Kind == domain.HistoryKindPlanAssignment {
			return true, nil
		}
	}
	return false, nil
}

// newerEntry orders equal-time rows the way the store does: descending _id.
func newerEntry(a, b primitive.ObjectID) bool {
	return bytes.Compare(a[:], b[:]) > 0
}

// choose joins the user's entries to the plan catalog and keeps the entry better() prefers.
func (r *memHistoryRepo) choose(userID primitive.ObjectID, keep func(e domain.HistoryEntry, p *domain.Plan) bool, better func(a, b domain.PlanChoice) bool) (*domain.PlanChoice, error) {
	r.mu.Lock()
	entries := append([]domain.HistoryEntry(nil), r.entries...)
	r.mu.Unlock()

	var best *domain.PlanChoice
	for _, e := range entries {
		if e.UserID != userID || e.Kind != domain.HistoryKindPlanAssignment {
			continue
		}
		p, err := r.plans.GetByID(context.Background(), e.PlanID)
		if err != nil || !keep(e, p) {
			continue
		}
		c := domain.PlanChoice{PlanID: e.PlanID, LengthDays: p.LengthDays, AssignedAt: e.CreatedAt, EntryID: e.ID}
		if best == nil || better(c, *best) {
			best = &c
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (r *memHistoryRepo) LongestAssigned(ctx context.Context, userID primitive.ObjectID) (*domain.PlanChoice, error) {
	return r.choose(userID,
		func(domain.HistoryEntry, *domain.Plan) bool { return true },
		func(a, b domain.PlanChoice) bool {
			if a.LengthDays != b.LengthDays {
				return a.LengthDays > b.LengthDays
			}
			return mostRecent(a, b)
		})
}

func (r *memHistoryRepo) ShortestAlternate(ctx context.Context, userID, excludePlanID primitive.ObjectID) (*domain.PlanChoice, error) {
	return r.choose(userID,
		func(e domain.HistoryEntry, p *domain.Plan) bool { return e.PlanID != excludePlanID && !p.Deleted },
		func(a, b domain.PlanChoice) bool {
			if a.LengthDays != b.LengthDays {
				return a.LengthDays < b.LengthDays
			}
			return mostRecent(a, b)
		})
}

// mostRecent breaks length ties on assignment time, then on entry ID.
func mostRecent(a, b domain.PlanChoice) bool {
	if !a.AssignedAt.Equal(b.AssignedAt) {
		return a.AssignedAt.After(b.AssignedAt)
	}
	return newerEntry(a.EntryID, b.EntryID)
}

func (r *memHistoryRepo) CountByPlan(ctx context.Context, planID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.PlanID == planID {
			n++
		}
	}
	return n, nil
}

// --- fixture ---

var (
	day0 = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
)

func dayN(n int) time.Time { return day0.AddDate(0, 0, n) }

func datePtr(t time.Time) *time.Time { return &t }

func idPtr(id primitive.ObjectID) *primitive.ObjectID { return &id }

type fixture struct {
	users   *memUserRepo
	plans   *memPlanRepo
	history *memHistoryRepo
	clock   *clock.Fixed
	locker  lock.Locker
	log     *zap.SugaredLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	plans := newMemPlanRepo()
	return &fixture{
		users:   newMemUserRepo(),
		plans:   plans,
		history: newMemHistoryRepo(plans),
		clock:   &clock.Fixed{Date: day0},
		locker:  lock.NewLocal(),
		log:     zap.NewNop().Sugar(),
	}
}

func (f *fixture) progression() ProgressionService {
	return NewProgressionService(f.users, f.plans, f.history, f.locker, f.clock, f.log)
}

func (f *fixture) advancement(workers int) AdvancementService {
	return NewAdvancementService(f.users, f.plans, f.history, f.locker, f.clock, workers, f.log)
}

// activeUser is activated, not held, on plan at day, last advanced on lastDate.
func (f *fixture) activeUser(plan *domain.Plan, day int, lastDate time.Time) *domain.User {
	u := &domain.User{
		Activated:   true,
		CurrentDay:  day,
		CurrentDate: datePtr(lastDate),
	}
	if plan != nil {
		u.CurrentPlanID = idPtr(plan.ID)
	}
	return f.users.put(u)
}
