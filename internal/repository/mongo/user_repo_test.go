package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const usersNS = mtest.TestDb + "." + userCollectionName

func newMock(t *testing.T) *mtest.T {
	t.Helper()
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func countResponse(ns string, n int32) bson.D {
	if n == 0 {
		return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch)
	}
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

func TestProgressionFilter(t *testing.T) {
	id := primitive.NewObjectID()

	legacy := progressionFilter(&domain.User{ID: id})
	if legacy["_id"] != id {
		t.Fatalf("_id = %v, want %s", legacy["_id"], id.Hex())
	}
	if _, ok := legacy["version"]; ok {
		t.Errorf("version 0 filter pins version: %v", legacy)
	}
	or, ok := legacy["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("$or = %v, want version 0 or missing", legacy["$or"])
	}

	versioned := progressionFilter(&domain.User{ID: id, Version: 3})
	if versioned["version"] != int64(3) {
		t.Errorf("version = %v, want 3", versioned["version"])
	}
	if _, ok := versioned["$or"]; ok {
		t.Errorf("versioned filter carries $or: %v", versioned)
	}
}

func TestProgressionUpdate(t *testing.T) {
	planID := primitive.NewObjectID()
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	user := &domain.User{
		ID:            primitive.NewObjectID(),
		Activated:     true,
		CurrentPlanID: &planID,
		CurrentDay:    4,
		CurrentDate:   &date,
	}

	update := progressionUpdate(user, now)
	set := update["$set"].(bson.M)
	want := bson.M{
		"planCurrentDay":  4,
		"activated":       true,
		"updatedAt":       now,
		"plan":            &planID,
		"planCurrentDate": &date,
	}
	for k, v := range want {
		if set[k] != v {
			t.Errorf("$set[%s] = %v, want %v", k, set[k], v)
		}
	}
	unset := update["$unset"].(bson.M)
	for _, k := range []string{"planHoldDate", "planResumeDate"} {
		if _, ok := unset[k]; !ok {
			t.Errorf("%s not unset: %v", k, unset)
		}
		if _, ok := set[k]; ok {
			t.Errorf("%s both set and unset", k)
		}
	}
	if inc := update["$inc"].(bson.M); inc["version"] != 1 {
		t.Errorf("$inc = %v, want version 1", inc)
	}

	user.HoldDate = &date
	user.ResumeDate = &date
	if _, ok := progressionUpdate(user, now)["$unset"]; ok {
		t.Errorf("$unset present with every field set")
	}
}

func TestEligibleFilter(t *testing.T) {
	f := eligibleFilter()
	if f["activated"] != true {
		t.Errorf("activated = %v, want true", f["activated"])
	}
	if v, ok := f["planHoldDate"]; !ok || v != nil {
		t.Errorf("planHoldDate = %v, want nil match", v)
	}
	for _, k := range []string{"isDeleted", "isBlocked"} {
		if ne, ok := f[k].(bson.M); !ok || ne["$ne"] != true {
			t.Errorf("%s = %v, want {$ne: true}", k, f[k])
		}
	}
}

func TestUserRepository(t *testing.T) {
	mt := newMock(t)

	mt.Run("get decodes platform field names", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		planID := primitive.NewObjectID()
		held := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, usersNS, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "activated", Value: true},
			{Key: "plan", Value: planID},
			{Key: "planCurrentDay", Value: int32(7)},
			{Key: "planHoldDate", Value: held},
			{Key: "version", Value: int32(2)},
		}))

		user, err := NewMongoUserRepository(mt.DB).GetByID(context.Background(), id)
		if err != nil {
			mt.Fatalf("GetByID: %v", err)
		}
		if !user.Activated || user.CurrentDay != 7 || user.Version != 2 {
			mt.Errorf("user = %+v", user)
		}
		if user.CurrentPlanID == nil || *user.CurrentPlanID != planID {
			mt.Errorf("plan = %v, want %s", user.CurrentPlanID, planID.Hex())
		}
		if user.HoldDate == nil || !user.HoldDate.Equal(held) {
			mt.Errorf("planHoldDate = %v, want %v", user.HoldDate, held)
		}
	})

	mt.Run("get missing user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, usersNS, mtest.FirstBatch))

		_, err := NewMongoUserRepository(mt.DB).GetByID(context.Background(), primitive.NewObjectID())
		if !errors.Is(err, repository.ErrNotFound) {
			mt.Fatalf("GetByID: got %v, want %v", err, repository.ErrNotFound)
		}
	})

	mt.Run("eligible listing projects ids only", func(mt *mtest.T) {
		a, b := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, usersNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: a}},
			bson.D{{Key: "_id", Value: b}},
		))

		ids, err := NewMongoUserRepository(mt.DB).ListEligibleForAdvancement(context.Background())
		if err != nil {
			mt.Fatalf("ListEligibleForAdvancement: %v", err)
		}
		if len(ids) != 2 || ids[0] != a || ids[1] != b {
			mt.Errorf("ids = %v, want [%s %s]", ids, a.Hex(), b.Hex())
		}

		cmd := mt.GetStartedEvent().Command
		projection, ok := cmd.Lookup("projection").DocumentOK()
		if !ok {
			mt.Fatalf("find sent without projection: %s", cmd)
		}
		if elems, _ := projection.Elements(); len(elems) != 1 || projection.Lookup("_id").AsInt64() != 1 {
			mt.Errorf("projection = %s, want {_id: 1}", projection)
		}
		filter := cmd.Lookup("filter").Document()
		if !filter.Lookup("activated").Boolean() {
			mt.Errorf("filter = %s, want activated users", filter)
		}
		if _, err := filter.LookupErr("planHoldDate"); err != nil {
			mt.Errorf("filter = %s, want planHoldDate clause", filter)
		}
	})

	mt.Run("eligible listing on empty collection", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, usersNS, mtest.FirstBatch))

		ids, err := NewMongoUserRepository(mt.DB).ListEligibleForAdvancement(context.Background())
		if err != nil {
			mt.Fatalf("ListEligibleForAdvancement: %v", err)
		}
		if ids == nil || len(ids) != 0 {
			mt.Errorf("ids = %#v, want empty slice", ids)
		}
	})

	mt.Run("update bumps version", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		user := &domain.User{ID: primitive.NewObjectID(), Version: 4, CurrentDay: 2}

		if err := NewMongoUserRepository(mt.DB).UpdateProgression(context.Background(), user); err != nil {
			mt.Fatalf("UpdateProgression: %v", err)
		}
		if user.Version != 5 {
			mt.Errorf("version = %d, want 5", user.Version)
		}
		if user.UpdatedAt.IsZero() {
			mt.Errorf("updatedAt not set")
		}

		cmd := mt.GetStartedEvent().Command
		q := cmd.Lookup("updates").Array().Index(0).Value().Document().Lookup("q").Document()
		if q.Lookup("version").AsInt64() != 4 {
			mt.Errorf("update filter = %s, want version 4", q)
		}
	})

	mt.Run("stale version is a conflict", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			countResponse(usersNS, 1),
		)
		user := &domain.User{ID: primitive.NewObjectID(), Version: 4}

		err := NewMongoUserRepository(mt.DB).UpdateProgression(context.Background(), user)
		if !errors.Is(err, repository.ErrVersionConflict) {
			mt.Fatalf("UpdateProgression: got %v, want %v", err, repository.ErrVersionConflict)
		}
		if user.Version != 4 {
			mt.Errorf("version = %d, want unchanged 4", user.Version)
		}
	})

	mt.Run("update of missing user", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			countResponse(usersNS, 0),
		)

		err := NewMongoUserRepository(mt.DB).UpdateProgression(context.Background(), &domain.User{ID: primitive.NewObjectID()})
		if !errors.Is(err, repository.ErrNotFound) {
			mt.Fatalf("UpdateProgression: got %v, want %v", err, repository.ErrNotFound)
		}
	})

	mt.Run("count by current plan", func(mt *mtest.T) {
		mt.AddMockResponses(countResponse(usersNS, 3))
		planID := primitive.NewObjectID()

		n, err := NewMongoUserRepository(mt.DB).CountByCurrentPlan(context.Background(), planID)
		if err != nil {
			mt.Fatalf("CountByCurrentPlan: %v", err)
		}
		if n != 3 {
			mt.Errorf("count = %d, want 3", n)
		}
	})
}
