package mongo

import (
	"context"
	"errors"
	"time"

	"wellnessplan/progress-app/internal/domain"
	"wellnessplan/progress-app/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const userCollectionName = "users"

// mongoUserRepository implements repository.UserRepository over the shared users collection.
type mongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository creates a new instance of mongoUserRepository.
func NewMongoUserRepository(db *mongo.Database) repository.UserRepository {
	return &mongoUserRepository{
		collection: db.Collection(userCollectionName),
	}
}

// GetByID retrieves a user by its ObjectID.
func (r *mongoUserRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	var user domain.User
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// eligibleFilter selects the users the scheduler should consider.
func eligibleFilter() bson.M {
	return bson.M{
		"isDeleted":    bson.M{"$ne": true},
		"isBlocked":    bson.M{"$ne": true},
		"activated":    true,
		"planHoldDate": nil, // matches null and missing
	}
}

// ListEligibleForAdvancement streams the IDs of every user the scheduler should consider.
// Only _id is projected; callers re-read each user under its lock.
func (r *mongoUserRepository) ListEligibleForAdvancement(ctx context.Context) ([]primitive.ObjectID, error) {
	findOptions := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, eligibleFilter(), findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ids := []primitive.ObjectID{}
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// progressionFilter matches the user only at the version it was read at.
func progressionFilter(user *domain.User) bson.M {
	filter := bson.M{"_id": user.ID}
	if user.Version == 0 {
		// Documents written by other collaborators may not carry a version yet.
		filter["$or"] = bson.A{
			bson.M{"version": 0},
			bson.M{"version": bson.M{"$exists": false}},
		}
	} else {
		filter["version"] = user.Version
	}
	return filter
}

// progressionUpdate writes every progression field. Nil pointers are unset
// rather than stored as null.
func progressionUpdate(user *domain.User, now time.Time) bson.M {
	set := bson.M{
		"planCurrentDay": user.CurrentDay,
		"activated":      user.Activated,
		"updatedAt":      now,
	}
	unset := bson.M{}
	setOrUnset := func(key string, present bool, value interface{}) {
		if present {
			set[key] = value
		} else {
			unset[key] = ""
		}
	}
	setOrUnset("plan", user.CurrentPlanID != nil, user.CurrentPlanID)
	setOrUnset("planCurrentDate", user.CurrentDate != nil, user.CurrentDate)
	setOrUnset("planHoldDate", user.HoldDate != nil, user.HoldDate)
	setOrUnset("planResumeDate", user.ResumeDate != nil, user.ResumeDate)

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// UpdateProgression is a compare-and-swap on the version field.
func (r *mongoUserRepository) UpdateProgression(ctx context.Context, user *domain.User) error {
	if user.ID == primitive.NilObjectID {
		return errors.New("user ID is required for update")
	}

	now := time.Now().UTC()
	result, err := r.collection.UpdateOne(ctx, progressionFilter(user), progressionUpdate(user, now))
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": user.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}

	user.Version++
	user.UpdatedAt = now
	return nil
}

// CountByCurrentPlan counts users whose progression currently points at planID.
func (r *mongoUserRepository) CountByCurrentPlan(ctx context.Context, planID primitive.ObjectID) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"plan": planID})
}

func ensureUserIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			// Scheduler selection
			Keys:    bson.D{{Key: "activated", Value: 1}, {Key: "isDeleted", Value: 1}, {Key: "planHoldDate", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "plan", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := db.Collection(userCollectionName).Indexes().CreateMany(ctx, indexes)
	return err
}
