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

const historyCollectionName = "histories"

// mongoHistoryRepository implements repository.HistoryRepository. It only ever inserts.
type mongoHistoryRepository struct {
	collection *mongo.Collection
}

// NewMongoHistoryRepository creates a new history ledger repository.
func NewMongoHistoryRepository(db *mongo.Database) repository.HistoryRepository {
	return &mongoHistoryRepository{
		collection: db.Collection(historyCollectionName),
	}
}

// planChoiceDoc is the projection produced by the history/plan join pipelines.
type planChoiceDoc struct {
	EntryID    primitive.ObjectID `bson:"_id"`
	PlanID     primitive.ObjectID `bson:"plan"`
	LengthDays int                `bson:"lengthDays"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// Append inserts a new ledger row.
func (r *mongoHistoryRepository) Append(ctx context.Context, entry *domain.HistoryEntry) (primitive.ObjectID, error) {
	if entry.UserID == primitive.NilObjectID || entry.PlanID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("history entry requires userId and planId")
	}
	entry.ID = primitive.NewObjectID()
	if entry.Kind == domain.HistoryKindUnknown {
		entry.Kind = domain.HistoryKindPlanAssignment
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, entry)
	if err != nil {
		return primitive.NilObjectID, err
	}
	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted history ID")
	}
	return insertedID, nil
}

// ListByUser returns the user's ledger, newest first.
func (r *mongoHistoryRepository) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]domain.HistoryEntry, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user": userID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entries := []domain.HistoryEntry{}
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// HasAssignment reports whether planID was ever assigned to userID.
func (r *mongoHistoryRepository) HasAssignment(ctx context.Context, userID, planID primitive.ObjectID) (bool, error) {
	filter := bson.M{"user": userID, "plan": planID, "type": domain.HistoryKindPlanAssignment}
	n, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LongestAssigned joins the user's assignments to the catalog and keeps the longest plan.
// Deleted plans still count: the upgrade-only baseline covers every plan ever held.
func (r *mongoHistoryRepository) LongestAssigned(ctx context.Context, userID primitive.ObjectID) (*domain.PlanChoice, error) {
	return r.firstChoice(ctx, longestAssignedPipeline(userID))
}

// ShortestAlternate picks the rollover plan for an exhausted progression.
func (r *mongoHistoryRepository) ShortestAlternate(ctx context.Context, userID, excludePlanID primitive.ObjectID) (*domain.PlanChoice, error) {
	return r.firstChoice(ctx, shortestAlternatePipeline(userID, excludePlanID))
}

func longestAssignedPipeline(userID primitive.ObjectID) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": userID, "type": domain.HistoryKindPlanAssignment}}},
		lookupPlanStage(),
		{{Key: "$unwind", Value: "$planDoc"}},
		{{Key: "$sort", Value: bson.D{{Key: "planDoc.days", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: 1}},
		projectChoiceStage(),
	}
}

func shortestAlternatePipeline(userID, excludePlanID primitive.ObjectID) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"user": userID,
			"type": domain.HistoryKindPlanAssignment,
			"plan": bson.M{"$ne": excludePlanID},
		}}},
		lookupPlanStage(),
		{{Key: "$unwind", Value: "$planDoc"}},
		{{Key: "$match", Value: bson.M{"planDoc.isDeleted": bson.M{"$ne": true}}}},
		// Smallest length first; on equal length the most recent assignment wins.
		{{Key: "$sort", Value: bson.D{{Key: "planDoc.days", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: 1}},
		projectChoiceStage(),
	}
}

// CountByPlan counts ledger rows referencing planID.
func (r *mongoHistoryRepository) CountByPlan(ctx context.Context, planID primitive.ObjectID) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"plan": planID})
}

func (r *mongoHistoryRepository) firstChoice(ctx context.Context, pipeline mongo.Pipeline) (*domain.PlanChoice, error) {
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, err
		}
		return nil, repository.ErrNotFound
	}
	var doc planChoiceDoc
	if err := cursor.Decode(&doc); err != nil {
		return nil, err
	}
	return &domain.PlanChoice{
		PlanID:     doc.PlanID,
		LengthDays: doc.LengthDays,
		AssignedAt: doc.CreatedAt,
		EntryID:    doc.EntryID,
	}, nil
}

func lookupPlanStage() bson.D {
	return bson.D{{Key: "$lookup", Value: bson.M{
		"from":         planCollectionName,
		"localField":   "plan",
		"foreignField": "_id",
		"as":           "planDoc",
	}}}
}

func projectChoiceStage() bson.D {
	return bson.D{{Key: "$project", Value: bson.M{
		"plan":       1,
		"createdAt":  1,
		"lengthDays": "$planDoc.days",
	}}}
}

func ensureHistoryIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "plan", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := db.Collection(historyCollectionName).Indexes().CreateMany(ctx, indexes)
	return err
}
