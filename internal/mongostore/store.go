// Package mongostore implements store.Store on MongoDB. Calendars are stored
// as single documents with their slot array embedded, and every conditional
// write is a single-document update.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
)

const (
	calendarsCollection     = "publish_calendars"
	queueCollection         = "calendar_queue_items"
	subscriptionsCollection = "push_subscriptions"

	maxUpdateRetries = 5
)

type mongoStore struct {
	db            *mongo.Database
	calendars     *mongo.Collection
	queue         *mongo.Collection
	subscriptions *mongo.Collection
}

// New returns a Mongo-backed store. Call EnsureIndexes once at startup.
func New(db *mongo.Database) store.Store {
	return &mongoStore{
		db:            db,
		calendars:     db.Collection(calendarsCollection),
		queue:         db.Collection(queueCollection),
		subscriptions: db.Collection(subscriptionsCollection),
	}
}

// EnsureIndexes creates the indexes the store relies on, including the
// partial unique index that makes enqueue idempotent. Partial filters with
// $in need MongoDB 6.0 or newer.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	live := make(bson.A, 0, len(model.AllStatuses))
	for _, s := range model.AllStatuses {
		if s != model.StatusCancelled {
			live = append(live, string(s))
		}
	}

	if _, err := db.Collection(calendarsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "enabledSlotCount", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create calendar indexes: %w", err)
	}

	if _, err := db.Collection(queueCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "calendarId", Value: 1}, {Key: "slotId", Value: 1}, {Key: "scheduledAt", Value: 1}},
			Options: options.Index().
				SetName("uniq_live_occurrence").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": bson.M{"$in": live}}),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "calendarId", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create queue indexes: %w", err)
	}

	if _, err := db.Collection(subscriptionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create subscription indexes: %w", err)
	}
	return nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func normalizeLimit(limit, fallback int) int64 {
	if limit <= 0 {
		return int64(fallback)
	}
	return int64(limit)
}
