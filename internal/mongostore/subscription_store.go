package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
)

func (s *mongoStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	_, err := s.subscriptions.UpdateOne(ctx,
		bson.M{"_id": sub.Endpoint},
		bson.M{
			"$set":         bson.M{"userId": sub.UserID, "p256dh": sub.P256DH, "auth": sub.Auth},
			"$setOnInsert": bson.M{"createdAt": sub.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *mongoStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.subscriptions.FindOne(ctx, bson.M{"_id": endpoint}).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *mongoStore) DeleteSubscription(ctx context.Context, endpoint, userID string) (bool, error) {
	res, err := s.subscriptions.DeleteOne(ctx, bson.M{"_id": endpoint, "userId": userID})
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *mongoStore) SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	cursor, err := s.subscriptions.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for user %s: %w", userID, err)
	}
	var subs []model.PushSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	return subs, nil
}
