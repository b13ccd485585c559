package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/store"
)

var pendingStatuses = bson.A{string(model.StatusQueued), string(model.StatusProcessing)}

func (s *mongoStore) EnqueueIfAbsent(ctx context.Context, item *model.CalendarQueueItem) (bool, error) {
	if _, err := s.queue.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue occurrence %s/%s@%s: %w",
			item.CalendarID, item.SlotID, item.ScheduledAt.Format(time.RFC3339), err)
	}
	return true, nil
}

func (s *mongoStore) GetItem(ctx context.Context, id string) (*model.CalendarQueueItem, error) {
	var item model.CalendarQueueItem
	err := s.queue.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return &item, nil
}

func (s *mongoStore) ListQueued(ctx context.Context, limit int) ([]model.CalendarQueueItem, error) {
	cursor, err := s.queue.Find(ctx, bson.M{"status": model.StatusQueued}, options.Find().
		SetSort(bson.D{{Key: "scheduledAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(normalizeLimit(limit, 1)))
	if err != nil {
		return nil, fmt.Errorf("failed to list queued items: %w", err)
	}
	var items []model.CalendarQueueItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode queued items: %w", err)
	}
	return items, nil
}

// statusUpdateDoc builds the update document for a conditional transition.
func statusUpdateDoc(upd store.StatusUpdate) bson.M {
	set := bson.M{"status": upd.Status, "updatedAt": upd.At}
	if upd.PublishedAt != nil {
		set["publishedAt"] = *upd.PublishedAt
	}
	if upd.Error != nil {
		set["error"] = *upd.Error
	}
	doc := bson.M{"$set": set}
	if upd.IncrementAttempts {
		doc["$inc"] = bson.M{"attempts": 1}
	}
	return doc
}

func (s *mongoStore) CompareAndSwapStatus(ctx context.Context, id string, from model.QueueStatus, upd store.StatusUpdate) (bool, error) {
	res, err := s.queue.UpdateOne(ctx, bson.M{"_id": id, "status": from}, statusUpdateDoc(upd))
	if err != nil {
		return false, fmt.Errorf("failed to move queue item %s from %s to %s: %w", id, from, upd.Status, err)
	}
	return res.MatchedCount == 1, nil
}

func (s *mongoStore) CancelForCalendar(ctx context.Context, calendarID string, at time.Time) (int64, error) {
	res, err := s.queue.UpdateMany(ctx,
		bson.M{"calendarId": calendarID, "status": bson.M{"$in": pendingStatuses}},
		bson.M{"$set": bson.M{"status": model.StatusCancelled, "updatedAt": at}})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel queue items for calendar %s: %w", calendarID, err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoStore) CancelForSlot(ctx context.Context, calendarID, slotID string, at time.Time) (int64, error) {
	res, err := s.queue.UpdateMany(ctx,
		bson.M{"calendarId": calendarID, "slotId": slotID, "status": bson.M{"$in": pendingStatuses}},
		bson.M{"$set": bson.M{"status": model.StatusCancelled, "updatedAt": at}})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel queue items for slot %s: %w", slotID, err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoStore) ResetStale(ctx context.Context, staleBefore time.Time, maxAttempts int, at time.Time) (store.ReapResult, error) {
	var result store.ReapResult

	failed, err := s.queue.UpdateMany(ctx,
		bson.M{
			"status":    model.StatusProcessing,
			"updatedAt": bson.M{"$lt": staleBefore},
			"attempts":  bson.M{"$gte": maxAttempts - 1},
		},
		bson.M{
			"$set": bson.M{"status": model.StatusFailed, "error": store.StaleClaimError, "updatedAt": at},
			"$inc": bson.M{"attempts": 1},
		})
	if err != nil {
		return store.ReapResult{}, fmt.Errorf("failed to expire stale claims: %w", err)
	}
	result.Failed = failed.ModifiedCount

	requeued, err := s.queue.UpdateMany(ctx,
		bson.M{"status": model.StatusProcessing, "updatedAt": bson.M{"$lt": staleBefore}},
		bson.M{
			"$set": bson.M{"status": model.StatusQueued, "updatedAt": at},
			"$inc": bson.M{"attempts": 1},
		})
	if err != nil {
		return result, fmt.Errorf("failed to requeue stale claims: %w", err)
	}
	result.Requeued = requeued.ModifiedCount
	return result, nil
}

// queueListFilter builds the query document for ListItems.
func queueListFilter(filter store.QueueFilter) bson.D {
	q := bson.D{{Key: "userId", Value: filter.UserID}}
	if filter.CalendarID != "" {
		q = append(q, bson.E{Key: "calendarId", Value: filter.CalendarID})
	}
	if filter.Status != nil {
		q = append(q, bson.E{Key: "status", Value: string(*filter.Status)})
	}
	return q
}

func (s *mongoStore) ListItems(ctx context.Context, filter store.QueueFilter) ([]model.CalendarQueueItem, int64, error) {
	q := queueListFilter(filter)

	total, err := s.queue.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	cursor, err := s.queue.Find(ctx, q, options.Find().
		SetSort(bson.D{{Key: "scheduledAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(normalizeLimit(filter.Limit, 20)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list queue items: %w", err)
	}
	var items []model.CalendarQueueItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, fmt.Errorf("failed to decode queue items: %w", err)
	}
	return items, total, nil
}

func (s *mongoStore) CountByStatus(ctx context.Context, userID string) (map[model.QueueStatus]int64, error) {
	cursor, err := s.queue.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items by status: %w", err)
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode status counts: %w", err)
	}

	counts := make(map[model.QueueStatus]int64, len(rows))
	for _, r := range rows {
		counts[model.QueueStatus(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *mongoStore) CountPublishedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	n, err := s.queue.CountDocuments(ctx, bson.M{
		"userId":      userID,
		"status":      model.StatusPublished,
		"publishedAt": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count published items: %w", err)
	}
	return n, nil
}
