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

func (s *mongoStore) CreateCalendar(ctx context.Context, cal *model.PublishCalendar) error {
	cal.RefreshEnabledSlots()
	if _, err := s.calendars.InsertOne(ctx, cal); err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}
	return nil
}

func (s *mongoStore) GetCalendar(ctx context.Context, id string) (*model.PublishCalendar, error) {
	var cal model.PublishCalendar
	err := s.calendars.FindOne(ctx, bson.M{"_id": id}).Decode(&cal)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar %s: %w", id, err)
	}
	return &cal, nil
}

// calendarListFilter builds the query document for ListCalendars.
func calendarListFilter(userID string, filter store.CalendarFilter) bson.D {
	q := bson.D{{Key: "userId", Value: userID}}
	if filter.IsActive != nil {
		q = append(q, bson.E{Key: "isActive", Value: *filter.IsActive})
	}
	if filter.CharacterID != nil {
		q = append(q, bson.E{Key: "characterId", Value: *filter.CharacterID})
	}
	return q
}

func (s *mongoStore) ListCalendars(ctx context.Context, userID string, filter store.CalendarFilter) ([]model.PublishCalendar, int64, error) {
	q := calendarListFilter(userID, filter)

	total, err := s.calendars.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count calendars: %w", err)
	}

	cursor, err := s.calendars.Find(ctx, q, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(normalizeLimit(filter.Limit, 20)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calendars: %w", err)
	}
	var calendars []model.PublishCalendar
	if err := cursor.All(ctx, &calendars); err != nil {
		return nil, 0, fmt.Errorf("failed to decode calendars: %w", err)
	}
	return calendars, total, nil
}

func (s *mongoStore) UpdateOwned(ctx context.Context, id, ownerID string, mutate func(*model.PublishCalendar) error) (*model.PublishCalendar, bool, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var cal model.PublishCalendar
		err := s.calendars.FindOne(ctx, bson.M{"_id": id, "userId": ownerID}).Decode(&cal)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load calendar %s: %w", id, err)
		}

		expected := cal.Version
		if err := mutate(&cal); err != nil {
			return nil, true, err
		}
		cal.RefreshEnabledSlots()
		cal.Version = expected + 1

		res, err := s.calendars.UpdateOne(ctx,
			bson.M{"_id": id, "userId": ownerID, "version": expected},
			bson.M{"$set": bson.M{
				"name":             cal.Name,
				"description":      cal.Description,
				"characterId":      cal.CharacterID,
				"isActive":         cal.IsActive,
				"timezone":         cal.Timezone,
				"slots":            cal.Slots,
				"enabledSlotCount": cal.EnabledSlotCount,
				"version":          cal.Version,
				"updatedAt":        cal.UpdatedAt,
			}})
		if err != nil {
			return nil, true, fmt.Errorf("failed to update calendar %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return &cal, true, nil
		}
	}
	return nil, true, store.ErrConcurrentUpdate
}

func (s *mongoStore) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	res, err := s.calendars.DeleteOne(ctx, bson.M{"_id": id, "userId": ownerID})
	if err != nil {
		return false, fmt.Errorf("failed to delete calendar %s: %w", id, err)
	}
	return res.DeletedCount == 1, nil
}

func (s *mongoStore) IncrementPublishCount(ctx context.Context, id string, at time.Time) error {
	res, err := s.calendars.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"totalPublished": 1},
		"$set": bson.M{"lastPublishedAt": at, "updatedAt": at},
	})
	if err != nil {
		return fmt.Errorf("failed to increment publish count for calendar %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *mongoStore) FindActiveWithEnabledSlots(ctx context.Context) ([]model.PublishCalendar, error) {
	cursor, err := s.calendars.Find(ctx, bson.M{
		"isActive": true,
		"slots":    bson.M{"$elemMatch": bson.M{"isEnabled": true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active calendars: %w", err)
	}
	var calendars []model.PublishCalendar
	if err := cursor.All(ctx, &calendars); err != nil {
		return nil, fmt.Errorf("failed to decode active calendars: %w", err)
	}
	return calendars, nil
}

func (s *mongoStore) CalendarSummaries(ctx context.Context, userID string) ([]model.CalendarSummary, error) {
	cursor, err := s.calendars.Find(ctx, bson.M{"userId": userID}, options.Find().
		SetProjection(bson.M{"_id": 1, "name": 1, "isActive": 1, "slots": 1}).
		SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize calendars: %w", err)
	}
	var calendars []model.PublishCalendar
	if err := cursor.All(ctx, &calendars); err != nil {
		return nil, fmt.Errorf("failed to decode calendar summaries: %w", err)
	}

	summaries := make([]model.CalendarSummary, 0, len(calendars))
	for _, c := range calendars {
		summaries = append(summaries, model.CalendarSummary{
			ID:        c.ID,
			Name:      c.Name,
			IsActive:  c.IsActive,
			SlotCount: len(c.Slots),
		})
	}
	return summaries, nil
}
