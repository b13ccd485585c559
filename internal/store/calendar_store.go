package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"publish-calendar-backend/internal/model"
)

func (s *gormStore) CreateCalendar(ctx context.Context, cal *model.PublishCalendar) error {
	cal.RefreshEnabledSlots()
	if err := s.db.WithContext(ctx).Create(cal).Error; err != nil {
		return fmt.Errorf("failed to create calendar: %w", err)
	}
	return nil
}

func (s *gormStore) GetCalendar(ctx context.Context, id string) (*model.PublishCalendar, error) {
	var cal model.PublishCalendar
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&cal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar %s: %w", id, err)
	}
	return &cal, nil
}

func (s *gormStore) ListCalendars(ctx context.Context, userID string, filter CalendarFilter) ([]model.PublishCalendar, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if filter.IsActive != nil {
			db = db.Where("is_active = ?", *filter.IsActive)
		}
		if filter.CharacterID != nil {
			db = db.Where("character_id = ?", *filter.CharacterID)
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.PublishCalendar{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count calendars: %w", err)
	}

	var calendars []model.PublishCalendar
	if err := s.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC").Order("id DESC").
		Offset(filter.Offset).Limit(normalizeLimit(filter.Limit, 20)).
		Find(&calendars).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendars, total, nil
}

func (s *gormStore) UpdateOwned(ctx context.Context, id, ownerID string, mutate func(*model.PublishCalendar) error) (*model.PublishCalendar, bool, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		var cal model.PublishCalendar
		err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).Take(&cal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
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

		res := s.db.WithContext(ctx).Model(&model.PublishCalendar{}).
			Where("id = ? AND user_id = ? AND version = ?", id, ownerID, expected).
			Updates(calendarColumns(&cal))
		if res.Error != nil {
			return nil, true, fmt.Errorf("failed to update calendar %s: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			return &cal, true, nil
		}
		// Lost the race; reload and re-apply.
	}
	return nil, true, ErrConcurrentUpdate
}

// calendarColumns lists every user-mutable column. A map is used so that
// false and empty values are written too.
func calendarColumns(cal *model.PublishCalendar) map[string]any {
	return map[string]any{
		"name":               cal.Name,
		"description":        cal.Description,
		"character_id":       cal.CharacterID,
		"is_active":          cal.IsActive,
		"timezone":           cal.Timezone,
		"slots":              cal.Slots,
		"enabled_slot_count": cal.EnabledSlotCount,
		"version":            cal.Version,
		"updated_at":         cal.UpdatedAt,
	}
}

func (s *gormStore) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).Delete(&model.PublishCalendar{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete calendar %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) IncrementPublishCount(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.PublishCalendar{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_published":   gorm.Expr("total_published + ?", 1),
			"last_published_at": at,
			"updated_at":        at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment publish count for calendar %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) FindActiveWithEnabledSlots(ctx context.Context) ([]model.PublishCalendar, error) {
	var calendars []model.PublishCalendar
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND enabled_slot_count > ?", true, 0).
		Find(&calendars).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active calendars: %w", err)
	}
	return calendars, nil
}

func (s *gormStore) CalendarSummaries(ctx context.Context, userID string) ([]model.CalendarSummary, error) {
	var calendars []model.PublishCalendar
	if err := s.db.WithContext(ctx).
		Select("id", "name", "is_active", "slots").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&calendars).Error; err != nil {
		return nil, fmt.Errorf("failed to summarize calendars: %w", err)
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
