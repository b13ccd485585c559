package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"publish-calendar-backend/internal/model"
)

var pendingStatuses = []model.QueueStatus{model.StatusQueued, model.StatusProcessing}

func (s *gormStore) EnqueueIfAbsent(ctx context.Context, item *model.CalendarQueueItem) (bool, error) {
	// The partial unique index on (calendar_id, slot_id, scheduled_at) turns a
	// duplicate occurrence into a no-op insert.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return false, fmt.Errorf("failed to enqueue occurrence %s/%s@%s: %w",
			item.CalendarID, item.SlotID, item.ScheduledAt.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) GetItem(ctx context.Context, id string) (*model.CalendarQueueItem, error) {
	var item model.CalendarQueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return &item, nil
}

func (s *gormStore) ListQueued(ctx context.Context, limit int) ([]model.CalendarQueueItem, error) {
	var items []model.CalendarQueueItem
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusQueued).
		Order("scheduled_at ASC").Order("id ASC").
		Limit(normalizeLimit(limit, 1)).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queued items: %w", err)
	}
	return items, nil
}

func (s *gormStore) CompareAndSwapStatus(ctx context.Context, id string, from model.QueueStatus, upd StatusUpdate) (bool, error) {
	updates := map[string]any{
		"status":     upd.Status,
		"updated_at": upd.At,
	}
	if upd.PublishedAt != nil {
		updates["published_at"] = *upd.PublishedAt
	}
	if upd.Error != nil {
		updates["error"] = *upd.Error
	}
	if upd.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + ?", 1)
	}

	res := s.db.WithContext(ctx).Model(&model.CalendarQueueItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to move queue item %s from %s to %s: %w", id, from, upd.Status, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) CancelForCalendar(ctx context.Context, calendarID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.CalendarQueueItem{}).
		Where("calendar_id = ? AND status IN ?", calendarID, pendingStatuses).
		Updates(map[string]any{"status": model.StatusCancelled, "updated_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel queue items for calendar %s: %w", calendarID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) CancelForSlot(ctx context.Context, calendarID, slotID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.CalendarQueueItem{}).
		Where("calendar_id = ? AND slot_id = ? AND status IN ?", calendarID, slotID, pendingStatuses).
		Updates(map[string]any{"status": model.StatusCancelled, "updated_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel queue items for slot %s: %w", slotID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) ResetStale(ctx context.Context, staleBefore time.Time, maxAttempts int, at time.Time) (ReapResult, error) {
	var result ReapResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claims that would exceed the attempt budget are given up on.
		failed := tx.Model(&model.CalendarQueueItem{}).
			Where("status = ? AND updated_at < ? AND attempts + 1 >= ?", model.StatusProcessing, staleBefore, maxAttempts).
			Updates(map[string]any{
				"status":     model.StatusFailed,
				"attempts":   gorm.Expr("attempts + ?", 1),
				"error":      StaleClaimError,
				"updated_at": at,
			})
		if failed.Error != nil {
			return fmt.Errorf("failed to expire stale claims: %w", failed.Error)
		}
		result.Failed = failed.RowsAffected

		requeued := tx.Model(&model.CalendarQueueItem{}).
			Where("status = ? AND updated_at < ?", model.StatusProcessing, staleBefore).
			Updates(map[string]any{
				"status":     model.StatusQueued,
				"attempts":   gorm.Expr("attempts + ?", 1),
				"updated_at": at,
			})
		if requeued.Error != nil {
			return fmt.Errorf("failed to requeue stale claims: %w", requeued.Error)
		}
		result.Requeued = requeued.RowsAffected
		return nil
	})
	if err != nil {
		return ReapResult{}, err
	}
	return result, nil
}

func (s *gormStore) ListItems(ctx context.Context, filter QueueFilter) ([]model.CalendarQueueItem, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", filter.UserID)
		if filter.CalendarID != "" {
			db = db.Where("calendar_id = ?", filter.CalendarID)
		}
		if filter.Status != nil {
			db = db.Where("status = ?", *filter.Status)
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.CalendarQueueItem{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count queue items: %w", err)
	}

	var items []model.CalendarQueueItem
	if err := s.db.WithContext(ctx).Scopes(scope).
		Order("scheduled_at DESC").Order("id DESC").
		Offset(filter.Offset).Limit(normalizeLimit(filter.Limit, 20)).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, total, nil
}

func (s *gormStore) CountByStatus(ctx context.Context, userID string) (map[model.QueueStatus]int64, error) {
	type statusRow struct {
		Status model.QueueStatus
		Count  int64
	}
	var rows []statusRow
	if err := s.db.WithContext(ctx).
		Model(&model.CalendarQueueItem{}).
		Select("status as status, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count queue items by status: %w", err)
	}

	counts := make(map[model.QueueStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *gormStore) CountPublishedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.CalendarQueueItem{}).
		Where("user_id = ? AND status = ? AND published_at >= ?", userID, model.StatusPublished, since).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count published items: %w", err)
	}
	return n, nil
}
