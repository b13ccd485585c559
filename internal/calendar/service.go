// Package calendar implements the publish calendar operations: validation,
// ownership-scoped conditional writes and cascading cancellation of queue
// items.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"publish-calendar-backend/internal/clock"
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/parse"
	"publish-calendar-backend/internal/scheduler"
	"publish-calendar-backend/internal/store"
	"publish-calendar-backend/internal/timezone"
)

// QueueCanceller cancels pending queue items when their source goes away.
type QueueCanceller interface {
	CancelForCalendar(ctx context.Context, calendarID string) (int64, error)
	CancelForSlot(ctx context.Context, calendarID, slotID string) (int64, error)
}

// Service provides the calendar operations.
type Service struct {
	repo  store.CalendarRepository
	queue QueueCanceller
	tz    *timezone.Converter
	clock clock.Clock
	log   *slog.Logger
}

// NewService creates a calendar service.
func NewService(repo store.CalendarRepository, queue QueueCanceller, tz *timezone.Converter, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		queue: queue,
		tz:    tz,
		clock: clk,
		log:   log.With("component", "calendar"),
	}
}

// errSlotMissing aborts an UpdateOwned mutation that has nothing to do.
var errSlotMissing = errors.New("slot not found")

// CreateCalendar validates input and stores a new active calendar. Every slot
// gets a fresh id.
func (s *Service) CreateCalendar(ctx context.Context, userID string, in CreateInput) (*model.PublishCalendar, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.ErrNameRequired
	}
	tz, err := s.tz.Normalize(in.Timezone)
	if err != nil {
		return nil, err
	}

	slots := make([]model.Slot, 0, len(in.Slots))
	for i, raw := range in.Slots {
		slot, err := parse.Slot(raw)
		if err != nil {
			return nil, slotError(i, err)
		}
		slot.ID = uuid.NewString()
		slots = append(slots, slot)
	}

	now := s.clock.Now()
	cal := &model.PublishCalendar{
		ID:          uuid.NewString(),
		UserID:      userID,
		CharacterID: normalizeCharacter(in.CharacterID),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		IsActive:    true,
		Timezone:    tz,
		Slots:       slots,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateCalendar(ctx, cal); err != nil {
		return nil, err
	}

	s.log.Info("calendar created", "calendar_id", cal.ID, "user_id", userID, "slots", len(slots))
	return cal, nil
}

// GetUserCalendars returns a page of the user's calendars, newest first.
func (s *Service) GetUserCalendars(ctx context.Context, userID string, filter ListFilter) (CalendarPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	calendars, total, err := s.repo.ListCalendars(ctx, userID, store.CalendarFilter{
		IsActive:    filter.IsActive,
		CharacterID: filter.CharacterID,
		Offset:      (page - 1) * limit,
		Limit:       limit,
	})
	if err != nil {
		return CalendarPage{}, err
	}
	if calendars == nil {
		calendars = []model.PublishCalendar{}
	}

	return CalendarPage{
		Calendars:  calendars,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// GetCalendarByID returns a calendar regardless of owner. Malformed ids are
// reported as not found.
func (s *Service) GetCalendarByID(ctx context.Context, id string) (*model.PublishCalendar, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrCalendarNotFound
	}
	cal, err := s.repo.GetCalendar(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrCalendarNotFound
	}
	if err != nil {
		return nil, err
	}
	return cal, nil
}

// UpdateCalendar applies patch to the calendar if it is owned by userID.
// applied is false when no such calendar exists for the user. Deactivating a
// calendar, or dropping slots from it, cancels the affected pending items.
func (s *Service) UpdateCalendar(ctx context.Context, id, userID string, patch CalendarPatch) (updated *model.PublishCalendar, applied bool, err error) {
	var name, tz string
	if patch.Name != nil {
		if name = strings.TrimSpace(*patch.Name); name == "" {
			return nil, false, model.ErrNameRequired
		}
	}
	if patch.Timezone != nil {
		if tz, err = s.tz.Normalize(*patch.Timezone); err != nil {
			return nil, false, err
		}
	}
	var slots []model.Slot
	if patch.Slots != nil {
		if slots, err = replacementSlots(*patch.Slots); err != nil {
			return nil, false, err
		}
	}
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, false, nil
	}

	var wasActive bool
	var removed []string
	now := s.clock.Now()
	cal, matched, err := s.repo.UpdateOwned(ctx, id, userID, func(c *model.PublishCalendar) error {
		wasActive = c.IsActive
		removed = nil

		if patch.Name != nil {
			c.Name = name
		}
		if patch.Description != nil {
			c.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.IsActive != nil {
			c.IsActive = *patch.IsActive
		}
		if patch.Timezone != nil {
			c.Timezone = tz
		}
		if patch.CharacterID != nil {
			c.CharacterID = normalizeCharacter(patch.CharacterID)
		}
		if patch.Slots != nil {
			removed = removedSlotIDs(c.Slots, slots)
			c.Slots = slots
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil || !matched {
		return nil, matched, err
	}

	if wasActive && !cal.IsActive {
		if _, err := s.queue.CancelForCalendar(ctx, id); err != nil {
			return cal, true, fmt.Errorf("calendar %s deactivated but pending items were not cancelled: %w", id, err)
		}
	}
	for _, slotID := range removed {
		if _, err := s.queue.CancelForSlot(ctx, id, slotID); err != nil {
			return cal, true, fmt.Errorf("slot %s removed but pending items were not cancelled: %w", slotID, err)
		}
	}
	return cal, true, nil
}

// AddSlot validates raw and appends it to the user's calendar.
func (s *Service) AddSlot(ctx context.Context, calendarID, userID string, raw parse.RawSlot) (*model.PublishCalendar, model.Slot, error) {
	slot, err := parse.Slot(raw)
	if err != nil {
		return nil, model.Slot{}, err
	}
	slot.ID = uuid.NewString()

	cal, err := s.updateOwned(ctx, calendarID, userID, func(c *model.PublishCalendar) error {
		c.Slots = append(c.Slots, slot)
		return nil
	})
	if err != nil {
		return nil, model.Slot{}, err
	}
	return cal, slot, nil
}

// RemoveSlot removes a slot from the user's calendar and cancels its pending
// items. Removing an unknown slot id changes nothing.
func (s *Service) RemoveSlot(ctx context.Context, calendarID, userID, slotID string) (*model.PublishCalendar, error) {
	cal, err := s.updateOwned(ctx, calendarID, userID, func(c *model.PublishCalendar) error {
		kept := make([]model.Slot, 0, len(c.Slots))
		for _, sl := range c.Slots {
			if sl.ID != slotID {
				kept = append(kept, sl)
			}
		}
		if len(kept) == len(c.Slots) {
			return errSlotMissing
		}
		c.Slots = kept
		return nil
	})
	if errors.Is(err, errSlotMissing) {
		return s.repo.GetCalendar(ctx, calendarID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.CancelForSlot(ctx, calendarID, slotID); err != nil {
		return cal, fmt.Errorf("slot %s removed but pending items were not cancelled: %w", slotID, err)
	}
	return cal, nil
}

// UpdateSlot re-validates the supplied fields of patch against the existing
// slot and stores the result.
func (s *Service) UpdateSlot(ctx context.Context, calendarID, userID, slotID string, patch parse.RawSlot) (*model.PublishCalendar, model.Slot, error) {
	var updated model.Slot
	cal, err := s.updateOwned(ctx, calendarID, userID, func(c *model.PublishCalendar) error {
		for i, sl := range c.Slots {
			if sl.ID != slotID {
				continue
			}
			merged, err := parse.ApplySlotPatch(sl, patch)
			if err != nil {
				return err
			}
			c.Slots[i] = merged
			updated = merged
			return nil
		}
		return errSlotMissing
	})
	if errors.Is(err, errSlotMissing) {
		return nil, model.Slot{}, model.ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return nil, model.Slot{}, err
	}
	return cal, updated, nil
}

// DeleteCalendar cancels the calendar's pending queue items and then deletes
// it. If cancelling fails the calendar is left in place.
func (s *Service) DeleteCalendar(ctx context.Context, id, userID string) (DeleteResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return DeleteResult{}, model.ErrNotFoundOrUnauthorized
	}
	cal, err := s.repo.GetCalendar(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return DeleteResult{}, model.ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return DeleteResult{}, err
	}
	if cal.UserID != userID {
		return DeleteResult{}, model.ErrNotFoundOrUnauthorized
	}

	cancelled, err := s.queue.CancelForCalendar(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("calendar %s not deleted, cancelling its queue items failed: %w", id, err)
	}

	deleted, err := s.repo.DeleteOwned(ctx, id, userID)
	if err != nil {
		return DeleteResult{CancelledQueueItems: cancelled}, err
	}
	if !deleted {
		return DeleteResult{CancelledQueueItems: cancelled}, model.ErrNotFoundOrUnauthorized
	}

	// The scheduler may have enqueued between the two steps.
	if late, err := s.queue.CancelForCalendar(ctx, id); err != nil {
		s.log.Error("failed to sweep queue items of deleted calendar", "calendar_id", id, "error", err)
	} else {
		cancelled += late
	}

	s.log.Info("calendar deleted", "calendar_id", id, "user_id", userID, "cancelled_queue_items", cancelled)
	return DeleteResult{Deleted: true, CancelledQueueItems: cancelled}, nil
}

// UpcomingOccurrences lists the next n occurrences of the user's calendar.
func (s *Service) UpcomingOccurrences(ctx context.Context, id, userID string, n int) ([]scheduler.Upcoming, error) {
	cal, err := s.GetCalendarByID(ctx, id)
	if errors.Is(err, model.ErrCalendarNotFound) {
		return nil, model.ErrNotFoundOrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if cal.UserID != userID {
		return nil, model.ErrNotFoundOrUnauthorized
	}

	if n <= 0 {
		n = defaultUpcoming
	}
	if n > maxUpcoming {
		n = maxUpcoming
	}
	loc, err := s.tz.Location(cal.Timezone)
	if err != nil {
		return nil, err
	}

	upcoming := scheduler.NextOccurrences(s.clock.Now(), loc, cal.Slots, n)
	if upcoming == nil {
		upcoming = []scheduler.Upcoming{}
	}
	return upcoming, nil
}

// updateOwned runs an ownership-scoped mutation and stamps UpdatedAt.
// Zero matches become ErrNotFoundOrUnauthorized.
func (s *Service) updateOwned(ctx context.Context, id, userID string, mutate func(*model.PublishCalendar) error) (*model.PublishCalendar, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrNotFoundOrUnauthorized
	}
	now := s.clock.Now()
	cal, matched, err := s.repo.UpdateOwned(ctx, id, userID, func(c *model.PublishCalendar) error {
		if err := mutate(c); err != nil {
			return err
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, model.ErrNotFoundOrUnauthorized
	}
	return cal, nil
}

// replacementSlots validates a full slot array. Present ids are kept, ids
// that are missing or repeated are replaced by fresh ones.
func replacementSlots(raws []parse.RawSlot) ([]model.Slot, error) {
	seen := make(map[string]bool, len(raws))
	slots := make([]model.Slot, 0, len(raws))
	for i, raw := range raws {
		slot, err := parse.Slot(raw)
		if err != nil {
			return nil, slotError(i, err)
		}
		slot.ID = strings.TrimSpace(slot.ID)
		if slot.ID == "" || seen[slot.ID] {
			slot.ID = uuid.NewString()
		}
		seen[slot.ID] = true
		slots = append(slots, slot)
	}
	return slots, nil
}

func removedSlotIDs(before, after []model.Slot) []string {
	kept := make(map[string]bool, len(after))
	for _, sl := range after {
		kept[sl.ID] = true
	}
	var removed []string
	for _, sl := range before {
		if !kept[sl.ID] {
			removed = append(removed, sl.ID)
		}
	}
	return removed
}

// slotError points a slot validation error at its index in the input array.
func slotError(index int, err error) error {
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	field := fmt.Sprintf("slots[%d]", index)
	if ve.Code != model.CodeInvalidSlotFormat {
		field += "." + ve.Field
	}
	return model.NewValidationError(ve.Code, field, ve.Message)
}

func normalizeCharacter(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
