package scheduler

import (
	"sort"
	"time"

	"publish-calendar-backend/internal/model"
)

// Upcoming is a future occurrence of a slot.
type Upcoming struct {
	SlotID      string    `json:"slotId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	// Local is ScheduledAt in the calendar's timezone.
	Local time.Time `json:"local"`
}

// wallClock returns the UTC instant at which the local wall clock in loc
// reads year-month-day hour:minute. ok is false when that wall time does not
// exist (spring-forward gap). For an ambiguous fall-back time both passes
// resolve to the same instant.
func wallClock(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// DueExact reports whether slot fires at the wall-clock minute that now falls
// in, and returns the occurrence instant. Minutes skipped by a DST gap never
// match.
func DueExact(now time.Time, loc *time.Location, slot model.Slot) (time.Time, bool) {
	local := now.In(loc)
	if int(local.Weekday()) != slot.DayOfWeek || local.Hour() != slot.Hour || local.Minute() != slot.Minute {
		return time.Time{}, false
	}
	return wallClock(local.Year(), local.Month(), local.Day(), slot.Hour, slot.Minute, loc)
}

// LatestOccurrence returns the most recent occurrence of slot at or before
// now. Weeks whose occurrence falls into a DST gap are skipped.
func LatestOccurrence(now time.Time, loc *time.Location, slot model.Slot) (time.Time, bool) {
	local := now.In(loc)
	back := (int(local.Weekday()) - slot.DayOfWeek + 7) % 7

	at, ok := wallClock(local.Year(), local.Month(), local.Day()-back, slot.Hour, slot.Minute, loc)
	if ok && !at.After(now) {
		return at, true
	}
	// Later today, or this week's falls in a gap.
	return wallClock(local.Year(), local.Month(), local.Day()-back-7, slot.Hour, slot.Minute, loc)
}

// DueCatchUp reports whether slot has an occurrence in (now-window, now] that
// is not older than notBefore.
func DueCatchUp(now time.Time, loc *time.Location, slot model.Slot, window time.Duration, notBefore time.Time) (time.Time, bool) {
	at, ok := LatestOccurrence(now, loc, slot)
	if !ok {
		return time.Time{}, false
	}
	if now.Sub(at) >= window || at.Before(notBefore.Truncate(time.Minute)) {
		return time.Time{}, false
	}
	return at, true
}

// NextOccurrences lists the next n occurrences strictly after now across all
// enabled slots, earliest first.
func NextOccurrences(now time.Time, loc *time.Location, slots []model.Slot, n int) []Upcoming {
	if n <= 0 {
		return nil
	}
	local := now.In(loc)

	var out []Upcoming
	for _, slot := range slots {
		if !slot.IsEnabled {
			continue
		}
		ahead := (slot.DayOfWeek - int(local.Weekday()) + 7) % 7
		found := 0
		// Each slot contributes at most n entries; gaps only shrink that.
		for week := 0; found < n && week <= n; week++ {
			at, ok := wallClock(local.Year(), local.Month(), local.Day()+ahead+7*week, slot.Hour, slot.Minute, loc)
			if !ok || !at.After(now) {
				continue
			}
			out = append(out, Upcoming{SlotID: slot.ID, ScheduledAt: at, Local: at.In(loc)})
			found++
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].SlotID < out[j].SlotID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
