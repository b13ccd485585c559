package parse

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"publish-calendar-backend/internal/model"
)

// RawSlot is a slot as supplied by a caller. The numeric fields are left
// loosely typed because JSON clients send numbers, numeric strings or nothing.
// A nil field means "not supplied".
type RawSlot struct {
	ID        string `json:"id,omitempty"`
	DayOfWeek any    `json:"dayOfWeek"`
	Hour      any    `json:"hour"`
	Minute    any    `json:"minute"`
	IsEnabled *bool  `json:"isEnabled,omitempty"`
}

// Slot validates a complete slot triple. The returned slot keeps raw.ID,
// which may be empty; assigning ids is the caller's job.
func Slot(raw RawSlot) (model.Slot, error) {
	day, okDay := toInt(raw.DayOfWeek)
	hour, okHour := toInt(raw.Hour)
	minute, okMinute := toInt(raw.Minute)
	if !okDay || !okHour || !okMinute {
		return model.Slot{}, model.ErrInvalidSlotFormat
	}

	enabled := true
	if raw.IsEnabled != nil && !*raw.IsEnabled {
		enabled = false
	}

	s := model.Slot{
		ID:        raw.ID,
		DayOfWeek: day,
		Hour:      hour,
		Minute:    minute,
		IsEnabled: enabled,
	}
	if err := CheckRange(s); err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

// ApplySlotPatch validates a partial update against an existing slot.
// Fields absent from patch keep their existing values. The slot id never changes.
func ApplySlotPatch(existing model.Slot, patch RawSlot) (model.Slot, error) {
	merged := RawSlot{
		ID:        existing.ID,
		DayOfWeek: existing.DayOfWeek,
		Hour:      existing.Hour,
		Minute:    existing.Minute,
		IsEnabled: &existing.IsEnabled,
	}
	if patch.DayOfWeek != nil {
		merged.DayOfWeek = patch.DayOfWeek
	}
	if patch.Hour != nil {
		merged.Hour = patch.Hour
	}
	if patch.Minute != nil {
		merged.Minute = patch.Minute
	}
	if patch.IsEnabled != nil {
		merged.IsEnabled = patch.IsEnabled
	}
	return Slot(merged)
}

// CheckRange verifies the day/hour/minute bounds of an already typed slot.
func CheckRange(s model.Slot) error {
	switch {
	case s.DayOfWeek < 0 || s.DayOfWeek > 6:
		return model.ErrInvalidDayOfWeek
	case s.Hour < 0 || s.Hour > 23:
		return model.ErrInvalidHour
	case s.Minute < 0 || s.Minute > 59:
		return model.ErrInvalidMinute
	}
	return nil
}

// toInt coerces JSON-ish values to an int. Non-integral numbers are rejected.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
