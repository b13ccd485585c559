package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultTimezone is used when a calendar is created without a timezone.
const DefaultTimezone = "UTC"

// Slot is a recurring weekly point in time inside a calendar's timezone.
// DayOfWeek follows time.Weekday numbering (0 = Sunday).
type Slot struct {
	ID        string `json:"id" bson:"id"`
	DayOfWeek int    `json:"dayOfWeek" bson:"dayOfWeek"`
	Hour      int    `json:"hour" bson:"hour"`
	Minute    int    `json:"minute" bson:"minute"`
	IsEnabled bool   `json:"isEnabled" bson:"isEnabled"`
}

// PublishCalendar is a user- or character-owned set of weekly publication slots.
type PublishCalendar struct {
	ID          string  `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	UserID      string  `gorm:"size:64;not null;index:idx_calendars_user_created,priority:1" json:"userId" bson:"userId"`
	CharacterID *string `gorm:"size:64;index" json:"characterId" bson:"characterId"`
	Name        string  `gorm:"size:256;not null" json:"name" bson:"name"`
	Description string  `gorm:"type:text;not null" json:"description" bson:"description"`
	IsActive    bool    `gorm:"not null;index" json:"isActive" bson:"isActive"`
	Timezone    string  `gorm:"size:64;not null" json:"timezone" bson:"timezone"`

	Slots            datatypes.JSONSlice[Slot] `gorm:"not null" json:"slots" bson:"slots"`
	EnabledSlotCount int                       `gorm:"not null;index" json:"-" bson:"enabledSlotCount"`

	TotalPublished  int64      `gorm:"not null" json:"totalPublished" bson:"totalPublished"`
	LastPublishedAt *time.Time `json:"lastPublishedAt" bson:"lastPublishedAt"`

	// Version is bumped on every conditional write.
	Version   int64     `gorm:"not null" json:"-" bson:"version"`
	CreatedAt time.Time `gorm:"not null;index:idx_calendars_user_created,priority:2,sort:desc" json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt" bson:"updatedAt"`
}

// RefreshEnabledSlots recomputes EnabledSlotCount from Slots.
func (c *PublishCalendar) RefreshEnabledSlots() {
	n := 0
	for _, s := range c.Slots {
		if s.IsEnabled {
			n++
		}
	}
	c.EnabledSlotCount = n
}

// FindSlot returns the slot with the given id.
func (c *PublishCalendar) FindSlot(slotID string) (Slot, bool) {
	for _, s := range c.Slots {
		if s.ID == slotID {
			return s, true
		}
	}
	return Slot{}, false
}

// CalendarSummary is the projection used for per-user statistics.
type CalendarSummary struct {
	ID        string
	Name      string
	IsActive  bool
	SlotCount int
}
