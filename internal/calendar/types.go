package calendar

import (
	"publish-calendar-backend/internal/model"
	"publish-calendar-backend/internal/parse"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	defaultUpcoming = 10
	maxUpcoming     = 50
)

// CreateInput is the payload of CreateCalendar.
type CreateInput struct {
	CharacterID *string         `json:"characterId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Timezone    string          `json:"timezone"`
	Slots       []parse.RawSlot `json:"slots"`
}

// CalendarPatch is a partial update. Nil fields are left unchanged. An empty
// CharacterID detaches the calendar from its character.
type CalendarPatch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	IsActive    *bool            `json:"isActive"`
	Timezone    *string          `json:"timezone"`
	CharacterID *string          `json:"characterId"`
	Slots       *[]parse.RawSlot `json:"slots"`
}

// ListFilter narrows GetUserCalendars. Page is 1-based.
type ListFilter struct {
	IsActive    *bool
	CharacterID *string
	Page        int
	Limit       int
}

// CalendarPage is one page of a user's calendars.
type CalendarPage struct {
	Calendars  []model.PublishCalendar `json:"calendars"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	TotalPages int                     `json:"totalPages"`
}

// DeleteResult reports the outcome of DeleteCalendar.
type DeleteResult struct {
	Deleted             bool  `json:"deleted"`
	CancelledQueueItems int64 `json:"cancelledQueueItems"`
}
