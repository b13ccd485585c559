package model

import "time"

// QueueStatus is the lifecycle state of a CalendarQueueItem.
type QueueStatus string

const (
	StatusQueued     QueueStatus = "queued"
	StatusProcessing QueueStatus = "processing"
	StatusPublished  QueueStatus = "published"
	StatusFailed     QueueStatus = "failed"
	StatusCancelled  QueueStatus = "cancelled"
)

// AllStatuses lists every queue status in lifecycle order.
var AllStatuses = []QueueStatus{StatusQueued, StatusProcessing, StatusPublished, StatusFailed, StatusCancelled}

// IsTerminal reports whether no further transition is allowed from s.
func (s QueueStatus) IsTerminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CalendarQueueItem is one occurrence of a slot waiting to be published.
// (CalendarID, SlotID, ScheduledAt) is unique among non-cancelled items.
type CalendarQueueItem struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	CalendarID  string      `gorm:"size:36;not null;index;index:idx_queue_occurrence,unique,priority:1,where:status <> 'cancelled'" json:"calendarId" bson:"calendarId"`
	UserID      string      `gorm:"size:64;not null;index" json:"userId" bson:"userId"`
	SlotID      string      `gorm:"size:36;not null;index:idx_queue_occurrence,unique,priority:2,where:status <> 'cancelled'" json:"slotId" bson:"slotId"`
	ScheduledAt time.Time   `gorm:"not null;index:idx_queue_status_scheduled,priority:2;index:idx_queue_occurrence,unique,priority:3,where:status <> 'cancelled'" json:"scheduledAt" bson:"scheduledAt"`
	Status      QueueStatus `gorm:"size:16;not null;index:idx_queue_status_scheduled,priority:1" json:"status" bson:"status"`
	Attempts    int         `gorm:"not null" json:"attempts" bson:"attempts"`
	PublishedAt *time.Time  `gorm:"index" json:"publishedAt" bson:"publishedAt"`
	Error       *string     `gorm:"type:text" json:"error" bson:"error"`
	CreatedAt   time.Time   `gorm:"not null" json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time   `gorm:"not null;index" json:"updatedAt" bson:"updatedAt"`
}

// PublishJob is everything a worker needs to publish a claimed item.
type PublishJob struct {
	Item     CalendarQueueItem `json:"item"`
	Calendar PublishCalendar   `json:"calendar"`
	Slot     Slot              `json:"slot"`
}
