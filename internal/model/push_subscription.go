package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey" json:"endpoint" bson:"_id"`
	UserID    string    `gorm:"size:64;not null;index" json:"userId" bson:"userId"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh" bson:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth" bson:"auth"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt" bson:"createdAt"`
}
