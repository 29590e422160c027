package models

import (
	"time"
)

// EventModel is the database row for one observability event. Seq is the
// durable, monotonically increasing insertion order.
type EventModel struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"uniqueIndex;size:64;not null"`
	Timestamp   time.Time
	SessionID   *string `gorm:"size:128"`
	Agent       *string `gorm:"index;size:64"`
	Topic       *string `gorm:"size:512"`
	PayloadType string  `gorm:"size:32;not null"`
	Payload     string  `gorm:"type:text;not null"`
}

// TableName pins the table name.
func (EventModel) TableName() string {
	return "events"
}
