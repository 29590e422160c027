package models

import (
	"time"
)

// AgentModel is the database row for a tracked agent.
type AgentModel struct {
	ID               string  `gorm:"primaryKey;size:64"`
	Name             string  `gorm:"uniqueIndex;size:64;not null"`
	SessionID        string  `gorm:"index;size:128;not null"`
	WorkingDirectory *string `gorm:"size:512"`
	Topic            *string `gorm:"size:512"`
	CreatedAt        time.Time
	LastSeenAt       time.Time
	Status           string `gorm:"size:16;not null"`
}

// TableName pins the table name.
func (AgentModel) TableName() string {
	return "agents"
}
