package models

import "time"

// TurnEvent is one completed chat turn as recorded by the worker.
// It carries classification metadata only, never message content.
type TurnEvent struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"event_id"`
	SessionID    string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	UserID       uint64    `gorm:"index" json:"user_id"`
	IsAnonymous  bool      `gorm:"index;not null" json:"is_anonymous"`
	ResponseType string    `gorm:"type:varchar(16);index;not null" json:"response_type"`
	Category     string    `gorm:"type:varchar(32)" json:"category,omitempty"`
	OccurredAt   time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (TurnEvent) TableName() string { return "turn_events" }
