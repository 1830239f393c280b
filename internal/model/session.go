package model

import "time"

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

type Session struct {
	SessionID string    `gorm:"primaryKey;size:36" json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `gorm:"size:16;not null" json:"status"`
}

func (Session) TableName() string {
	return "braille_sessions"
}
