package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DetectionStatusCompleted = "completed"

	// MaxStoredPredictions caps raw predictions kept on a record.
	MaxStoredPredictions = 10
)

// DetectionRecord is the persisted outcome of processing one image.
type DetectionRecord struct {
	ID                string       `gorm:"primaryKey;size:36" json:"id"`
	SessionID         string       `gorm:"size:36;not null;index:idx_session_timestamp,priority:1" json:"session_id"`
	Timestamp         time.Time    `gorm:"not null;index:idx_session_timestamp,priority:2" json:"timestamp"`
	ImageURL          *string      `gorm:"size:1024" json:"image_url"`
	AnnotatedImageURL *string      `gorm:"size:1024" json:"annotated_image_url"`
	DetectedTextRows  []string     `gorm:"type:text;serializer:json" json:"detected_text_rows"`
	ProcessedText     string       `gorm:"type:text" json:"processed_text"`
	Explanation       string       `gorm:"type:text" json:"explanation"`
	Confidence        float64      `json:"confidence"`
	RawPredictions    []Prediction `gorm:"type:text;serializer:json" json:"raw_predictions"`
	Status            string       `gorm:"size:16;not null" json:"status"`
}

func (DetectionRecord) TableName() string {
	return "braille_detections"
}

func (r *DetectionRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// DetectionEvent is published after a record has been written.
type DetectionEvent struct {
	RecordID       string    `json:"record_id"`
	SessionID      string    `json:"session_id"`
	CharacterCount int       `json:"character_count"`
	Timestamp      time.Time `json:"timestamp"`
}
