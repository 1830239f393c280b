package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"braillescan/internal/model"
)

type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Create writes the record and fills in its generated ID.
func (r *DetectionRepository) Create(ctx context.Context, record *model.DetectionRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create detection record failed: %w", err)
	}
	return nil
}

// ListBySessionID returns the session's records, newest first.
func (r *DetectionRepository) ListBySessionID(ctx context.Context, sessionID string) ([]model.DetectionRecord, error) {
	records := make([]model.DetectionRecord, 0)
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list detection records failed: %w", err)
	}
	return records, nil
}
