package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"braillescan/internal/platform/database"
)

// New opens postgres through the pgx stdlib driver.
func New(ctx context.Context, dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	if err := database.Tune(ctx, db, database.DefaultPool); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return db, nil
}
