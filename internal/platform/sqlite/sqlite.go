package sqlite

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"braillescan/internal/platform/database"
)

// New opens a sqlite file, or an in-memory database for ":memory:".
// A single connection is kept since sqlite serializes writers anyway.
func New(ctx context.Context, path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite failed: %w", err)
	}
	if err := database.Tune(ctx, db, database.PoolOptions{MaxOpen: 1, MaxIdle: 1}); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return db, nil
}
