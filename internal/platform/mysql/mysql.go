package mysql

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"braillescan/internal/platform/database"
)

func New(ctx context.Context, dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}
	if err := database.Tune(ctx, db, database.DefaultPool); err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return db, nil
}
