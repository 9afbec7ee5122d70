// Package database 负责创建 MySQL、Redis 与 Postgres 连接。
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rfp-smart-go/internal/model"
	"rfp-smart-go/pkg/log"
)

// OpenMySQL 打开 MySQL 连接并配置连接池。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("MySQL database connected successfully")
	return db, nil
}

// Migrate 创建或更新所有业务表。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Corpus{},
		&model.CorpusDocument{},
		&model.DocumentChunk{},
		&model.Project{},
		&model.ProjectCorpusLink{},
		&model.Brick{},
	)
}
