package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/model"
)

// InitDB 按 storage.driver 打开 gorm 连接并迁移 kv 表
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Storage.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Storage.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("database: unsupported sql driver %q", cfg.Storage.Driver)
	}

	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.Log.Development {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.KVEntry{}); err != nil {
		return nil, err
	}
	return db, nil
}
