// Package database opens the key store backend selected by configuration.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gdg-garage/number-info-api/internal/config"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectTimeout = 10 * time.Second

// Connect returns MongoDB when MONGO_URI is set and SQLite otherwise. The
// repository is migrated or indexed before it is returned.
func Connect(ctx context.Context, cfg *config.Config) (keystore.Repository, error) {
	if cfg.UseMongo() {
		return connectMongo(ctx, cfg)
	}
	repo, err := OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func connectMongo(ctx context.Context, cfg *config.Config) (keystore.Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	repo, err := keystore.ConnectMongo(ctx, cfg.MongoURI, cfg.DBName, cfg.KeysCollection)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		repo.Close(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"database":   cfg.DBName,
		"collection": cfg.KeysCollection,
	}).Info("Connected to MongoDB")
	return repo, nil
}

// OpenSQLite opens the SQLite database at path and migrates the key table.
func OpenSQLite(path string) (*keystore.GormRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes the
	// conditional updates.
	sqlDB.SetMaxOpenConns(1)

	repo := keystore.NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logrus.WithField("path", path).Info("Opened SQLite database")
	return repo, nil
}
