package main

import (
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/database"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLogger(appConfig config.AppConfig) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level:      appConfig.LogLevel,
		Format:     appConfig.LogFormat,
		File:       appConfig.LogFile,
		MaxSizeMB:  appConfig.LogMaxSizeMB,
		MaxBackups: appConfig.LogMaxBackups,
	})
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func newLedgerService(appConfig config.AppConfig, db *gorm.DB, notifier ledger.ChangeNotifier, observer ledger.Observer, logger *zap.Logger) (*ledger.Service, error) {
	store, err := ledger.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return ledger.NewService(ledger.ServiceConfig{
		Store:               store,
		Clock:               time.Now,
		IDProvider:          ledger.NewUUIDProvider(),
		Notifier:            notifier,
		Observer:            observer,
		Logger:              logger,
		SettingsID:          appConfig.SettingsID,
		DefaultHeroTitle:    appConfig.HeroTitle,
		DefaultHeroSubtitle: appConfig.HeroSubtitle,
		LeaderboardSize:     appConfig.LeaderboardSize,
		RequestLimit:        appConfig.RequestLimit,
	})
}
