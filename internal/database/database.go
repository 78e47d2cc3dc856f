package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/moderators"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	errMissingPath = errors.New("database path is required")
	errMissingDSN  = errors.New("database dsn is required")
)

// Options selects the driver and location of the ledger database.
type Options struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Open establishes the configured connection and performs schema migrations.
func Open(options Options) (*gorm.DB, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := strings.ToLower(strings.TrimSpace(options.Driver))

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "", config.DriverSQLite:
		driver = config.DriverSQLite
		db, err = openSQLite(options.Path)
	case config.DriverPostgres:
		db, err = openPostgres(options.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	models := append(ledger.Models(), &moderators.Moderator{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, driver, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driver))
	return db, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errMissingDSN
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}
