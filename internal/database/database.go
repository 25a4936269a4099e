package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ourea-as/meadstats-api/internal/records"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Settings selects the database backend.
type Settings struct {
	Driver string
	// Path is the SQLite file; DSN is the Postgres connection string.
	Path string
	DSN  string
}

// Open connects to the configured backend and brings the schema up to date.
func Open(settings Settings, logger *zap.Logger) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Driver)) {
	case DriverSQLite, "":
		return OpenSQLite(settings.Path, logger)
	case DriverPostgres:
		return OpenPostgres(settings.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Driver)
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverSQLite), zap.String("path", path))
	}

	return db, nil
}

// OpenPostgres establishes a Postgres connection and performs schema migrations.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverPostgres))
	}

	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

func migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append(records.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
