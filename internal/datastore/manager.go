// Package datastore opens the errintake database and owns its lifecycle.
// A Manager is created once at process start and handed to every component
// that needs persistence.
package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/datastore/repository"
	"github.com/tphakala/errintake/internal/errors"
	"github.com/tphakala/errintake/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// DefaultDSN matches the historical default of a local sqlite file.
const DefaultDSN = "sqlite://./errors.db"

// Config controls the database connection.
type Config struct {
	// DSN selects the dialect by scheme: sqlite://path, mysql://dsn,
	// postgres://url. A bare path is treated as sqlite.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Debug           bool
}

// Manager owns the gorm connection.
type Manager struct {
	db      *gorm.DB
	dialect string
	log     logger.Logger
}

// Models lists every entity managed by migrations, parents first.
func Models() []any {
	return []any{
		&entities.ErrorRecord{},
		&entities.User{},
		&entities.Service{},
		&entities.NotificationRule{},
	}
}

// NewManager opens the database described by cfg.
func NewManager(cfg Config, log logger.Logger) (*Manager, error) {
	dialect, dialector, err := dialectorFor(cfg.DSN)
	if err != nil {
		return nil, err
	}

	logMode := gorm_logger.Silent
	if cfg.Debug {
		logMode = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", dialect, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dialect", dialect).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	switch {
	case dialect == DialectSQLite:
		// sqlite serializes writers; one connection avoids SQLITE_BUSY and
		// keeps in-memory databases shared.
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Manager{db: db, dialect: dialect, log: log}, nil
}

// dialectorFor maps a DSN to its gorm dialector.
func dialectorFor(dsn string) (string, gorm.Dialector, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return DialectSQLite, sqlite.Open(sqliteDSN(dsn)), nil
	}
	switch strings.ToLower(scheme) {
	case DialectSQLite, "file":
		return DialectSQLite, sqlite.Open(sqliteDSN(rest)), nil
	case DialectMySQL:
		return DialectMySQL, mysql.Open(rest), nil
	case DialectPostgres, "postgresql":
		return DialectPostgres, postgres.Open(dsn), nil
	default:
		return "", nil, errors.Newf("unsupported database scheme %q", scheme).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("scheme", scheme).
			Build()
	}
}

// sqliteDSN enables foreign keys so rule references stay consistent.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=ON&_busy_timeout=5000"
}

// Migrate creates or updates the schema.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	m.log.Info("database schema migrated", logger.String("dialect", m.dialect))
	return nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Dialect returns the active dialect name.
func (m *Manager) Dialect() string {
	return m.dialect
}

// Store returns a repository set over the shared connection.
func (m *Manager) Store() *repository.Store {
	return repository.NewStore(m.db)
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
