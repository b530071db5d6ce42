package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/movewan/merryhere-sub000/internal/config"
	"github.com/movewan/merryhere-sub000/internal/store/gormstore"
	"github.com/movewan/merryhere-sub000/internal/store/pgstore"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "merryhere.db"
	sqlitePragmas     = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

// openedStore bundles a booking.Store with its schema step and cleanup.
type openedStore struct {
	store   booking.Store
	driver  string
	migrate func(ctx context.Context) error
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (*openedStore, error) {
	if cfg.StoreBackend == config.StoreBackendPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgx ping: %w", err)
		}
		return &openedStore{
			store:   pgstore.New(pool),
			driver:  driverPostgres,
			migrate: func(ctx context.Context) error { return pgstore.EnsureSchema(ctx, pool) },
			close:   pool.Close,
		}, nil
	}

	db, driver, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == driverSQLite {
		// SQLite has a single writer; one connection avoids SQLITE_BUSY between transactions.
		sqlDB.SetMaxOpenConns(1)
	}
	return &openedStore{
		store:   gormstore.New(db),
		driver:  driver,
		migrate: func(ctx context.Context) error { return gormstore.Migrate(ctx, db) },
		close:   func() { _ = sqlDB.Close() },
	}, nil
}

func openDatabase(dsn string) (*gorm.DB, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, "", err
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath+sqlitePragmas), gormConfig)
	default:
		return nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, "", err
	}
	return db, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if config.IsPostgresURL(dsn) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Host + parsed.Path
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite file path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}
