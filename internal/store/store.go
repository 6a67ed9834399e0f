package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"github.com/gmsas95/careminder/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by GetByID when no row matches.
var ErrNotFound = errors.New("record not found")

// Store provides keyed access to SQLite (entities) and BadgerDB (timer journal)
type Store struct {
	db      *gorm.DB
	journal *Journal
}

// New creates a new Store instance
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "careminder.db")
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "journal")
	}

	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:      db,
		journal: NewJournal(badgerDB),
	}, nil
}

// NewWithDB wraps existing handles. journal may be nil.
func NewWithDB(db *gorm.DB, journal *Journal) *Store {
	return &Store{db: db, journal: journal}
}

// Close closes the journal; the SQL pool is closed with the process.
func (s *Store) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Journal returns the timer journal
func (s *Store) Journal() *Journal {
	return s.journal
}

// Migrate creates or updates the tables for the given entity kinds
func (s *Store) Migrate(models ...any) error {
	if err := s.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Transaction runs fn against a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, journal: s.journal})
	})
}

// ==================== Keyed Methods ====================
// The entity kind is the Go type of the value passed in.

// Put inserts or replaces an entity by primary key
func (s *Store) Put(ctx context.Context, entity any) error {
	return s.db.WithContext(ctx).Save(entity).Error
}

// GetByID loads the entity with the given primary key into dest
func (s *Store) GetByID(ctx context.Context, dest any, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetByIndex loads every entity whose field equals value into dest (a slice pointer).
// order is an optional ORDER BY clause.
func (s *Store) GetByIndex(ctx context.Context, dest any, field string, value any, order string) error {
	q := s.db.WithContext(ctx).Where(map[string]any{field: value})
	if order != "" {
		q = q.Order(order)
	}
	return q.Find(dest).Error
}

// GetAll loads every entity of dest's kind (a slice pointer)
func (s *Store) GetAll(ctx context.Context, dest any, order string) error {
	q := s.db.WithContext(ctx)
	if order != "" {
		q = q.Order(order)
	}
	return q.Find(dest).Error
}

// DeleteByID removes the entity of model's kind with the given primary key
func (s *Store) DeleteByID(ctx context.Context, model any, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(model).Error
}
