package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"compvalue/server/internal/models"
)

// Database wraps the sqlite connection. Hand-written SQL goes through db;
// the gorm handle shares the same connection pool.
type Database struct {
	db   *sql.DB
	gorm *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, err
	}

	gormDB, err := gorm.Open(sqlite.Dialector{Conn: db}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &Database{db: db, gorm: gormDB}, nil
}

// NewTestDB opens a migrated in-memory database. The pool is pinned to one
// connection so every query sees the same in-memory schema.
func NewTestDB() (*Database, error) {
	d, err := NewDatabase(":memory:")
	if err != nil {
		return nil, err
	}
	d.db.SetMaxOpenConns(1)
	if err := d.RunMigrations(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Gorm returns the ORM handle used by the recorder and manual comp store.
func (d *Database) Gorm() *gorm.DB {
	return d.gorm
}

// MigrateSchema creates the gorm-managed tables.
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(&models.AnalysisRecord{}, &models.ManualComp{})
}
