// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localstore is the on-device record store. It keeps every table in
// one SQLite file, encodes structured columns as JSON text and hands out a
// per-table operation lock for multi-step work.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrCorruptRecord   = errors.New("corrupt record")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrUnknownTable    = errors.New("unknown table")
	ErrLockUnavailable = errors.New("operation lock unavailable")
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps so that
// string comparison in SQL orders them chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime accepts TimeLayout and RFC 3339 values.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

//go:embed migrations
var migrations embed.FS

// Options tune how the database file is opened.
type Options struct {
	BusyTimeout time.Duration
	Logger      *slog.Logger
	Schemas     []TableSchema
}

// Store owns the SQLite handle and the table registry.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger

	schemas map[string]TableSchema
	info    *tableInfoCache

	locksMu sync.Mutex
	locks   map[string]*OpLock
}

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway store.
func Open(path string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps SQLite writers from contending and makes
	// in-memory databases survive between calls.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an already opened database and applies migrations.
func New(db *sql.DB, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schemas := opts.Schemas
	if len(schemas) == 0 {
		schemas = DefaultSchemas()
	}

	if err := migrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{
		DB:      db,
		logger:  logger,
		schemas: make(map[string]TableSchema, len(schemas)),
		info:    newTableInfoCache(),
		locks:   make(map[string]*OpLock),
	}
	for _, sc := range schemas {
		s.schemas[sc.Name] = sc
	}
	return s, nil
}

func migrateDB(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	dst, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", dst)
	if err != nil {
		return err
	}
	// The migrator is not closed: closing it would close db.
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

// Logger returns the store's logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Table returns a handle for a registered table.
func (s *Store) Table(name string) (*Table, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return &Table{store: s, schema: schema}, nil
}

// MustTable is Table for names known at compile time.
func (s *Store) MustTable(name string) *Table {
	t, err := s.Table(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Lock returns the operation lock for a table. The same lock is returned
// for every call with the same name.
func (s *Store) Lock(table string) *OpLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[table]
	if !ok {
		l = newOpLock(table)
		s.locks[table] = l
	}
	return l
}

// DeviceID returns the persistent identifier of this installation,
// generating it on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `SELECT device_id FROM _client_info WHERE id = 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO _client_info (id, device_id, created_at) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, FormatTime(time.Now())); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT device_id FROM _client_info WHERE id = 1`).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}
