// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package refdata caches server-authoritative reference tables: projects,
// modules, forms, the location hierarchy and notifications.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daniella307307/true-realm-sub001/localstore"
	"github.com/daniella307307/true-realm-sub001/remote"
)

// Kind names a reference table.
type Kind string

const (
	KindProjects      Kind = localstore.TableProjects
	KindModules       Kind = localstore.TableModules
	KindForms         Kind = localstore.TableSurveys
	KindProvinces     Kind = localstore.TableProvinces
	KindDistricts     Kind = localstore.TableDistricts
	KindSectors       Kind = localstore.TableSectors
	KindCells         Kind = localstore.TableCells
	KindVillages      Kind = localstore.TableVillages
	KindNotifications Kind = localstore.TableNotifications
)

// AllKinds lists every cached table in refresh order.
var AllKinds = []Kind{
	KindProjects, KindModules, KindForms,
	KindProvinces, KindDistricts, KindSectors, KindCells, KindVillages,
	KindNotifications,
}

var levelByKind = map[Kind]string{
	KindProvinces: remote.LevelProvince,
	KindDistricts: remote.LevelDistrict,
	KindSectors:   remote.LevelSector,
	KindCells:     remote.LevelCell,
	KindVillages:  remote.LevelVillage,
}

// Source serves reference data. *remote.Client implements it.
type Source interface {
	Projects(ctx context.Context) ([]remote.ProjectDTO, error)
	Modules(ctx context.Context) ([]remote.ModuleDTO, error)
	Forms(ctx context.Context) ([]remote.FormDTO, error)
	Locations(ctx context.Context, level string) ([]remote.LocationDTO, error)
	Notifications(ctx context.Context) ([]remote.NotificationDTO, error)
}

// Config tunes lock acquisition for wholesale overwrites.
type Config struct {
	LockAttempts int
	LockInterval time.Duration
}

// DefaultConfig uses the store's default retry budget.
func DefaultConfig() Config {
	return Config{LockAttempts: localstore.DefaultLockAttempts, LockInterval: localstore.DefaultLockInterval}
}

// Cache keeps reference tables filled from a Source.
type Cache struct {
	store  *localstore.Store
	src    Source
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	invalid map[Kind]bool
}

// NewCache creates a cache. logger may be nil.
func NewCache(store *localstore.Store, src Source, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, src: src, cfg: cfg, logger: logger, invalid: make(map[Kind]bool)}
}

// Invalidate marks kind for refresh on the next EnsureFresh.
func (c *Cache) Invalidate(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid[kind] = true
}

func (c *Cache) isInvalid(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalid[kind]
}

// EnsureFresh refreshes kind when its table is empty or was invalidated.
func (c *Cache) EnsureFresh(ctx context.Context, kind Kind) (refreshed bool, err error) {
	tbl, err := c.store.Table(string(kind))
	if err != nil {
		return false, err
	}
	if !c.isInvalid(kind) {
		n, err := tbl.Count(ctx)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	if err := c.Refresh(ctx, kind); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh fetches kind from the source and overwrites the local table.
func (c *Cache) Refresh(ctx context.Context, kind Kind) error {
	tbl, err := c.store.Table(string(kind))
	if err != nil {
		return err
	}
	rows, err := c.fetch(ctx, kind)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", kind, err)
	}

	err = tbl.Lock().WithRetry(ctx, c.cfg.LockAttempts, c.cfg.LockInterval, func(ctx context.Context) error {
		return tbl.ReplaceAll(ctx, rows)
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", kind, err)
	}

	c.mu.Lock()
	delete(c.invalid, kind)
	c.mu.Unlock()
	c.logger.Info("Reference data refreshed", "kind", kind, "rows", len(rows))
	return nil
}

// RefreshAll runs EnsureFresh for every kind. One failing kind does not stop
// the others; all failures are returned joined.
func (c *Cache) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, k := range AllKinds {
		if _, err := c.EnsureFresh(ctx, k); err != nil {
			c.logger.Warn("Reference refresh failed", "kind", k, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) fetch(ctx context.Context, kind Kind) ([]localstore.Row, error) {
	switch kind {
	case KindProjects:
		items, err := c.src.Projects(ctx)
		if err != nil {
			return nil, err
		}
		return mapRows(items, projectRow), nil
	case KindModules:
		items, err := c.src.Modules(ctx)
		if err != nil {
			return nil, err
		}
		return mapRows(items, moduleRow), nil
	case KindForms:
		items, err := c.src.Forms(ctx)
		if err != nil {
			return nil, err
		}
		return mapRows(items, formRow), nil
	case KindNotifications:
		items, err := c.src.Notifications(ctx)
		if err != nil {
			return nil, err
		}
		return mapRows(items, notificationRow), nil
	}
	if level, ok := levelByKind[kind]; ok {
		items, err := c.src.Locations(ctx, level)
		if err != nil {
			return nil, err
		}
		return mapRows(items, locationRow), nil
	}
	return nil, fmt.Errorf("unknown reference kind %q", kind)
}

func mapRows[T any](items []T, fn func(T) localstore.Row) []localstore.Row {
	rows := make([]localstore.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, fn(it))
	}
	return rows
}
