// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

type columnQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ColumnInfo describes one column reported by PRAGMA table_info.
type ColumnInfo struct {
	Name         string
	DeclaredType string
	NotNull      bool
	IsPrimaryKey bool
}

// TableInfo is the cached physical layout of a table.
type TableInfo struct {
	Table   string
	Columns []ColumnInfo
	byName  map[string]ColumnInfo
}

// HasColumn reports whether the table declares the column.
func (t *TableInfo) HasColumn(name string) bool {
	_, ok := t.byName[strings.ToLower(name)]
	return ok
}

// ColumnNames returns column names in declaration order.
func (t *TableInfo) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// tableInfoCache memoizes PRAGMA lookups per store. Migrations run before
// the first lookup, so entries never go stale during the store's lifetime.
type tableInfoCache struct {
	mu    sync.RWMutex
	cache map[string]*TableInfo
}

func newTableInfoCache() *tableInfoCache {
	return &tableInfoCache{cache: make(map[string]*TableInfo)}
}

func (p *tableInfoCache) get(ctx context.Context, q columnQueryer, table string) (*TableInfo, error) {
	key := strings.ToLower(table)

	p.mu.RLock()
	info, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return info, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.cache[key]; ok {
		return info, nil
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", key))
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %s: %w", table, err)
	}
	defer rows.Close()

	info = &TableInfo{Table: key, byName: make(map[string]ColumnInfo)}
	for rows.Next() {
		var (
			cid          int
			name         string
			declaredType string
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		col := ColumnInfo{
			Name:         name,
			DeclaredType: declaredType,
			NotNull:      notNull == 1,
			IsPrimaryKey: pk == 1,
		}
		info.Columns = append(info.Columns, col)
		info.byName[strings.ToLower(name)] = col
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	p.cache[key] = info
	return info, nil
}
