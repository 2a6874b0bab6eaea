// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Row is a flat record. JSON columns come back as json.RawMessage, time
// columns as time.Time and bool columns as bool.
type Row map[string]any

// String returns a string column or "" when absent.
func (r Row) String(col string) string {
	s, _ := r[col].(string)
	return s
}

// Int returns an integer column or 0 when absent.
func (r Row) Int(col string) int {
	switch v := r[col].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Time returns a time column or the zero time.
func (r Row) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

// JSON decodes a JSON column into dst. A missing column leaves dst untouched.
func (r Row) JSON(col string, dst any) error {
	raw, ok := r[col].(json.RawMessage)
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: column %s: %v", ErrCorruptRecord, col, err)
	}
	return nil
}

// Records is the storage contract consumed by the draft manager, the sync
// engine and the reference cache.
type Records interface {
	GetAll(ctx context.Context) ([]Row, error)
	Find(ctx context.Context, column string, value any) ([]Row, error)
	Get(ctx context.Context, key string) (Row, error)
	Create(ctx context.Context, row Row) error
	Update(ctx context.Context, key string, partial Row) (Row, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) (int64, error)
	DeleteWhere(ctx context.Context, column, op string, value any) (int64, error)
	BatchCreate(ctx context.Context, rows []Row) error
	Count(ctx context.Context) (int, error)
}

type dbExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Table implements Records for one registered table.
type Table struct {
	store  *Store
	schema TableSchema
}

var _ Records = (*Table)(nil)

// Name returns the table name.
func (t *Table) Name() string { return t.schema.Name }

// Lock returns the table's operation lock.
func (t *Table) Lock() *OpLock { return t.store.Lock(t.schema.Name) }

func (t *Table) tableInfo(ctx context.Context) (*TableInfo, error) {
	return t.store.info.get(ctx, t.store.DB, t.schema.Name)
}

func (t *Table) checkColumns(ctx context.Context, cols ...string) error {
	info, err := t.tableInfo(ctx)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if !info.HasColumn(c) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.schema.Name, c)
		}
	}
	return nil
}

// GetAll returns every decodable row. Rows that fail to decode are logged
// and skipped.
func (t *Table) GetAll(ctx context.Context) ([]Row, error) {
	return t.query(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY rowid`, t.schema.Name))
}

// Find returns rows where column equals value.
func (t *Table) Find(ctx context.Context, column string, value any) ([]Row, error) {
	if err := t.checkColumns(ctx, column); err != nil {
		return nil, err
	}
	arg, err := t.encode(column, value)
	if err != nil {
		return nil, err
	}
	return t.query(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE %s = ? ORDER BY rowid`, t.schema.Name, column), arg)
}

func (t *Table) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := t.store.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.schema.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", t.schema.Name, err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.schema.Name, err)
		}
		row, err := t.decode(cols, vals)
		if err != nil {
			var key any
			if i := slices.Index(cols, t.schema.keyColumn()); i >= 0 {
				key = vals[i]
			}
			t.store.logger.Warn("Skipping corrupt record",
				"table", t.schema.Name,
				"key", fmt.Sprint(key),
				"error", err)
			continue
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t.schema.Name, err)
	}
	return out, nil
}

// Get returns the row with the given key.
func (t *Table) Get(ctx context.Context, key string) (Row, error) {
	rows, err := t.store.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE %s = ?`, t.schema.Name, t.schema.keyColumn()), key)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.schema.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.schema.Name, key)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", t.schema.Name, err)
	}
	return t.decode(cols, vals)
}

// Create inserts a new row.
func (t *Table) Create(ctx context.Context, row Row) error {
	return t.insert(ctx, t.store.DB, row)
}

func (t *Table) insert(ctx context.Context, ex dbExecer, row Row) error {
	if len(row) == 0 {
		return fmt.Errorf("empty row for %s", t.schema.Name)
	}
	cols := sortedKeys(row)
	if err := t.checkColumns(ctx, cols...); err != nil {
		return err
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := t.encode(c, row[c])
		if err != nil {
			return err
		}
		args[i] = v
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		t.schema.Name, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := ex.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.schema.Name, err)
	}
	return nil
}

// Update applies partial to the row with the given key and returns the
// stored result. ErrNotFound is returned when no row matches.
func (t *Table) Update(ctx context.Context, key string, partial Row) (Row, error) {
	keyCol := t.schema.keyColumn()
	cols := make([]string, 0, len(partial))
	for _, c := range sortedKeys(partial) {
		if c != keyCol {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return t.Get(ctx, key)
	}
	if err := t.checkColumns(ctx, cols...); err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		v, err := t.encode(c, partial[c])
		if err != nil {
			return nil, err
		}
		sets[i] = c + " = ?"
		args = append(args, v)
	}
	args = append(args, key)

	res, err := t.store.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`, t.schema.Name, strings.Join(sets, ", "), keyCol), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", t.schema.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.schema.Name, key)
	}
	return t.Get(ctx, key)
}

// Delete removes the row with the given key. Deleting an absent key is not
// an error.
func (t *Table) Delete(ctx context.Context, key string) error {
	_, err := t.store.DB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t.schema.Name, t.schema.keyColumn()), key)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", t.schema.Name, err)
	}
	return nil
}

// DeleteAll empties the table and returns the number of removed rows.
func (t *Table) DeleteAll(ctx context.Context) (int64, error) {
	res, err := t.store.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t.schema.Name))
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", t.schema.Name, err)
	}
	return res.RowsAffected()
}

var comparisonOps = []string{"=", "<", "<=", ">", ">=", "!="}

// DeleteWhere removes rows matching "column op value".
func (t *Table) DeleteWhere(ctx context.Context, column, op string, value any) (int64, error) {
	if !slices.Contains(comparisonOps, op) {
		return 0, fmt.Errorf("unsupported operator %q", op)
	}
	if err := t.checkColumns(ctx, column); err != nil {
		return 0, err
	}
	arg, err := t.encode(column, value)
	if err != nil {
		return 0, err
	}
	res, err := t.store.DB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s %s ?`, t.schema.Name, column, op), arg)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.schema.Name, err)
	}
	return res.RowsAffected()
}

// BatchCreate inserts rows in a single transaction. Either all rows are
// stored or none.
func (t *Table) BatchCreate(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	// Load column metadata before the transaction takes the only connection.
	if _, err := t.tableInfo(ctx); err != nil {
		return err
	}
	tx, err := t.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for i, row := range rows {
		if err := t.insert(ctx, tx, row); err != nil {
			return fmt.Errorf("batch row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch into %s: %w", t.schema.Name, err)
	}
	committed = true
	return nil
}

// ReplaceAll deletes every row and inserts rows in one transaction, so
// readers see either the old or the new contents.
func (t *Table) ReplaceAll(ctx context.Context, rows []Row) error {
	if _, err := t.tableInfo(ctx); err != nil {
		return err
	}
	tx, err := t.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t.schema.Name)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t.schema.Name, err)
	}
	for i, row := range rows {
		if err := t.insert(ctx, tx, row); err != nil {
			return fmt.Errorf("replace row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace of %s: %w", t.schema.Name, err)
	}
	committed = true
	return nil
}

// Count returns the number of stored rows, including undecodable ones.
func (t *Table) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.store.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.schema.Name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.schema.Name, err)
	}
	return n, nil
}

func (t *Table) encode(col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case t.schema.isJSON(col):
		switch x := v.(type) {
		case json.RawMessage:
			return string(x), nil
		case []byte:
			return string(x), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s.%s: %w", t.schema.Name, col, err)
		}
		return string(b), nil
	case t.schema.isTime(col):
		switch x := v.(type) {
		case time.Time:
			if x.IsZero() {
				return nil, nil
			}
			return FormatTime(x), nil
		case string:
			return x, nil
		}
		return nil, fmt.Errorf("column %s.%s: unsupported time value %T", t.schema.Name, col, v)
	case t.schema.isBool(col):
		if b, ok := v.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
	}
	return v, nil
}

func (t *Table) decode(cols []string, vals []any) (Row, error) {
	row := make(Row, len(cols))
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if v == nil {
			row[col] = nil
			continue
		}
		switch {
		case t.schema.isJSON(col):
			s, ok := v.(string)
			if !ok || !json.Valid([]byte(s)) {
				return nil, fmt.Errorf("%w: %s.%s is not valid JSON", ErrCorruptRecord, t.schema.Name, col)
			}
			row[col] = json.RawMessage(s)
		case t.schema.isTime(col):
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is not a timestamp", ErrCorruptRecord, t.schema.Name, col)
			}
			tm, err := ParseTime(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrCorruptRecord, t.schema.Name, col, err)
			}
			row[col] = tm
		case t.schema.isBool(col):
			n, _ := v.(int64)
			row[col] = n != 0
		default:
			row[col] = v
		}
	}
	return row, nil
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
