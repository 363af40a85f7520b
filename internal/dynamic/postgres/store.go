package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/schemachat/schemachat/internal/dynamic"
	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/registry"
)

// DefaultBatchSize bounds each page of a batched select.
const DefaultBatchSize = 6500

const columnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

// Store executes generic CRUD against dynamically created tables. Column
// lists are enumerated from information_schema at call time, so rows are
// reconstituted without any compile-time knowledge of the table shape.
type Store struct {
	db        *sql.DB
	batchSize int
}

func NewStore(db *sql.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}

func (s *Store) Insert(ctx context.Context, handle *registry.Handle, rows []map[string]any) ([]any, []map[string]any, error) {
	if len(rows) == 0 {
		return []any{}, []map[string]any{}, nil
	}

	keys := sortedKeys(rows[0])
	for idx, row := range rows[1:] {
		if !sameKeys(row, keys) {
			return nil, nil, fmt.Errorf("insert into %s: row %d columns differ from row 0", handle.PhysicalName, idx+1)
		}
	}
	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*len(keys))
	position := 1
	for _, row := range rows {
		slots := make([]string, 0, len(keys))
		for _, key := range keys {
			slots = append(slots, fmt.Sprintf("$%d", position))
			args = append(args, row[key])
			position++
		}
		placeholders = append(placeholders, "("+strings.Join(slots, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING id",
		handle.PhysicalName, strings.Join(keys, ", "), strings.Join(placeholders, ", "))
	idRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("insert into %s: %w", handle.PhysicalName, err)
	}
	defer func() { _ = idRows.Close() }()

	ids := make([]any, 0, len(rows))
	for idRows.Next() {
		var id any
		if err := idRows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := idRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate inserted ids: %w", err)
	}

	inserted, err := s.selectByIDs(ctx, handle, ids)
	if err != nil {
		return nil, nil, err
	}
	return ids, inserted, nil
}

func (s *Store) Select(ctx context.Context, handle *registry.Handle, cond filter.Tree) ([]map[string]any, error) {
	where, args, err := compileWhere(cond, 1)
	if err != nil {
		return nil, err
	}
	cols, err := s.columns(ctx, handle.PhysicalName)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0)
	offset := 0
	for {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT %d OFFSET %d",
			strings.Join(cols, ", "), handle.PhysicalName, where, s.batchSize, offset)
		batch, err := s.queryRows(ctx, query, cols, args...)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", handle.PhysicalName, err)
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		offset += s.batchSize
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, handle *registry.Handle, cond filter.Tree) ([]map[string]any, error) {
	where, args, err := compileWhere(cond, 1)
	if err != nil {
		return nil, err
	}
	pre, err := s.selectWhere(ctx, handle, where, args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", handle.PhysicalName, where)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", handle.PhysicalName, err)
	}
	return pre, nil
}

func (s *Store) Update(ctx context.Context, handle *registry.Handle, cond filter.Tree, data map[string]any) (dynamic.UpdateResult, error) {
	if len(data) == 0 {
		return dynamic.UpdateResult{}, fmt.Errorf("update on %s has no data", handle.PhysicalName)
	}

	keys := sortedKeys(data)
	assignments := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for idx, key := range keys {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", key, idx+1))
		args = append(args, data[key])
	}
	if _, present := data["updated_at"]; !present {
		assignments = append(assignments, "updated_at = now()")
	}

	where, whereArgs, err := compileWhere(cond, len(keys)+1)
	if err != nil {
		return dynamic.UpdateResult{}, err
	}
	preWhere, err := rebase(cond)
	if err != nil {
		return dynamic.UpdateResult{}, err
	}
	pre, err := s.selectWhere(ctx, handle, preWhere, whereArgs)
	if err != nil {
		return dynamic.UpdateResult{}, err
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		handle.PhysicalName, strings.Join(assignments, ", "), where)
	if _, err := s.db.ExecContext(ctx, query, append(args, whereArgs...)...); err != nil {
		return dynamic.UpdateResult{}, fmt.Errorf("update %s: %w", handle.PhysicalName, err)
	}

	ids := make([]any, 0, len(pre))
	for _, row := range pre {
		ids = append(ids, row["id"])
	}
	post, err := s.selectByIDs(ctx, handle, ids)
	if err != nil {
		return dynamic.UpdateResult{}, err
	}
	return dynamic.UpdateResult{Pre: pre, Post: post}, nil
}

func (s *Store) selectWhere(ctx context.Context, handle *registry.Handle, where string, args []any) ([]map[string]any, error) {
	cols, err := s.columns(ctx, handle.PhysicalName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id",
		strings.Join(cols, ", "), handle.PhysicalName, where)
	rows, err := s.queryRows(ctx, query, cols, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", handle.PhysicalName, err)
	}
	return rows, nil
}

func (s *Store) selectByIDs(ctx context.Context, handle *registry.Handle, ids []any) ([]map[string]any, error) {
	if len(ids) == 0 {
		return []map[string]any{}, nil
	}
	cols, err := s.columns(ctx, handle.PhysicalName)
	if err != nil {
		return nil, err
	}
	placeholders := make([]string, 0, len(ids))
	for idx := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", idx+1))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s) ORDER BY id",
		strings.Join(cols, ", "), handle.PhysicalName, strings.Join(placeholders, ", "))
	rows, err := s.queryRows(ctx, query, cols, ids...)
	if err != nil {
		return nil, fmt.Errorf("select by ids from %s: %w", handle.PhysicalName, err)
	}
	return rows, nil
}

func (s *Store) columns(ctx context.Context, tableName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, columnsQuery, tableName)
	if err != nil {
		return nil, fmt.Errorf("enumerate columns of %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make([]string, 0, 8)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column names: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns in information_schema", tableName)
	}
	return cols, nil
}

func (s *Store) queryRows(ctx context.Context, query string, cols []string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func compileWhere(cond filter.Tree, start int) (string, []any, error) {
	clause, params, err := filter.Compile(cond)
	if err != nil {
		return "", nil, err
	}
	where, args := filter.Rebind(clause, params, start)
	return where, args, nil
}

// rebase recompiles the filter with placeholders numbered from one, for the
// pre-image select that shares arguments with an offset update clause.
func rebase(cond filter.Tree) (string, error) {
	clause, params, err := filter.Compile(cond)
	if err != nil {
		return "", err
	}
	where, _ := filter.Rebind(clause, params, 1)
	return where, nil
}

func sameKeys(row map[string]any, keys []string) bool {
	if len(row) != len(keys) {
		return false
	}
	for _, key := range keys {
		if _, ok := row[key]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
