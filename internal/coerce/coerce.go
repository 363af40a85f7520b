// Package coerce converts values between their wire representation (JSON-safe
// scalars) and their storage representation (native temporal and UUID types).
// Instructions and responses travel over a JSON-only channel, so coercion
// runs inbound before any filter or write reaches the row store and outbound
// before rows or filter echoes are returned to the caller.
package coerce

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/schema"
)

const dateLayout = "2006-01-02"

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// ToStorage converts a wire value to its storage-native form for the given
// column type. Nil and empty values pass through untouched, as do values for
// column types with identical wire and storage forms.
func ToStorage(value any, dataType schema.DataType) (any, error) {
	if empty(value) {
		return value, nil
	}
	switch dataType {
	case schema.TypeDatetime:
		return parseTime(value)
	case schema.TypeDate:
		parsed, err := parseTime(value)
		if err != nil {
			return nil, err
		}
		year, month, day := parsed.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
	case schema.TypeUUID:
		return parseUUID(value)
	default:
		return value, nil
	}
}

// ToWire converts a storage-native value back to its JSON-safe form.
func ToWire(value any, dataType schema.DataType) (any, error) {
	if empty(value) {
		return value, nil
	}
	switch dataType {
	case schema.TypeDatetime:
		if ts, ok := value.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339), nil
		}
		return value, nil
	case schema.TypeDate:
		if ts, ok := value.(time.Time); ok {
			return ts.Format(dateLayout), nil
		}
		return value, nil
	case schema.TypeUUID:
		id, err := parseUUID(value)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	default:
		return value, nil
	}
}

// Rows coerces every typed column of every row to storage form, in place on
// fresh copies. rows and the returned slice share no maps.
func Rows(rows []map[string]any, typed map[string]schema.DataType) ([]map[string]any, error) {
	return mapRows(rows, typed, ToStorage)
}

// WireRows coerces every typed column of every row back to wire form.
func WireRows(rows []map[string]any, typed map[string]schema.DataType) ([]map[string]any, error) {
	return mapRows(rows, typed, ToWire)
}

// Update coerces a flat update dictionary to storage form.
func Update(data map[string]any, typed map[string]schema.DataType) (map[string]any, error) {
	return mapValues(data, typed, ToStorage)
}

// WireUpdate coerces a flat update dictionary back to wire form.
func WireUpdate(data map[string]any, typed map[string]schema.DataType) (map[string]any, error) {
	return mapValues(data, typed, ToWire)
}

// FilterTree coerces every leaf whose column is typed to storage form.
// IN lists are coerced element-wise.
func FilterTree(t filter.Tree, typed map[string]schema.DataType) (filter.Tree, error) {
	return transformTree(t, typed, ToStorage)
}

// WireFilterTree coerces a filter tree back to wire form before it is echoed
// to the caller inside a reverse action.
func WireFilterTree(t filter.Tree, typed map[string]schema.DataType) (filter.Tree, error) {
	return transformTree(t, typed, ToWire)
}

func transformTree(t filter.Tree, typed map[string]schema.DataType, convert func(any, schema.DataType) (any, error)) (filter.Tree, error) {
	return filter.Transform(t, func(leaf filter.Leaf) (filter.Leaf, error) {
		dataType, ok := typed[leaf.Column]
		if !ok {
			return leaf, nil
		}
		if values, isList := leaf.Value.([]any); isList {
			converted := make([]any, 0, len(values))
			for _, value := range values {
				item, err := convert(value, dataType)
				if err != nil {
					return filter.Leaf{}, fmt.Errorf("column %s: %w", leaf.Column, err)
				}
				converted = append(converted, item)
			}
			leaf.Value = converted
			return leaf, nil
		}
		value, err := convert(leaf.Value, dataType)
		if err != nil {
			return filter.Leaf{}, fmt.Errorf("column %s: %w", leaf.Column, err)
		}
		leaf.Value = value
		return leaf, nil
	})
}

func mapRows(rows []map[string]any, typed map[string]schema.DataType, convert func(any, schema.DataType) (any, error)) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for idx, row := range rows {
		converted, err := mapValues(row, typed, convert)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}
		out = append(out, converted)
	}
	return out, nil
}

func mapValues(data map[string]any, typed map[string]schema.DataType, convert func(any, schema.DataType) (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		dataType, ok := typed[key]
		if !ok {
			out[key] = value
			continue
		}
		converted, err := convert(value, dataType)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", key, err)
		}
		out[key] = converted
	}
	return out, nil
}

func parseTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", value)
	}
}

func parseUUID(value any) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("unparseable uuid %q: %w", v, err)
		}
		return id, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("unparseable uuid bytes: %w", err)
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("unexpected uuid type %T", value)
	}
}

func empty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}
