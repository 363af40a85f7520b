// Package schema holds the user-defined table model that applications are
// built from. An application is a named set of tables; each table is declared
// once at application creation time and never migrated in place.
package schema

import (
	"fmt"
	"strings"
	"time"
)

type DataType string

const (
	TypeString   DataType = "string"
	TypeInteger  DataType = "integer"
	TypeFloat    DataType = "float"
	TypeBoolean  DataType = "boolean"
	TypeDate     DataType = "date"
	TypeDatetime DataType = "datetime"
	TypeUUID     DataType = "uuid"
	TypeEnum     DataType = "enum"
)

func (d DataType) Valid() bool {
	switch d {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeDatetime, TypeUUID, TypeEnum:
		return true
	default:
		return false
	}
}

type PrimaryKey string

const (
	PrimaryKeyNone          PrimaryKey = "none"
	PrimaryKeyAutoIncrement PrimaryKey = "auto_increment"
	PrimaryKeyUUID          PrimaryKey = "uuid"
)

type ForeignKey struct {
	ReferenceTable  string `json:"reference_table"`
	ReferenceColumn string `json:"reference_column"`
}

type Column struct {
	Name         string      `json:"name"`
	DataType     DataType    `json:"data_type"`
	Nullable     bool        `json:"nullable"`
	PrimaryKey   PrimaryKey  `json:"primary_key,omitempty"`
	DefaultValue any         `json:"default_value,omitempty"`
	Unique       bool        `json:"unique,omitempty"`
	EnumValues   []string    `json:"enum_values,omitempty"`
	ForeignKey   *ForeignKey `json:"foreign_key,omitempty"`
}

type Table struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Columns     []Column   `json:"columns"`
	PrimaryKey  PrimaryKey `json:"primary_key"`
}

// ApplicationContent is the schema payload shared with the inference service
// so it can reason about valid table and column names.
type ApplicationContent struct {
	Name   string  `json:"name"`
	Tables []Table `json:"tables"`
}

// AuditColumns are added to every dynamic table at creation time and are
// treated as datetime columns everywhere, whether or not the logical schema
// declares them.
var AuditColumns = []string{"created_at", "updated_at"}

// EffectivePrimaryKey resolves the table's primary key strategy. A column may
// carry the designation itself; otherwise the table-level strategy applies to
// the implicit id column.
func (t Table) EffectivePrimaryKey() (PrimaryKey, error) {
	designated := ""
	strategy := t.PrimaryKey
	for _, col := range t.Columns {
		if col.PrimaryKey == "" || col.PrimaryKey == PrimaryKeyNone {
			continue
		}
		if designated != "" {
			return "", fmt.Errorf("table %s: multiple primary key columns (%s, %s)", t.Name, designated, col.Name)
		}
		designated = col.Name
		strategy = col.PrimaryKey
	}
	switch strategy {
	case PrimaryKeyAutoIncrement, PrimaryKeyUUID:
		return strategy, nil
	default:
		return "", fmt.Errorf("table %s: unsupported primary key strategy: %q", t.Name, strategy)
	}
}

// Column returns the declared column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: at least one column is required", t.Name)
	}
	if _, err := t.EffectivePrimaryKey(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("table %s: column name is required", t.Name)
		}
		if _, ok := seen[col.Name]; ok {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, col.Name)
		}
		seen[col.Name] = struct{}{}
		if !col.DataType.Valid() {
			return fmt.Errorf("table %s: column %s: unknown data type %q", t.Name, col.Name, col.DataType)
		}
		if col.DataType == TypeEnum && len(col.EnumValues) == 0 {
			return fmt.Errorf("table %s: column %s: enum columns require enum_values", t.Name, col.Name)
		}
		if col.ForeignKey != nil && (col.ForeignKey.ReferenceTable == "" || col.ForeignKey.ReferenceColumn == "") {
			return fmt.Errorf("table %s: column %s: foreign key requires reference table and column", t.Name, col.Name)
		}
	}
	return nil
}

func (a ApplicationContent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("application name is required")
	}
	if len(a.Tables) == 0 {
		return fmt.Errorf("application %s: at least one table is required", a.Name)
	}
	for _, table := range a.Tables {
		if err := table.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Table returns the declared table with the given name.
func (a ApplicationContent) Table(name string) (Table, bool) {
	for _, table := range a.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// DefaultFor derives the storage default applied when a non-nullable column
// is declared without an explicit default. Nullable columns default to NULL.
func DefaultFor(dataType DataType, nullable bool) any {
	if nullable {
		return nil
	}
	switch dataType {
	case TypeInteger:
		return 0
	case TypeFloat:
		return 0.0
	case TypeBoolean:
		return false
	case TypeDate, TypeDatetime:
		return time.Unix(0, 0).UTC()
	default:
		return ""
	}
}
