// Package registry maps (application, table) pairs to reusable handles for
// the dynamic row store. Handles are built once per process from the stored
// schema and cached; the physical table already exists, created at
// application provisioning time.
package registry

import (
	"fmt"
	"sync"

	"github.com/schemachat/schemachat/internal/schema"
)

// Handle describes one dynamic table well enough for generic CRUD: its
// physical name, declared columns, and primary key strategy. Handles are
// immutable once created.
type Handle struct {
	Application  string
	Table        schema.Table
	PhysicalName string
	PrimaryKey   schema.PrimaryKey
}

// PhysicalName builds the globally unique storage-level table name for an
// application table.
func PhysicalName(applicationName, tableName string) string {
	return applicationName + "_" + tableName
}

// EnumTypeName scopes a storage-level enum type to one table column so enum
// definitions never collide across applications.
func (h *Handle) EnumTypeName(columnName string) string {
	return h.PhysicalName + "_" + columnName + "_enum"
}

// TypedColumns lists the columns whose wire and storage representations
// differ. The implicit id column is included for uuid-keyed tables and the
// audit timestamps are always datetime regardless of the logical schema.
func (h *Handle) TypedColumns() map[string]schema.DataType {
	typed := make(map[string]schema.DataType)
	for _, col := range h.Table.Columns {
		switch col.DataType {
		case schema.TypeDate, schema.TypeDatetime, schema.TypeUUID:
			typed[col.Name] = col.DataType
		}
	}
	if h.PrimaryKey == schema.PrimaryKeyUUID {
		typed["id"] = schema.TypeUUID
	}
	for _, name := range schema.AuditColumns {
		typed[name] = schema.TypeDatetime
	}
	return typed
}

// HasColumn reports whether name is addressable on this table, counting the
// implicit id and audit columns.
func (h *Handle) HasColumn(name string) bool {
	if name == "id" {
		return true
	}
	for _, audit := range schema.AuditColumns {
		if name == audit {
			return true
		}
	}
	_, ok := h.Table.Column(name)
	return ok
}

// Registry is the process-wide handle cache. Entries are write-once; lookups
// after the first return the identical handle.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func New() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// GetOrCreate returns the cached handle for the table, building and caching
// it on first use. Building fails fast on an invalid primary key strategy or
// an empty column list; unknown column data types are tolerated here and
// degrade to string-like handling downstream.
func (r *Registry) GetOrCreate(table schema.Table, applicationName string) (*Handle, error) {
	physicalName := PhysicalName(applicationName, table.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[physicalName]; ok {
		return handle, nil
	}

	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table.Name)
	}
	primaryKey, err := table.EffectivePrimaryKey()
	if err != nil {
		return nil, err
	}

	handle := &Handle{
		Application:  applicationName,
		Table:        table,
		PhysicalName: physicalName,
		PrimaryKey:   primaryKey,
	}
	r.handles[physicalName] = handle
	return handle, nil
}
