package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/schemachat/schemachat/internal/registry"
	"github.com/schemachat/schemachat/internal/schema"
)

// Provisioner creates the physical tables behind an application: one enum
// type per enum column, the table itself with audit columns, and a second
// pass for foreign keys so tables can reference each other regardless of
// creation order.
type Provisioner struct {
	db *sql.DB
}

func NewProvisioner(db *sql.DB) *Provisioner {
	return &Provisioner{db: db}
}

func (p *Provisioner) Provision(ctx context.Context, handle *registry.Handle) error {
	for _, script := range EnumTypeScripts(handle) {
		if _, err := p.db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("create enum type for %s: %w", handle.PhysicalName, err)
		}
	}
	script, err := TableCreationScript(handle)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("create table %s: %w", handle.PhysicalName, err)
	}
	return nil
}

func (p *Provisioner) AddForeignKeys(ctx context.Context, handle *registry.Handle) error {
	script := ForeignKeyScript(handle)
	if script == "" {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("add foreign keys to %s: %w", handle.PhysicalName, err)
	}
	return nil
}

// EnumTypeScripts returns one idempotent CREATE TYPE statement per enum
// column, scoped by table and column name.
func EnumTypeScripts(handle *registry.Handle) []string {
	scripts := make([]string, 0)
	for _, col := range handle.Table.Columns {
		if col.DataType != schema.TypeEnum {
			continue
		}
		values := make([]string, 0, len(col.EnumValues))
		for _, value := range col.EnumValues {
			values = append(values, quoteLiteral(value))
		}
		scripts = append(scripts, fmt.Sprintf(
			"DO $$ BEGIN CREATE TYPE %s AS ENUM (%s); EXCEPTION WHEN duplicate_object THEN NULL; END $$;",
			handle.EnumTypeName(col.Name), strings.Join(values, ", ")))
	}
	return scripts
}

// TableCreationScript renders the CREATE TABLE statement for a dynamic
// table: the primary key column per strategy, the declared columns, and the
// audit timestamps.
func TableCreationScript(handle *registry.Handle) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", handle.PhysicalName)

	switch handle.PrimaryKey {
	case schema.PrimaryKeyAutoIncrement:
		// BY DEFAULT, not ALWAYS: reversing a DELETE re-inserts rows with
		// their original ids.
		b.WriteString("    id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")
	case schema.PrimaryKeyUUID:
		b.WriteString("    id UUID PRIMARY KEY DEFAULT gen_random_uuid()")
	default:
		return "", fmt.Errorf("table %s: unsupported primary key strategy: %q", handle.Table.Name, handle.PrimaryKey)
	}

	for _, col := range handle.Table.Columns {
		if col.Name == "id" {
			continue
		}
		b.WriteString(",\n    ")
		b.WriteString(col.Name)
		b.WriteString(" ")
		b.WriteString(sqlType(handle, col))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if literal, ok := defaultLiteral(col); ok {
			fmt.Fprintf(&b, " DEFAULT %s", literal)
		}
		if col.Unique {
			b.WriteString(" UNIQUE")
		}
	}

	b.WriteString(",\n    created_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	b.WriteString(",\n    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()")
	b.WriteString("\n);")
	return b.String(), nil
}

// ForeignKeyScript renders the ALTER TABLE statements adding foreign key
// constraints, or "" when the table declares none. Referenced tables belong
// to the same application and carry the same physical name prefix.
func ForeignKeyScript(handle *registry.Handle) string {
	var b strings.Builder
	for _, col := range handle.Table.Columns {
		if col.ForeignKey == nil {
			continue
		}
		referenced := registry.PhysicalName(handle.Application, col.ForeignKey.ReferenceTable)
		fmt.Fprintf(&b,
			"ALTER TABLE %s ADD CONSTRAINT fk_%s_%s FOREIGN KEY (%s) REFERENCES %s (%s);\n",
			handle.PhysicalName, handle.PhysicalName, col.Name, col.Name, referenced, col.ForeignKey.ReferenceColumn)
	}
	return b.String()
}

// sqlType maps a declared data type to its Postgres type. Unknown types fall
// back to TEXT; this is a compatibility shim, not silent narrowing, since no
// conversion is applied at write time.
func sqlType(handle *registry.Handle, col schema.Column) string {
	switch col.DataType {
	case schema.TypeString:
		return "TEXT"
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDatetime:
		return "TIMESTAMPTZ"
	case schema.TypeUUID:
		return "UUID"
	case schema.TypeEnum:
		return handle.EnumTypeName(col.Name)
	default:
		return "TEXT"
	}
}

func defaultLiteral(col schema.Column) (string, bool) {
	value := col.DefaultValue
	if value == nil {
		if col.Nullable {
			return "", false
		}
		value = schema.DefaultFor(col.DataType, col.Nullable)
	}
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return quoteLiteral(v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case float64:
		return fmt.Sprintf("%g", v), true
	case time.Time:
		return quoteLiteral(v.UTC().Format(time.RFC3339)), true
	default:
		return quoteLiteral(fmt.Sprintf("%v", v)), true
	}
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
