package postgres

import (
	"context"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/schemachat/schemachat/internal/registry"
	"github.com/schemachat/schemachat/internal/schema"
)

func taskHandle(t *testing.T, table schema.Table) *registry.Handle {
	t.Helper()
	handle, err := registry.New().GetOrCreate(table, "todo")
	if err != nil {
		t.Fatalf("handle setup failed: %v", err)
	}
	return handle
}

func TestTableCreationScriptAutoIncrement(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns: []schema.Column{
			{Name: "title", DataType: schema.TypeString},
			{Name: "done", DataType: schema.TypeBoolean},
			{Name: "notes", DataType: schema.TypeString, Nullable: true},
			{Name: "code", DataType: schema.TypeString, Unique: true},
		},
	})

	script, err := TableCreationScript(handle)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS todo_task",
		"id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		"title TEXT NOT NULL DEFAULT ''",
		"done BOOLEAN NOT NULL DEFAULT false",
		"notes TEXT",
		"code TEXT NOT NULL DEFAULT '' UNIQUE",
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "notes TEXT NOT NULL") {
		t.Fatalf("nullable column rendered NOT NULL:\n%s", script)
	}
}

func TestTableCreationScriptUUIDKey(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyUUID,
		Columns:    []schema.Column{{Name: "title", DataType: schema.TypeString}},
	})
	script, err := TableCreationScript(handle)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if !strings.Contains(script, "id UUID PRIMARY KEY DEFAULT gen_random_uuid()") {
		t.Fatalf("script = %s", script)
	}
}

func TestTableCreationScriptExplicitDefault(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns: []schema.Column{
			{Name: "priority", DataType: schema.TypeInteger, DefaultValue: 3},
			{Name: "label", DataType: schema.TypeString, DefaultValue: "it's fine"},
		},
	})
	script, err := TableCreationScript(handle)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	if !strings.Contains(script, "priority BIGINT NOT NULL DEFAULT 3") {
		t.Fatalf("script = %s", script)
	}
	if !strings.Contains(script, "label TEXT NOT NULL DEFAULT 'it''s fine'") {
		t.Fatalf("quoting broken:\n%s", script)
	}
}

func TestEnumTypeScripts(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns: []schema.Column{
			{Name: "state", DataType: schema.TypeEnum, EnumValues: []string{"open", "done"}},
		},
	})
	scripts := EnumTypeScripts(handle)
	if len(scripts) != 1 {
		t.Fatalf("scripts = %v", scripts)
	}
	if !strings.Contains(scripts[0], "CREATE TYPE todo_task_state_enum AS ENUM ('open', 'done')") {
		t.Fatalf("script = %s", scripts[0])
	}
	if !strings.Contains(scripts[0], "duplicate_object") {
		t.Fatalf("script not idempotent: %s", scripts[0])
	}
}

func TestForeignKeyScript(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns: []schema.Column{
			{Name: "project_id", DataType: schema.TypeInteger, ForeignKey: &schema.ForeignKey{
				ReferenceTable:  "project",
				ReferenceColumn: "id",
			}},
		},
	})
	script := ForeignKeyScript(handle)
	want := "ALTER TABLE todo_task ADD CONSTRAINT fk_todo_task_project_id FOREIGN KEY (project_id) REFERENCES todo_project (id);"
	if !strings.Contains(script, want) {
		t.Fatalf("script = %s", script)
	}
}

func TestForeignKeyScriptEmptyWithoutReferences(t *testing.T) {
	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns:    []schema.Column{{Name: "title", DataType: schema.TypeString}},
	})
	if script := ForeignKeyScript(handle); script != "" {
		t.Fatalf("script = %q", script)
	}
}

func TestProvisionExecutesEnumThenTable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock setup failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	handle := taskHandle(t, schema.Table{
		Name:       "task",
		PrimaryKey: schema.PrimaryKeyAutoIncrement,
		Columns: []schema.Column{
			{Name: "state", DataType: schema.TypeEnum, EnumValues: []string{"open", "done"}},
		},
	})

	mock.ExpectExec(`CREATE TYPE todo_task_state_enum`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS todo_task`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewProvisioner(db).Provision(context.Background(), handle); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
