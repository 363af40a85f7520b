package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/schemachat/schemachat/internal/catalog"
	"github.com/schemachat/schemachat/internal/schema"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metadata db: %w", err)
	}
	return nil
}

func (r *Repository) CreateApplication(ctx context.Context, in catalog.CreateApplicationInput) (catalog.Application, error) {
	tablesJSON, err := json.Marshal(in.Tables)
	if err != nil {
		return catalog.Application{}, fmt.Errorf("marshal application tables: %w", err)
	}

	app := catalog.Application{
		ID:      catalog.ApplicationID(catalog.ApplicationVersion, in.Name, tablesJSON),
		Version: catalog.ApplicationVersion,
		Name:    in.Name,
		Tables:  in.Tables,
	}

	query := `
INSERT INTO application (id, version, name, tables)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query, app.ID, app.Version, app.Name, string(tablesJSON)).
		Scan(&app.CreatedAt, &app.UpdatedAt); err != nil {
		return catalog.Application{}, fmt.Errorf("create application: %w", err)
	}
	return app, nil
}

func (r *Repository) GetApplicationByName(ctx context.Context, name string) (catalog.Application, error) {
	query := `
SELECT id, version, name, tables, created_at, updated_at
FROM application
WHERE name = $1`

	var app catalog.Application
	var tablesJSON []byte
	if err := r.db.QueryRowContext(ctx, query, name).Scan(
		&app.ID,
		&app.Version,
		&app.Name,
		&tablesJSON,
		&app.CreatedAt,
		&app.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Application{}, catalog.ErrNotFound
		}
		return catalog.Application{}, fmt.Errorf("get application by name: %w", err)
	}
	if err := json.Unmarshal(tablesJSON, &app.Tables); err != nil {
		return catalog.Application{}, fmt.Errorf("decode application tables: %w", err)
	}
	return app, nil
}

func (r *Repository) ListApplicationsByNames(ctx context.Context, names []string) ([]catalog.Application, error) {
	if len(names) == 0 {
		return []catalog.Application{}, nil
	}

	placeholders := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for idx, name := range names {
		placeholders = append(placeholders, fmt.Sprintf("$%d", idx+1))
		args = append(args, name)
	}
	query := fmt.Sprintf(`
SELECT id, version, name, tables, created_at, updated_at
FROM application
WHERE name IN (%s)
ORDER BY name ASC`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	apps := make([]catalog.Application, 0, len(names))
	for rows.Next() {
		var app catalog.Application
		var tablesJSON []byte
		if err := rows.Scan(
			&app.ID,
			&app.Version,
			&app.Name,
			&tablesJSON,
			&app.CreatedAt,
			&app.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan application row: %w", err)
		}
		var tables []schema.Table
		if err := json.Unmarshal(tablesJSON, &tables); err != nil {
			return nil, fmt.Errorf("decode application tables: %w", err)
		}
		app.Tables = tables
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate application rows: %w", err)
	}
	return apps, nil
}
