package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/schemachat/schemachat/internal/catalog"
	"github.com/schemachat/schemachat/internal/registry"
	"github.com/schemachat/schemachat/internal/schema"
)

type ApplicationCatalog interface {
	CreateApplication(ctx context.Context, in catalog.CreateApplicationInput) (catalog.Application, error)
	GetApplicationByName(ctx context.Context, name string) (catalog.Application, error)
}

type applicationCreateRequest struct {
	Name   string         `json:"name"`
	Tables []schema.Table `json:"tables"`
}

func handleCreateApplication(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Provisioner == nil || deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "APPLICATIONS_NOT_CONFIGURED", "application dependencies are not configured", false, nil)
		return
	}

	var req applicationCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create application request body", false, map[string]any{"details": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	content := schema.ApplicationContent{Name: req.Name, Tables: req.Tables}
	if err := content.Validate(); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SCHEMA", err.Error(), false, nil)
		return
	}

	if _, err := deps.Catalog.GetApplicationByName(r.Context(), req.Name); err == nil {
		writeError(r.Context(), w, http.StatusConflict, "APPLICATION_EXISTS", "an application with this name already exists", false, nil)
		return
	} else if !errors.Is(err, catalog.ErrNotFound) {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to check application name", true, map[string]any{"details": err.Error()})
		return
	}

	app, err := deps.Catalog.CreateApplication(r.Context(), catalog.CreateApplicationInput{
		Name:   req.Name,
		Tables: req.Tables,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to create application", true, map[string]any{"details": err.Error()})
		return
	}

	// Tables first, foreign keys second, so references between the
	// application's tables resolve regardless of declaration order.
	handles := make([]*registry.Handle, 0, len(req.Tables))
	for _, table := range req.Tables {
		handle, err := deps.Registry.GetOrCreate(table, req.Name)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SCHEMA", err.Error(), false, nil)
			return
		}
		if err := deps.Provisioner.Provision(r.Context(), handle); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "PROVISIONING_ERROR", "failed to create application tables", true, map[string]any{"details": err.Error()})
			return
		}
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		if err := deps.Provisioner.AddForeignKeys(r.Context(), handle); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "PROVISIONING_ERROR", "failed to add foreign keys", true, map[string]any{"details": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusCreated, applicationPayload(app))
}

func handleGetApplication(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "APPLICATIONS_NOT_CONFIGURED", "application dependencies are not configured", false, nil)
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "application name path parameter is required", false, nil)
		return
	}
	app, err := deps.Catalog.GetApplicationByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "APPLICATION_NOT_FOUND", "application was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to get application", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, applicationPayload(app))
}

func applicationPayload(app catalog.Application) map[string]any {
	return map[string]any{
		"id":         app.ID,
		"version":    app.Version,
		"name":       app.Name,
		"tables":     app.Tables,
		"created_at": app.CreatedAt,
		"updated_at": app.UpdatedAt,
	}
}
