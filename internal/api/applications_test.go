package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schemachat/schemachat/internal/catalog"
	"github.com/schemachat/schemachat/internal/registry"
	"github.com/schemachat/schemachat/internal/schema"
)

type fakeCatalog struct {
	apps      map[string]catalog.Application
	createErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{apps: map[string]catalog.Application{}}
}

func (f *fakeCatalog) CreateApplication(_ context.Context, in catalog.CreateApplicationInput) (catalog.Application, error) {
	if f.createErr != nil {
		return catalog.Application{}, f.createErr
	}
	app := catalog.Application{
		ID:      catalog.ApplicationID(catalog.ApplicationVersion, in.Name, nil),
		Version: catalog.ApplicationVersion,
		Name:    in.Name,
		Tables:  in.Tables,
	}
	f.apps[in.Name] = app
	return app, nil
}

func (f *fakeCatalog) GetApplicationByName(_ context.Context, name string) (catalog.Application, error) {
	app, ok := f.apps[name]
	if !ok {
		return catalog.Application{}, catalog.ErrNotFound
	}
	return app, nil
}

type fakeProvisioner struct {
	provisioned []string
	foreignKeys []string
	err         error
}

func (f *fakeProvisioner) Provision(_ context.Context, handle *registry.Handle) error {
	if f.err != nil {
		return f.err
	}
	f.provisioned = append(f.provisioned, handle.PhysicalName)
	return nil
}

func (f *fakeProvisioner) AddForeignKeys(_ context.Context, handle *registry.Handle) error {
	f.foreignKeys = append(f.foreignKeys, handle.PhysicalName)
	return nil
}

func applicationBody() string {
	payload := map[string]any{
		"name": "todo",
		"tables": []schema.Table{
			{
				Name:       "project",
				PrimaryKey: schema.PrimaryKeyAutoIncrement,
				Columns:    []schema.Column{{Name: "name", DataType: schema.TypeString}},
			},
			{
				Name:       "task",
				PrimaryKey: schema.PrimaryKeyAutoIncrement,
				Columns: []schema.Column{
					{Name: "title", DataType: schema.TypeString},
					{Name: "project_id", DataType: schema.TypeInteger, ForeignKey: &schema.ForeignKey{
						ReferenceTable:  "project",
						ReferenceColumn: "id",
					}},
				},
			},
		},
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestCreateApplicationProvisionsAllTables(t *testing.T) {
	repo := newFakeCatalog()
	prov := &fakeProvisioner{}
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     repo,
		Provisioner: prov,
		Registry:    registry.New(),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(applicationBody())))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if len(prov.provisioned) != 2 {
		t.Fatalf("provisioned = %v", prov.provisioned)
	}
	// Foreign keys run as a second pass after every table exists.
	if len(prov.foreignKeys) != 2 {
		t.Fatalf("foreign key passes = %v", prov.foreignKeys)
	}
	if _, ok := repo.apps["todo"]; !ok {
		t.Fatal("application row was not created")
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["name"] != "todo" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateApplicationRejectsDuplicateName(t *testing.T) {
	repo := newFakeCatalog()
	repo.apps["todo"] = catalog.Application{Name: "todo"}

	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     repo,
		Provisioner: &fakeProvisioner{},
		Registry:    registry.New(),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(applicationBody())))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCreateApplicationRejectsInvalidSchema(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     newFakeCatalog(),
		Provisioner: &fakeProvisioner{},
		Registry:    registry.New(),
	})

	body := `{"name":"todo","tables":[{"name":"task","primary_key":"auto_increment","columns":[]}]}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}

func TestCreateApplicationRejectsMalformedJSON(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		Catalog:     newFakeCatalog(),
		Provisioner: &fakeProvisioner{},
		Registry:    registry.New(),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(`{"name":`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGetApplication(t *testing.T) {
	repo := newFakeCatalog()
	repo.apps["todo"] = catalog.Application{ID: "abc", Name: "todo", Version: 1}

	h := NewHandler(testConfig(t), Dependencies{Catalog: repo})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/applications/todo", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] != "abc" || body["name"] != "todo" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Catalog: newFakeCatalog()})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/applications/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestApplicationsNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(applicationBody())))

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}
