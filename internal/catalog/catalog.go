// Package catalog defines the metadata store for user-created applications.
// An application row is the single owned persistent artifact of the core:
// a name, a version, and the JSON-serialized table schemas that dynamic
// table handles are rebuilt from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schemachat/schemachat/internal/schema"
)

var ErrNotFound = errors.New("catalog: not found")

// ApplicationVersion is bumped when the stored application shape changes.
const ApplicationVersion = 1

type Application struct {
	ID        string
	Version   int
	Name      string
	Tables    []schema.Table
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Content strips the storage envelope down to the schema payload shared with
// the inference service.
func (a Application) Content() schema.ApplicationContent {
	return schema.ApplicationContent{Name: a.Name, Tables: a.Tables}
}

type CreateApplicationInput struct {
	Name   string
	Tables []schema.Table
}

// ApplicationID derives a deterministic id from the application's identity,
// so re-posting the same schema yields the same row id.
func ApplicationID(version int, name string, tablesJSON []byte) string {
	key := fmt.Sprintf("%d-%s-%s", version, name, tablesJSON)
	return uuid.NewMD5(uuid.NameSpaceDNS, []byte(key)).String()
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateApplication(ctx context.Context, in CreateApplicationInput) (Application, error)
	GetApplicationByName(ctx context.Context, name string) (Application, error)
	ListApplicationsByNames(ctx context.Context, names []string) ([]Application, error)
}
