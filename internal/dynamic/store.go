// Package dynamic defines the generic row store that the command executor
// drives. Rows travel as maps keyed by column name; the store is oblivious
// to wire representations and works purely on storage-native values.
package dynamic

import (
	"context"

	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/registry"
)

// UpdateResult carries the pre- and post-images of an update. Both slices are
// index-aligned on the row id; the executor derives the reverse instruction
// from the difference.
type UpdateResult struct {
	Pre  []map[string]any
	Post []map[string]any
}

type RowStore interface {
	// Insert writes the rows and returns the storage-assigned ids together
	// with the full inserted rows as read back from the table.
	Insert(ctx context.Context, handle *registry.Handle, rows []map[string]any) ([]any, []map[string]any, error)
	// Select returns all rows matching the filter, reading in fixed-size
	// batches until an empty batch is returned.
	Select(ctx context.Context, handle *registry.Handle, cond filter.Tree) ([]map[string]any, error)
	// Delete removes all rows matching the filter and returns their
	// pre-images.
	Delete(ctx context.Context, handle *registry.Handle, cond filter.Tree) ([]map[string]any, error)
	// Update applies the update to all rows matching the filter and returns
	// the pre- and post-images of the touched rows.
	Update(ctx context.Context, handle *registry.Handle, cond filter.Tree, data map[string]any) (UpdateResult, error)
}
