// Package executor interprets the instructions emitted by the inference
// service and runs them against dynamic tables, producing for each one an
// assistant-facing message and the reverse action that undoes it.
//
// Instructions within one response execute strictly in order and commit
// independently; a failure partway leaves earlier instructions committed,
// with their reverse actions already accumulated. Batch-level atomicity is
// deliberately not provided.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/schemachat/schemachat/internal/coerce"
	"github.com/schemachat/schemachat/internal/dynamic"
	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/inference"
	"github.com/schemachat/schemachat/internal/observability"
	"github.com/schemachat/schemachat/internal/registry"
	"github.com/schemachat/schemachat/internal/schema"
)

var ErrTableNotFound = errors.New("executor: table not found")

type Executor struct {
	registry *registry.Registry
	store    dynamic.RowStore
	logger   *slog.Logger
}

func New(reg *registry.Registry, store dynamic.RowStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: reg, store: store, logger: logger}
}

// Execute runs every instruction of the response in input order. The
// returned message and reverse-action lists are index-aligned with the
// instructions. The first failing instruction aborts the batch; results of
// already-executed instructions are not rolled back.
func (e *Executor) Execute(ctx context.Context, response inference.Response) ([]inference.ChatMessage, []ReverseActionWrapper, error) {
	messages := make([]inference.ChatMessage, 0, len(response.Response))
	reversals := make([]ReverseActionWrapper, 0, len(response.Response))

	for idx, instruction := range response.Response {
		table, ok := instruction.Application.Table(instruction.TableName)
		if !ok {
			return nil, nil, fmt.Errorf("table %s not found in application %s: %w",
				instruction.TableName, instruction.Application.Name, ErrTableNotFound)
		}
		handle, err := e.registry.GetOrCreate(table, instruction.Application.Name)
		if err != nil {
			return nil, nil, err
		}

		var content string
		var rows []map[string]any
		var action ReverseAction
		switch instruction.HTTPMethod {
		case inference.MethodPost:
			content, rows, action, err = e.executePost(ctx, handle, instruction)
		case inference.MethodPut:
			content, rows, action, err = e.executePut(ctx, handle, instruction)
		case inference.MethodDelete:
			content, rows, action, err = e.executeDelete(ctx, handle, instruction)
		case inference.MethodGet:
			content, rows, action, err = e.executeGet(ctx, handle, instruction)
		default:
			err = fmt.Errorf("unsupported HTTP method: %q", instruction.HTTPMethod)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("instruction %d (%s %s): %w", idx, instruction.HTTPMethod, handle.PhysicalName, err)
		}
		observability.ObserveInstruction(string(instruction.HTTPMethod))

		messages = append(messages, inference.ChatMessage{
			Role:    inference.RoleAssistant,
			Content: content,
			Rows:    rows,
		})
		reversals = append(reversals, ReverseActionWrapper{Action: action})
	}

	return messages, reversals, nil
}

func (e *Executor) executePost(ctx context.Context, handle *registry.Handle, instruction inference.Instruction) (string, []map[string]any, ReverseAction, error) {
	typed := handle.TypedColumns()
	rows, err := coerce.Rows(instruction.InsertedRows, typed)
	if err != nil {
		return "", nil, nil, err
	}

	ids, inserted, err := e.store.Insert(ctx, handle, rows)
	if err != nil {
		return "", nil, nil, err
	}
	e.logger.InfoContext(ctx, "inserted rows",
		slog.String("table", handle.PhysicalName), slog.Int("count", len(inserted)))

	wireRows, err := coerce.WireRows(inserted, typed)
	if err != nil {
		return "", nil, nil, err
	}
	wireIDs, err := wireIDs(ids, typed)
	if err != nil {
		return "", nil, nil, err
	}

	content := fmt.Sprintf("The following row(s) has been inserted into the %s table of %s:",
		handle.Table.Name, handle.Application)
	action := ReverseDelete{IDs: wireIDs, TargetTable: handle.Table, ApplicationName: handle.Application}
	return content, wireRows, action, nil
}

func (e *Executor) executePut(ctx context.Context, handle *registry.Handle, instruction inference.Instruction) (string, []map[string]any, ReverseAction, error) {
	typed := handle.TypedColumns()
	cond, err := coerce.FilterTree(instruction.FilterConditions, typed)
	if err != nil {
		return "", nil, nil, err
	}
	data, err := coerce.Update(instruction.UpdatedData, typed)
	if err != nil {
		return "", nil, nil, err
	}

	result, err := e.store.Update(ctx, handle, cond, data)
	if err != nil {
		return "", nil, nil, err
	}
	e.logger.InfoContext(ctx, "updated rows",
		slog.String("table", handle.PhysicalName), slog.Int("count", len(result.Post)))

	reverseFilter, reverseData, err := buildUpdateReverse(result, data, typed)
	if err != nil {
		return "", nil, nil, err
	}
	wireRows, err := coerce.WireRows(result.Post, typed)
	if err != nil {
		return "", nil, nil, err
	}

	var content string
	if instruction.FilterConditions.Empty() {
		content = fmt.Sprintf("All the %d row(s) have been updated in the %s table of %s:",
			len(wireRows), handle.Table.Name, handle.Application)
	} else {
		content = fmt.Sprintf("The following %d row(s) have been updated in the %s table of %s by filtering %s:",
			len(wireRows), handle.Table.Name, handle.Application, filter.Describe(instruction.FilterConditions))
	}
	action := ReverseUpdate{
		ReverseFilterConditions: reverseFilter,
		ReverseUpdatedData:      reverseData,
		TargetTable:             handle.Table,
		ApplicationName:         handle.Application,
	}
	return content, wireRows, action, nil
}

func (e *Executor) executeDelete(ctx context.Context, handle *registry.Handle, instruction inference.Instruction) (string, []map[string]any, ReverseAction, error) {
	typed := handle.TypedColumns()
	cond, err := coerce.FilterTree(instruction.FilterConditions, typed)
	if err != nil {
		return "", nil, nil, err
	}

	deleted, err := e.store.Delete(ctx, handle, cond)
	if err != nil {
		return "", nil, nil, err
	}
	e.logger.InfoContext(ctx, "deleted rows",
		slog.String("table", handle.PhysicalName), slog.Int("count", len(deleted)))

	wireRows, err := coerce.WireRows(deleted, typed)
	if err != nil {
		return "", nil, nil, err
	}

	var content string
	if instruction.FilterConditions.Empty() {
		content = fmt.Sprintf("All the %d row(s) have been deleted from the %s table of %s:",
			len(wireRows), handle.Table.Name, handle.Application)
	} else {
		content = fmt.Sprintf("The following %d row(s) have been deleted from the %s table of %s by filtering %s:",
			len(wireRows), handle.Table.Name, handle.Application, filter.Describe(instruction.FilterConditions))
	}
	action := ReversePost{DeletedData: wireRows, TargetTable: handle.Table, ApplicationName: handle.Application}
	return content, wireRows, action, nil
}

func (e *Executor) executeGet(ctx context.Context, handle *registry.Handle, instruction inference.Instruction) (string, []map[string]any, ReverseAction, error) {
	typed := handle.TypedColumns()
	cond, err := coerce.FilterTree(instruction.FilterConditions, typed)
	if err != nil {
		return "", nil, nil, err
	}

	rows, err := e.store.Select(ctx, handle, cond)
	if err != nil {
		return "", nil, nil, err
	}
	wireRows, err := coerce.WireRows(rows, typed)
	if err != nil {
		return "", nil, nil, err
	}

	var content string
	if instruction.FilterConditions.Empty() {
		content = fmt.Sprintf("All the %d row(s) have been retrieved from the %s table of %s:",
			len(wireRows), handle.Table.Name, handle.Application)
	} else {
		content = fmt.Sprintf("The following row(s) have been retrieved from the %s table of %s by filtering %s:",
			handle.Table.Name, handle.Application, filter.Describe(instruction.FilterConditions))
	}
	return content, wireRows, ReverseGet{}, nil
}

// Reverse applies one popped reverse action. Get and clarification markers
// return immediately; the rest replay the stored inverse against the table
// schema snapshotted in the action.
func (e *Executor) Reverse(ctx context.Context, wrapper ReverseActionWrapper) error {
	if wrapper.Action == nil {
		return fmt.Errorf("reverse action wrapper has no action")
	}
	observability.ObserveReversal(string(wrapper.Action.Type()))

	switch action := wrapper.Action.(type) {
	case ReverseGet, ReverseClarification:
		return nil
	case ReverseDelete:
		return e.reverseWithDelete(ctx, action)
	case ReversePost:
		return e.reverseWithPost(ctx, action)
	case ReverseUpdate:
		return e.reverseWithPut(ctx, action)
	default:
		return fmt.Errorf("unknown reverse action type %T", wrapper.Action)
	}
}

func (e *Executor) reverseWithDelete(ctx context.Context, action ReverseDelete) error {
	handle, err := e.registry.GetOrCreate(action.TargetTable, action.ApplicationName)
	if err != nil {
		return err
	}
	typed := handle.TypedColumns()
	cond, err := coerce.FilterTree(filter.Tree{
		Root: filter.Leaf{Column: "id", Operator: filter.OpIn, Value: action.IDs},
	}, typed)
	if err != nil {
		return err
	}
	deleted, err := e.store.Delete(ctx, handle, cond)
	if err != nil {
		return err
	}
	if len(deleted) != len(action.IDs) {
		e.logger.WarnContext(ctx, "reversal deleted fewer rows than recorded",
			slog.String("table", handle.PhysicalName),
			slog.Int("expected", len(action.IDs)), slog.Int("deleted", len(deleted)))
	}
	return nil
}

func (e *Executor) reverseWithPost(ctx context.Context, action ReversePost) error {
	handle, err := e.registry.GetOrCreate(action.TargetTable, action.ApplicationName)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(action.DeletedData))
	for _, row := range action.DeletedData {
		copied := make(map[string]any, len(row))
		for key, value := range row {
			copied[key] = value
		}
		// Audit timestamps are server-managed and regenerated on insert.
		for _, audit := range schema.AuditColumns {
			delete(copied, audit)
		}
		rows = append(rows, copied)
	}
	coerced, err := coerce.Rows(rows, handle.TypedColumns())
	if err != nil {
		return err
	}
	_, _, err = e.store.Insert(ctx, handle, coerced)
	return err
}

func (e *Executor) reverseWithPut(ctx context.Context, action ReverseUpdate) error {
	// An update that matched no rows or changed no values has nothing to
	// restore; applying it must not fail, or the rest of the stack becomes
	// unreachable.
	if len(action.ReverseUpdatedData) == 0 {
		return nil
	}
	handle, err := e.registry.GetOrCreate(action.TargetTable, action.ApplicationName)
	if err != nil {
		return err
	}
	typed := handle.TypedColumns()
	cond, err := coerce.FilterTree(action.ReverseFilterConditions, typed)
	if err != nil {
		return err
	}
	data, err := coerce.Update(action.ReverseUpdatedData, typed)
	if err != nil {
		return err
	}
	_, err = e.store.Update(ctx, handle, cond, data)
	return err
}

// buildUpdateReverse derives the inverse of an update: an OR-of-equality
// filter over exactly the updated rows' ids, and the subset of updated
// fields whose value actually changed in at least one row. updated_at is a
// derived audit field and never part of the reverse data. When pre-images
// diverge across rows, the first row's value is restored for all.
func buildUpdateReverse(result dynamic.UpdateResult, data map[string]any, typed map[string]schema.DataType) (filter.Tree, map[string]any, error) {
	conditions := make([]filter.Condition, 0, len(result.Pre))
	for _, row := range result.Pre {
		id, err := wireValue(row["id"], "id", typed)
		if err != nil {
			return filter.Tree{}, nil, err
		}
		conditions = append(conditions, filter.Leaf{Column: "id", Operator: filter.OpEqual, Value: id})
	}
	reverseFilter := filter.Tree{Root: filter.Group{Clause: filter.ClauseOr, Conditions: conditions}}

	reverseData := make(map[string]any)
	for key := range data {
		if key == "updated_at" {
			continue
		}
		changed := false
		for idx := range result.Post {
			if idx >= len(result.Pre) {
				break
			}
			if !valuesEqual(result.Pre[idx][key], result.Post[idx][key]) {
				changed = true
				break
			}
		}
		if changed && len(result.Pre) > 0 {
			reverseData[key] = result.Pre[0][key]
		}
	}
	wireData, err := coerce.WireUpdate(reverseData, typed)
	if err != nil {
		return filter.Tree{}, nil, err
	}
	return reverseFilter, wireData, nil
}

func wireIDs(ids []any, typed map[string]schema.DataType) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		value, err := wireValue(id, "id", typed)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func wireValue(value any, column string, typed map[string]schema.DataType) (any, error) {
	dataType, ok := typed[column]
	if !ok {
		return value, nil
	}
	return coerce.ToWire(value, dataType)
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	return reflect.DeepEqual(a, b)
}
