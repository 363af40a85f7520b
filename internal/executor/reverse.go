package executor

import (
	"encoding/json"
	"fmt"

	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/schema"
)

type ActionType string

const (
	ActionDelete        ActionType = "delete"
	ActionUpdate        ActionType = "update"
	ActionPost          ActionType = "post"
	ActionGet           ActionType = "get"
	ActionClarification ActionType = "clarification"
)

// ReverseAction is the precomputed inverse of one executed instruction.
// Actions embed the table schema as it was when the original instruction
// ran, so a reversal never resolves against a since-mutated schema.
type ReverseAction interface {
	Type() ActionType
}

// ReverseDelete undoes a POST by deleting the inserted rows by id. Ids are
// stored in wire form; string ids are parsed back to UUIDs at apply time.
type ReverseDelete struct {
	IDs             []any
	TargetTable     schema.Table
	ApplicationName string
}

// ReverseUpdate undoes a PUT by applying the opposite update to exactly the
// rows the original touched.
type ReverseUpdate struct {
	ReverseFilterConditions filter.Tree
	ReverseUpdatedData      map[string]any
	TargetTable             schema.Table
	ApplicationName         string
}

// ReversePost undoes a DELETE by re-inserting the deleted rows. Audit
// timestamps are stripped before insertion and regenerated by the store.
type ReversePost struct {
	DeletedData     []map[string]any
	TargetTable     schema.Table
	ApplicationName string
}

// ReverseGet is a no-op: reads have no side effect to undo.
type ReverseGet struct{}

// ReverseClarification is a no-op marker for turns that produced no
// instructions.
type ReverseClarification struct{}

func (ReverseDelete) Type() ActionType        { return ActionDelete }
func (ReverseUpdate) Type() ActionType        { return ActionUpdate }
func (ReversePost) Type() ActionType          { return ActionPost }
func (ReverseGet) Type() ActionType           { return ActionGet }
func (ReverseClarification) Type() ActionType { return ActionClarification }

// ReverseActionWrapper carries a ReverseAction across the JSON boundary,
// discriminated by the embedded action_type field. The reversal stack the
// caller persists between turns is a list of wrappers.
type ReverseActionWrapper struct {
	Action ReverseAction
}

type actionEnvelope struct {
	ActionType              ActionType       `json:"action_type"`
	IDs                     []any            `json:"ids,omitempty"`
	ReverseFilterConditions *filter.Tree     `json:"reverse_filter_conditions,omitempty"`
	ReverseUpdatedData      map[string]any   `json:"reverse_updated_data,omitempty"`
	DeletedData             []map[string]any `json:"deleted_data,omitempty"`
	TargetTable             *schema.Table    `json:"target_table,omitempty"`
	ApplicationName         string           `json:"application_name,omitempty"`
}

func (w ReverseActionWrapper) MarshalJSON() ([]byte, error) {
	if w.Action == nil {
		return nil, fmt.Errorf("reverse action wrapper has no action")
	}

	envelope := actionEnvelope{ActionType: w.Action.Type()}
	switch action := w.Action.(type) {
	case ReverseDelete:
		envelope.IDs = action.IDs
		envelope.TargetTable = &action.TargetTable
		envelope.ApplicationName = action.ApplicationName
	case ReverseUpdate:
		tree := action.ReverseFilterConditions
		envelope.ReverseFilterConditions = &tree
		envelope.ReverseUpdatedData = action.ReverseUpdatedData
		envelope.TargetTable = &action.TargetTable
		envelope.ApplicationName = action.ApplicationName
	case ReversePost:
		envelope.DeletedData = action.DeletedData
		envelope.TargetTable = &action.TargetTable
		envelope.ApplicationName = action.ApplicationName
	case ReverseGet, ReverseClarification:
	default:
		return nil, fmt.Errorf("unknown reverse action type %T", w.Action)
	}

	return json.Marshal(map[string]any{"action": envelope})
}

func (w *ReverseActionWrapper) UnmarshalJSON(data []byte) error {
	var outer struct {
		Action actionEnvelope `json:"action"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("decode reverse action: %w", err)
	}
	envelope := outer.Action

	switch envelope.ActionType {
	case ActionDelete:
		if envelope.TargetTable == nil {
			return fmt.Errorf("delete reverse action is missing target_table")
		}
		w.Action = ReverseDelete{
			IDs:             envelope.IDs,
			TargetTable:     *envelope.TargetTable,
			ApplicationName: envelope.ApplicationName,
		}
	case ActionUpdate:
		if envelope.TargetTable == nil {
			return fmt.Errorf("update reverse action is missing target_table")
		}
		action := ReverseUpdate{
			ReverseUpdatedData: envelope.ReverseUpdatedData,
			TargetTable:        *envelope.TargetTable,
			ApplicationName:    envelope.ApplicationName,
		}
		if envelope.ReverseFilterConditions != nil {
			action.ReverseFilterConditions = *envelope.ReverseFilterConditions
		}
		w.Action = action
	case ActionPost:
		if envelope.TargetTable == nil {
			return fmt.Errorf("post reverse action is missing target_table")
		}
		w.Action = ReversePost{
			DeletedData:     envelope.DeletedData,
			TargetTable:     *envelope.TargetTable,
			ApplicationName: envelope.ApplicationName,
		}
	case ActionGet:
		w.Action = ReverseGet{}
	case ActionClarification:
		w.Action = ReverseClarification{}
	default:
		return fmt.Errorf("unknown reverse action type: %q", envelope.ActionType)
	}
	return nil
}
