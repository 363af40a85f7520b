package filter

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCompileEmptyTreeIsTrue(t *testing.T) {
	clause, params, err := Compile(Tree{})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "TRUE" {
		t.Fatalf("clause = %q", clause)
	}
	if len(params) != 0 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileEmptyGroupIsTrue(t *testing.T) {
	clause, _, err := Compile(Tree{Root: Group{Clause: ClauseAnd}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "TRUE" {
		t.Fatalf("clause = %q", clause)
	}
}

func TestCompileLeaf(t *testing.T) {
	clause, params, err := Compile(Tree{Root: Leaf{Column: "age", Operator: OpGreater, Value: 30}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "age > :p" {
		t.Fatalf("clause = %q", clause)
	}
	if params["p"] != 30 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileNestedGroupsDeriveDistinctPrefixes(t *testing.T) {
	tree := Tree{Root: Group{Clause: ClauseAnd, Conditions: []Condition{
		Leaf{Column: "name", Operator: OpEqual, Value: "ada"},
		Group{Clause: ClauseOr, Conditions: []Condition{
			Leaf{Column: "age", Operator: OpLess, Value: 18},
			Leaf{Column: "age", Operator: OpGreater, Value: 65},
		}},
	}}}

	clause, params, err := Compile(tree)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	want := "(name = :p_0 AND (age < :p_1_0 OR age > :p_1_1))"
	if clause != want {
		t.Fatalf("clause = %q, want %q", clause, want)
	}
	if len(params) != 3 {
		t.Fatalf("params = %v", params)
	}
	if params["p_0"] != "ada" || params["p_1_0"] != 18 || params["p_1_1"] != 65 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileSingleChildGroupDropsParens(t *testing.T) {
	tree := Tree{Root: Group{Clause: ClauseOr, Conditions: []Condition{
		Leaf{Column: "done", Operator: OpEqual, Value: true},
	}}}
	clause, _, err := Compile(tree)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "done = :p_0" {
		t.Fatalf("clause = %q", clause)
	}
}

func TestCompileInExpandsPerElement(t *testing.T) {
	tree := Tree{Root: Leaf{Column: "id", Operator: OpIn, Value: []any{1, 2, 3}}}
	clause, params, err := Compile(tree)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "id IN (:p_0, :p_1, :p_2)" {
		t.Fatalf("clause = %q", clause)
	}
	if len(params) != 3 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileEmptyInMatchesNothing(t *testing.T) {
	clause, params, err := Compile(Tree{Root: Leaf{Column: "id", Operator: OpIn, Value: []any{}}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "FALSE" {
		t.Fatalf("clause = %q", clause)
	}
	if len(params) != 0 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileIsNotNull(t *testing.T) {
	clause, params, err := Compile(Tree{Root: Leaf{Column: "email", Operator: OpIsNot, Value: nil}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "email IS NOT NULL" {
		t.Fatalf("clause = %q", clause)
	}
	if len(params) != 0 {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileIsNotValueBecomesNotEqual(t *testing.T) {
	clause, params, err := Compile(Tree{Root: Leaf{Column: "state", Operator: OpIsNot, Value: "open"}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if clause != "state != :p" {
		t.Fatalf("clause = %q", clause)
	}
	if params["p"] != "open" {
		t.Fatalf("params = %v", params)
	}
}

func TestCompileRejectsMissingColumn(t *testing.T) {
	if _, _, err := Compile(Tree{Root: Leaf{Operator: OpEqual, Value: 1}}); err == nil {
		t.Fatal("expected error for missing column")
	}
}

func TestCompileRejectsUnknownOperator(t *testing.T) {
	if _, _, err := Compile(Tree{Root: Leaf{Column: "x", Operator: Operator("~"), Value: 1}}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestRebindNumbersFromStart(t *testing.T) {
	clause, params, err := Compile(Tree{Root: Group{Clause: ClauseAnd, Conditions: []Condition{
		Leaf{Column: "a", Operator: OpEqual, Value: 1},
		Leaf{Column: "b", Operator: OpEqual, Value: 2},
	}}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	rebound, args := Rebind(clause, params, 3)
	if rebound != "(a = $3 AND b = $4)" {
		t.Fatalf("rebound = %q", rebound)
	}
	if !reflect.DeepEqual(args, []any{1, 2}) {
		t.Fatalf("args = %v", args)
	}
}

func TestRebindKeepsArgumentOrderStableAcrossSharedPrefixes(t *testing.T) {
	// p_1 must not be clobbered while replacing p_1_0.
	tree := Tree{Root: Group{Clause: ClauseAnd, Conditions: []Condition{
		Leaf{Column: "a", Operator: OpEqual, Value: "first"},
		Leaf{Column: "b", Operator: OpIn, Value: []any{"second", "third"}},
	}}}
	clause, params, err := Compile(tree)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	rebound, args := Rebind(clause, params, 1)
	if rebound != "(a = $1 AND b IN ($2, $3))" {
		t.Fatalf("rebound = %q", rebound)
	}
	if !reflect.DeepEqual(args, []any{"first", "second", "third"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	raw := `{"boolean_clause":"AND","conditions":[{"column":"name","operator":"=","value":"ada"},{"boolean_clause":"OR","conditions":[{"column":"age","operator":">","value":30}]}]}`

	var tree Tree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	root, ok := tree.Root.(Group)
	if !ok {
		t.Fatalf("root = %T", tree.Root)
	}
	if root.Clause != ClauseAnd || len(root.Conditions) != 2 {
		t.Fatalf("root = %+v", root)
	}
	leaf, ok := root.Conditions[0].(Leaf)
	if !ok || leaf.Column != "name" || leaf.Operator != OpEqual || leaf.Value != "ada" {
		t.Fatalf("leaf = %+v", root.Conditions[0])
	}

	encoded, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var again Tree
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(tree, again) {
		t.Fatalf("round trip mismatch: %+v vs %+v", tree, again)
	}
}

func TestTreeUnmarshalRejectsUnknownOperator(t *testing.T) {
	var tree Tree
	err := json.Unmarshal([]byte(`{"column":"a","operator":"BETWEEN","value":1}`), &tree)
	if err == nil {
		t.Fatal("expected error for unsupported operator")
	}
}

func TestTreeUnmarshalRejectsMalformedNode(t *testing.T) {
	var tree Tree
	if err := json.Unmarshal([]byte(`{"column":"a"}`), &tree); err == nil {
		t.Fatal("expected error for incomplete leaf")
	}
}

func TestNilRootMarshalsAsEmptyGroup(t *testing.T) {
	encoded, err := json.Marshal(Tree{})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var again Tree
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !again.Empty() {
		t.Fatalf("expected empty tree, got %+v", again)
	}
}

func TestDescribe(t *testing.T) {
	tree := Tree{Root: Group{Clause: ClauseOr, Conditions: []Condition{
		Leaf{Column: "age", Operator: OpLess, Value: 18},
		Leaf{Column: "age", Operator: OpGreater, Value: 65},
	}}}
	if got := Describe(tree); got != "(age < 18 OR age > 65)" {
		t.Fatalf("describe = %q", got)
	}
	if got := Describe(Tree{}); got != "" {
		t.Fatalf("describe of empty = %q", got)
	}
}

func TestColumns(t *testing.T) {
	tree := Tree{Root: Group{Clause: ClauseAnd, Conditions: []Condition{
		Leaf{Column: "b", Operator: OpEqual, Value: 1},
		Leaf{Column: "a", Operator: OpEqual, Value: 2},
		Leaf{Column: "b", Operator: OpGreater, Value: 3},
	}}}
	if got := Columns(tree); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("columns = %v", got)
	}
}

func TestTransformRewritesLeavesOnly(t *testing.T) {
	tree := Tree{Root: Group{Clause: ClauseAnd, Conditions: []Condition{
		Leaf{Column: "a", Operator: OpEqual, Value: 1},
		Group{Clause: ClauseOr, Conditions: []Condition{
			Leaf{Column: "b", Operator: OpEqual, Value: 2},
		}},
	}}}
	mapped, err := Transform(tree, func(leaf Leaf) (Leaf, error) {
		leaf.Value = "seen"
		return leaf, nil
	})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	root := mapped.Root.(Group)
	if root.Conditions[0].(Leaf).Value != "seen" {
		t.Fatalf("outer leaf not rewritten: %+v", root.Conditions[0])
	}
	inner := root.Conditions[1].(Group)
	if inner.Conditions[0].(Leaf).Value != "seen" {
		t.Fatalf("inner leaf not rewritten: %+v", inner.Conditions[0])
	}
}
