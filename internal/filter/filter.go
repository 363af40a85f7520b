// Package filter models the recursive AND/OR condition trees that the
// inference service emits for row selection. Trees are decoded and validated
// once at the system boundary and handled as a tagged union afterwards.
package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpLike         Operator = "LIKE"
	OpIn           Operator = "IN"
	OpIsNot        Operator = "IS NOT"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpLike, OpIn, OpIsNot:
		return true
	default:
		return false
	}
}

type Clause string

const (
	ClauseAnd Clause = "AND"
	ClauseOr  Clause = "OR"
)

// Condition is either a Leaf comparison or a Group of sub-conditions.
type Condition interface {
	isCondition()
}

type Leaf struct {
	Column   string
	Operator Operator
	Value    any
}

type Group struct {
	Clause     Clause
	Conditions []Condition
}

func (Leaf) isCondition()  {}
func (Group) isCondition() {}

// Tree carries a condition across the JSON boundary. A zero Tree (nil root)
// matches all rows, as does a root group with no conditions.
type Tree struct {
	Root Condition
}

// Empty reports whether the tree selects all rows. The distinction matters
// for user-facing messages ("All the N row(s)..." vs. naming the filter).
func (t Tree) Empty() bool {
	switch root := t.Root.(type) {
	case nil:
		return true
	case Group:
		return len(root.Conditions) == 0
	default:
		return false
	}
}

func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Root == nil {
		return json.Marshal(map[string]any{"boolean_clause": ClauseAnd, "conditions": []any{}})
	}
	return json.Marshal(encode(t.Root))
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		t.Root = nil
		return nil
	}
	root, err := decode(data)
	if err != nil {
		return err
	}
	t.Root = root
	return nil
}

func encode(c Condition) any {
	switch node := c.(type) {
	case Leaf:
		return map[string]any{"column": node.Column, "operator": node.Operator, "value": node.Value}
	case Group:
		children := make([]any, 0, len(node.Conditions))
		for _, child := range node.Conditions {
			children = append(children, encode(child))
		}
		return map[string]any{"boolean_clause": node.Clause, "conditions": children}
	default:
		return nil
	}
}

func decode(data []byte) (Condition, error) {
	var probe struct {
		Clause     *Clause           `json:"boolean_clause"`
		Conditions []json.RawMessage `json:"conditions"`
		Column     *string           `json:"column"`
		Operator   *Operator         `json:"operator"`
		Value      json.RawMessage   `json:"value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode filter condition: %w", err)
	}

	if probe.Clause != nil {
		if *probe.Clause != ClauseAnd && *probe.Clause != ClauseOr {
			return nil, fmt.Errorf("unknown boolean clause: %q", *probe.Clause)
		}
		group := Group{Clause: *probe.Clause, Conditions: make([]Condition, 0, len(probe.Conditions))}
		for _, raw := range probe.Conditions {
			child, err := decode(raw)
			if err != nil {
				return nil, err
			}
			group.Conditions = append(group.Conditions, child)
		}
		return group, nil
	}

	if probe.Column == nil || probe.Operator == nil || probe.Value == nil {
		return nil, fmt.Errorf("invalid filter structure: %s", strings.TrimSpace(string(data)))
	}
	if !probe.Operator.Valid() {
		return nil, fmt.Errorf("unsupported operator: %q", *probe.Operator)
	}
	var value any
	if err := json.Unmarshal(probe.Value, &value); err != nil {
		return nil, fmt.Errorf("decode filter value: %w", err)
	}
	return Leaf{Column: *probe.Column, Operator: *probe.Operator, Value: value}, nil
}

// Transform rebuilds the tree with fn applied to every leaf. Used to coerce
// leaf values between wire and storage representations.
func Transform(t Tree, fn func(Leaf) (Leaf, error)) (Tree, error) {
	if t.Root == nil {
		return t, nil
	}
	root, err := transform(t.Root, fn)
	if err != nil {
		return Tree{}, err
	}
	return Tree{Root: root}, nil
}

func transform(c Condition, fn func(Leaf) (Leaf, error)) (Condition, error) {
	switch node := c.(type) {
	case Leaf:
		return fn(node)
	case Group:
		out := Group{Clause: node.Clause, Conditions: make([]Condition, 0, len(node.Conditions))}
		for _, child := range node.Conditions {
			mapped, err := transform(child, fn)
			if err != nil {
				return nil, err
			}
			out.Conditions = append(out.Conditions, mapped)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown condition type %T", c)
	}
}

// Compile renders the tree as a SQL predicate with named parameters. Each
// recursive call derives its parameter prefix from its position in the tree,
// so sibling subtrees can never shadow each other's bindings. An empty tree
// compiles to TRUE so composition stays total.
func Compile(t Tree) (string, map[string]any, error) {
	return compile(t.Root, "p")
}

func compile(c Condition, prefix string) (string, map[string]any, error) {
	switch node := c.(type) {
	case nil:
		return "TRUE", map[string]any{}, nil
	case Group:
		clauses := make([]string, 0, len(node.Conditions))
		params := make(map[string]any)
		for idx, child := range node.Conditions {
			sub, subParams, err := compile(child, fmt.Sprintf("%s_%d", prefix, idx))
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, sub)
			for name, value := range subParams {
				params[name] = value
			}
		}
		switch len(clauses) {
		case 0:
			return "TRUE", map[string]any{}, nil
		case 1:
			return clauses[0], params, nil
		default:
			return "(" + strings.Join(clauses, " "+string(node.Clause)+" ") + ")", params, nil
		}
	case Leaf:
		return compileLeaf(node, prefix)
	default:
		return "", nil, fmt.Errorf("unknown condition type %T", c)
	}
}

func compileLeaf(leaf Leaf, prefix string) (string, map[string]any, error) {
	if strings.TrimSpace(leaf.Column) == "" {
		return "", nil, fmt.Errorf("filter condition is missing a column")
	}
	if !leaf.Operator.Valid() {
		return "", nil, fmt.Errorf("unsupported operator: %q", leaf.Operator)
	}

	switch leaf.Operator {
	case OpIn:
		values := valueSlice(leaf.Value)
		placeholders := make([]string, 0, len(values))
		params := make(map[string]any, len(values))
		for idx, value := range values {
			name := fmt.Sprintf("%s_%d", prefix, idx)
			placeholders = append(placeholders, ":"+name)
			params[name] = value
		}
		if len(placeholders) == 0 {
			// An empty IN list matches nothing.
			return "FALSE", map[string]any{}, nil
		}
		return fmt.Sprintf("%s IN (%s)", leaf.Column, strings.Join(placeholders, ", ")), params, nil
	case OpIsNot:
		if leaf.Value == nil {
			return fmt.Sprintf("%s IS NOT NULL", leaf.Column), map[string]any{}, nil
		}
		return fmt.Sprintf("%s != :%s", leaf.Column, prefix), map[string]any{prefix: leaf.Value}, nil
	default:
		return fmt.Sprintf("%s %s :%s", leaf.Column, leaf.Operator, prefix), map[string]any{prefix: leaf.Value}, nil
	}
}

func valueSlice(value any) []any {
	if values, ok := value.([]any); ok {
		return values
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	if value == nil {
		return nil
	}
	return []any{value}
}

// Rebind rewrites a named-parameter clause to Postgres positional form.
// Placeholders are numbered from start in order of first appearance and the
// matching argument slice is returned alongside.
func Rebind(clause string, params map[string]any, start int) (string, []any) {
	names := namedPlaceholders(clause)
	args := make([]any, 0, len(names))
	rebound := clause
	for idx, name := range names {
		args = append(args, params[name])
		rebound = strings.Replace(rebound, ":"+name, fmt.Sprintf("$%d", start+idx), 1)
	}
	return rebound, args
}

func namedPlaceholders(clause string) []string {
	names := make([]string, 0, 4)
	for i := 0; i < len(clause); i++ {
		if clause[i] != ':' {
			continue
		}
		j := i + 1
		for j < len(clause) && (isIdentChar(clause[j])) {
			j++
		}
		if j > i+1 {
			names = append(names, clause[i+1:j])
			i = j - 1
		}
	}
	return names
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Describe renders the tree as the sentence fragment used when narrating
// which rows an operation touched. It is never used for execution.
func Describe(t Tree) string {
	return describe(t.Root)
}

func describe(c Condition) string {
	switch node := c.(type) {
	case nil:
		return ""
	case Leaf:
		return fmt.Sprintf("%s %s %v", node.Column, node.Operator, node.Value)
	case Group:
		parts := make([]string, 0, len(node.Conditions))
		for _, child := range node.Conditions {
			parts = append(parts, describe(child))
		}
		switch len(parts) {
		case 0:
			return ""
		case 1:
			return parts[0]
		default:
			return "(" + strings.Join(parts, " "+string(node.Clause)+" ") + ")"
		}
	default:
		return ""
	}
}

// Columns lists the distinct column names referenced by the tree, sorted.
func Columns(t Tree) []string {
	set := make(map[string]struct{})
	collectColumns(t.Root, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func collectColumns(c Condition, set map[string]struct{}) {
	switch node := c.(type) {
	case Leaf:
		set[node.Column] = struct{}{}
	case Group:
		for _, child := range node.Conditions {
			collectColumns(child, set)
		}
	}
}
