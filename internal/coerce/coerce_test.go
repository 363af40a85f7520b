package coerce

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/schemachat/schemachat/internal/filter"
	"github.com/schemachat/schemachat/internal/schema"
)

func TestToStorageDatetimeLayouts(t *testing.T) {
	inputs := []string{
		"2024-03-01T10:30:00Z",
		"2024-03-01T10:30:00.123456789Z",
		"2024-03-01T10:30:00",
		"2024-03-01 10:30:00",
		"2024-03-01",
	}
	for _, input := range inputs {
		value, err := ToStorage(input, schema.TypeDatetime)
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		if _, ok := value.(time.Time); !ok {
			t.Fatalf("%q: got %T", input, value)
		}
	}
}

func TestToStorageDateTruncatesToMidnight(t *testing.T) {
	value, err := ToStorage("2024-03-01T10:30:00Z", schema.TypeDate)
	if err != nil {
		t.Fatalf("to storage failed: %v", err)
	}
	ts := value.(time.Time)
	want := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("ts = %v, want %v", ts, want)
	}
}

func TestToStorageRejectsGarbageTimestamp(t *testing.T) {
	if _, err := ToStorage("yesterday", schema.TypeDatetime); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestToStorageUUIDForms(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	inputs := []any{id.String(), id, [16]byte(id), id[:]}
	for _, input := range inputs {
		value, err := ToStorage(input, schema.TypeUUID)
		if err != nil {
			t.Fatalf("%T: %v", input, err)
		}
		if value != id {
			t.Fatalf("%T: got %v", input, value)
		}
	}
	if _, err := ToStorage("not-a-uuid", schema.TypeUUID); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestNilAndEmptyPassThrough(t *testing.T) {
	for _, dataType := range []schema.DataType{schema.TypeDatetime, schema.TypeDate, schema.TypeUUID} {
		if value, err := ToStorage(nil, dataType); err != nil || value != nil {
			t.Fatalf("%s: nil did not pass through: %v %v", dataType, value, err)
		}
		if value, err := ToStorage("", dataType); err != nil || value != "" {
			t.Fatalf("%s: empty string did not pass through: %v %v", dataType, value, err)
		}
	}
}

func TestWireRoundTrip(t *testing.T) {
	cases := []struct {
		dataType schema.DataType
		wire     any
	}{
		{schema.TypeDatetime, "2024-03-01T10:30:00Z"},
		{schema.TypeDate, "2024-03-01"},
		{schema.TypeUUID, "0f8fad5b-d9cb-469f-a165-70867728950e"},
	}
	for _, tc := range cases {
		stored, err := ToStorage(tc.wire, tc.dataType)
		if err != nil {
			t.Fatalf("%s: to storage: %v", tc.dataType, err)
		}
		back, err := ToWire(stored, tc.dataType)
		if err != nil {
			t.Fatalf("%s: to wire: %v", tc.dataType, err)
		}
		if back != tc.wire {
			t.Fatalf("%s: round trip %v -> %v", tc.dataType, tc.wire, back)
		}
	}
}

func TestUntypedValuesAreUntouched(t *testing.T) {
	typed := map[string]schema.DataType{"when": schema.TypeDatetime}
	rows, err := Rows([]map[string]any{{"title": "write tests", "when": "2024-03-01T10:30:00Z"}}, typed)
	if err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	if rows[0]["title"] != "write tests" {
		t.Fatalf("untyped column changed: %v", rows[0]["title"])
	}
	if _, ok := rows[0]["when"].(time.Time); !ok {
		t.Fatalf("typed column not coerced: %T", rows[0]["when"])
	}
}

func TestRowsDoNotShareMapsWithInput(t *testing.T) {
	input := []map[string]any{{"title": "original"}}
	rows, err := Rows(input, map[string]schema.DataType{})
	if err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	rows[0]["title"] = "changed"
	if input[0]["title"] != "original" {
		t.Fatal("input row was mutated")
	}
}

func TestFilterTreeCoercesInListsElementwise(t *testing.T) {
	typed := map[string]schema.DataType{"due": schema.TypeDate}
	tree := filter.Tree{Root: filter.Leaf{
		Column:   "due",
		Operator: filter.OpIn,
		Value:    []any{"2024-03-01", "2024-03-02"},
	}}

	coerced, err := FilterTree(tree, typed)
	if err != nil {
		t.Fatalf("filter tree failed: %v", err)
	}
	leaf := coerced.Root.(filter.Leaf)
	values := leaf.Value.([]any)
	if len(values) != 2 {
		t.Fatalf("values = %v", values)
	}
	for _, value := range values {
		if _, ok := value.(time.Time); !ok {
			t.Fatalf("element not coerced: %T", value)
		}
	}
}

func TestFilterTreeLeavesUntypedColumnsAlone(t *testing.T) {
	tree := filter.Tree{Root: filter.Leaf{Column: "title", Operator: filter.OpEqual, Value: "x"}}
	coerced, err := FilterTree(tree, map[string]schema.DataType{"due": schema.TypeDate})
	if err != nil {
		t.Fatalf("filter tree failed: %v", err)
	}
	if !reflect.DeepEqual(coerced, tree) {
		t.Fatalf("tree changed: %+v", coerced)
	}
}

func TestWireUpdate(t *testing.T) {
	typed := map[string]schema.DataType{"updated_at": schema.TypeDatetime}
	data, err := WireUpdate(map[string]any{
		"updated_at": time.Date(2024, time.March, 1, 10, 30, 0, 0, time.UTC),
		"title":      "x",
	}, typed)
	if err != nil {
		t.Fatalf("wire update failed: %v", err)
	}
	if data["updated_at"] != "2024-03-01T10:30:00Z" {
		t.Fatalf("updated_at = %v", data["updated_at"])
	}
	if data["title"] != "x" {
		t.Fatalf("title = %v", data["title"])
	}
}
