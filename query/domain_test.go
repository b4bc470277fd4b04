package query

import (
	"encoding/json"
	"testing"
)

func marshal(t *testing.T, d Domain) string {
	t.Helper()
	ba, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed, details: %v", err)
	}
	return string(ba)
}

func Test_Single_Condition(t *testing.T) {
	got := marshal(t, Eq("name", "A"))
	want := `[["name","=","A"]]`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func Test_And_Prefixes_Operators(t *testing.T) {
	got := marshal(t, And(Eq("name", "A"), Gt("age", 3)))
	wantBytes, _ := json.Marshal([]any{"&", []any{"name", "=", "A"}, []any{"age", ">", 3}})
	if got != string(wantBytes) {
		t.Errorf("got %s, want %s", got, wantBytes)
	}
}

func Test_And_Of_Three_Uses_Two_Operators(t *testing.T) {
	d := And(Eq("a", 1), Eq("b", 2), Eq("c", 3))
	if d[0] != "&" || d[1] != "&" {
		t.Errorf("expected two leading & operators, got %v", d)
	}
	if len(d) != 5 {
		t.Errorf("expected 5 elements, got %d", len(d))
	}
}

func Test_Nested_Combinators(t *testing.T) {
	d := Or(And(Eq("a", 1), Eq("b", 2)), Not(Eq("c", 3)))
	// One | joining the two sub-expressions, & and ! in prefix position of theirs.
	if d[0] != "|" || d[1] != "&" {
		t.Errorf("unexpected prefix layout: %v", d)
	}
	if d[4] != "!" {
		t.Errorf("expected ! before the third condition, got %v", d[4])
	}
}

func Test_Combine_Edge_Cases(t *testing.T) {
	if got := And(); got != nil {
		t.Errorf("And() should be nil, got %v", got)
	}
	single := Eq("x", 1)
	if got := marshal(t, Or(single)); got != marshal(t, single) {
		t.Errorf("Or of one domain should be that domain")
	}
	if got := marshal(t, nil); got != "[]" {
		t.Errorf("nil domain should marshal as [], got %s", got)
	}
}

func Test_In_And_ChildOf_Forms(t *testing.T) {
	got := marshal(t, In("id", int64(1), int64(2)))
	want := `[["id","in",[1,2]]]`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	got = marshal(t, ChildOf("category_id", 7))
	want = `[["category_id","child_of",7]]`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
