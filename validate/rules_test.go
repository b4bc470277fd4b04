package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/sharedcode/rop"
)

func newRules(t *testing.T) *Rules {
	t.Helper()
	r, err := NewRules()
	if err != nil {
		t.Fatalf("NewRules failed, details: %v", err)
	}
	return r
}

func Test_Passing_Rule(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	if err := r.Validate("partner", rop.Record{"name": "A"}); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func Test_Violation_Is_Coded_ValidationFailure(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	err := r.Validate("partner", rop.Record{"name": ""})
	if err == nil {
		t.Fatalf("expected a validation error")
	}
	var e rop.Error
	if !errors.As(err, &e) || e.Code != rop.ValidationFailure {
		t.Errorf("expected rop.Error with ValidationFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "name is required") {
		t.Errorf("expected the rule message in the error, got %v", err)
	}
}

func Test_All_Violations_Are_Collected(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	if err := r.AddRule("partner", "age_positive", `int(rec['age']) >= 0`, "age can't be negative"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	err := r.Validate("partner", rop.Record{"name": "", "age": -1})
	if err == nil {
		t.Fatalf("expected a validation error")
	}
	if !strings.Contains(err.Error(), "name is required") || !strings.Contains(err.Error(), "age can't be negative") {
		t.Errorf("expected both rule messages, got %v", err)
	}
}

func Test_Unknown_Model_Passes(t *testing.T) {
	r := newRules(t)
	if err := r.Validate("partner", rop.Record{"name": ""}); err != nil {
		t.Errorf("model without rules should pass, got %v", err)
	}
}

func Test_Compile_Error_Is_Surfaced(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "broken", `rec['name'] !!`, "nope"); err == nil {
		t.Errorf("expected a compile error")
	}
}

func Test_Non_Bool_Expression_Is_Rejected(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "not_bool", `rec['name']`, "nope"); err == nil {
		t.Errorf("expected rejection of a non-bool expression")
	}
}

func Test_Duplicate_Rule_Name_Is_Rejected(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	if err := r.AddRule("partner", "name_required", `rec['name'] != ''`, "name is required"); err == nil {
		t.Errorf("expected duplicate name rejection")
	}
	// Same name on another model is fine.
	if err := r.AddRule("product", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		t.Errorf("same name on another model should register, got %v", err)
	}
}

func Test_Evaluation_Error_Counts_As_Violation(t *testing.T) {
	r := newRules(t)
	if err := r.AddRule("partner", "age_positive", `int(rec['age']) >= 0`, "age can't be negative"); err != nil {
		t.Fatalf("AddRule failed, details: %v", err)
	}
	// No age field: evaluation fails and is reported, the record is not silently accepted.
	if err := r.Validate("partner", rop.Record{"name": "A"}); err == nil {
		t.Errorf("expected an error for an unevaluable rule")
	}
}
