// Package validate provides CEL based pre-flight validation of record payloads before
// they are sent to the server. Rules are compiled once at registration and evaluated
// against a "rec" map variable holding the payload; a failing rule surfaces as
// rop.Error with code ValidationFailure, the same code the server's own validation
// faults map to, so callers handle both the same way.
//
// Rules implements transaction.Validator and plugs into the tracked client via
// Manager.SetValidator.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/sharedcode/rop"
)

// Rule is one compiled validation rule of a model.
type Rule struct {
	Name       string
	Expression string
	Message    string
	program    cel.Program
}

// Rules is a registry of per-model validation rules. Safe for concurrent use;
// registration is expected at startup, evaluation on every mutating call.
type Rules struct {
	mu      sync.RWMutex
	env     *cel.Env
	byModel map[string][]Rule
}

// NewRules creates an empty registry. The CEL environment declares the payload as a
// "rec" map so expressions read like `rec.name != ""` or `int(rec.age) >= 0`.
func NewRules() (*Rules, error) {
	env, err := cel.NewEnv(
		cel.Variable("rec", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}
	return &Rules{
		env:     env,
		byModel: make(map[string][]Rule),
	}, nil
}

// AddRule compiles expression and registers it for model. The expression must produce
// a bool; message is reported to the caller when the rule evaluates to false. name must
// be unique within the model.
func (r *Rules) AddRule(model string, name string, expression string, message string) error {
	if model == "" {
		return fmt.Errorf("model can't be empty string")
	}
	if name == "" {
		return fmt.Errorf("name can't be empty string")
	}
	if expression == "" {
		return fmt.Errorf("expression can't be empty string")
	}

	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("expression %q must produce bool, got %v", expression, ast.OutputType())
	}
	p, err := r.env.Program(ast)
	if err != nil {
		return fmt.Errorf("error creating Program: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byModel[model] {
		if existing.Name == name {
			return fmt.Errorf("can't add rule %q, model %s already has one by that name", name, model)
		}
	}
	r.byModel[model] = append(r.byModel[model], Rule{
		Name:       name,
		Expression: expression,
		Message:    message,
		program:    p,
	})
	return nil
}

// Model returns the rules registered for model, in registration order.
func (r *Rules) Model(model string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := make([]Rule, len(r.byModel[model]))
	copy(rules, r.byModel[model])
	return rules
}

// Validate evaluates every rule of model against rec. All rules are evaluated; every
// violation's message is collected and returned as one rop.Error with code
// ValidationFailure wrapping the joined messages. A model without rules passes.
func (r *Rules) Validate(model string, rec rop.Record) error {
	r.mu.RLock()
	rules := r.byModel[model]
	r.mu.RUnlock()
	if len(rules) == 0 {
		return nil
	}

	var violations []error
	for i := range rules {
		ok, err := evaluate(rules[i].program, rec)
		if err != nil {
			violations = append(violations, fmt.Errorf("rule %q: %v", rules[i].Name, err))
			continue
		}
		if !ok {
			violations = append(violations, fmt.Errorf("rule %q: %s", rules[i].Name, rules[i].Message))
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return rop.Error{
		Code:     rop.ValidationFailure,
		Err:      errors.Join(violations...),
		UserData: model,
	}
}

// evaluate runs one compiled program vs the record payload.
func evaluate(p cel.Program, rec rop.Record) (bool, error) {
	out, _, err := p.Eval(map[string]any{
		"rec": map[string]any(rec),
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(bool(false)))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	v, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("error converting to bool, nv: %v", nv)
	}
	return v, nil
}
