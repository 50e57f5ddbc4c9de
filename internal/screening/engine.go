// Package screening provides the CEL-Go based screening rule engine.
// Operators express heuristics as boolean CEL expressions over the alert's
// parameter map; fired rules surface as scenarios on the screening check, so
// the fixed analysis battery can be extended without a code change.
package screening

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates screening rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
	order    []string
}

type compiledRule struct {
	rule    domain.ScreeningRule
	program cel.Program
}

// NewEngine creates a screening engine with the alert parameter vocabulary
// declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("alert", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("mcc", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("payment_sub_type", cel.StringType),
		cel.Variable("pin_verified", cel.BoolType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		// Derived from the transaction timestamp
		cel.Variable("hour", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule domain.ScreeningRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// LoadRule compiles and loads one rule, replacing any rule with the same id.
func (e *Engine) LoadRule(rule domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.compiled[rule.ID] = compiled
	e.resort()
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []domain.ScreeningRule) error {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := e.LoadRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules swaps the loaded set for the given one. Enables hot reload
// from the repository without a restart.
func (e *Engine) ReloadRules(rules []domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiled = next
	e.resort()
	return nil
}

// RemoveRule unloads a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.compiled, id)
	e.resort()
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the loaded rules in id order.
func (e *Engine) LoadedRules() []domain.ScreeningRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]domain.ScreeningRule, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.compiled[id].rule)
	}
	return rules
}

// Close unloads all rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	e.order = nil
	return nil
}

// Outcome is one rule's evaluation against an alert.
type Outcome struct {
	Rule      domain.ScreeningRule
	Fired     bool
	Err       string
	ProcessMs int64
}

// Evaluate runs every loaded rule against the alert parameters, in id order.
// Evaluation errors are recorded per rule and never abort the sweep.
func (e *Engine) Evaluate(ctx context.Context, params domain.Params) []Outcome {
	e.mu.RLock()
	ordered := make([]*compiledRule, 0, len(e.order))
	for _, id := range e.order {
		ordered = append(ordered, e.compiled[id])
	}
	e.mu.RUnlock()

	act := activation(params)

	outcomes := make([]Outcome, 0, len(ordered))
	for _, cr := range ordered {
		start := time.Now()
		out := Outcome{Rule: cr.rule}

		val, _, err := cr.program.Eval(act)
		if err != nil {
			out.Err = fmt.Sprintf("evaluation error: %v", err)
		} else if fired, ok := val.(types.Bool); ok {
			out.Fired = bool(fired)
		}

		out.ProcessMs = time.Since(start).Milliseconds()
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Hits extracts the fired rules as RuleHit records.
func Hits(outcomes []Outcome) []domain.RuleHit {
	var hits []domain.RuleHit
	for _, out := range outcomes {
		if !out.Fired {
			continue
		}
		hits = append(hits, domain.RuleHit{
			RuleID:    out.Rule.ID,
			Name:      out.Rule.Name,
			Reason:    out.Rule.Reason,
			Weight:    out.Rule.Weight,
			ProcessMs: out.ProcessMs,
		})
	}
	return hits
}

// activation maps alert parameters onto the declared CEL variables. Every
// declared variable gets a value so absent parameters read as zero values
// instead of evaluation errors.
func activation(params domain.Params) map[string]any {
	amount, _ := params.Float("amount")
	act := map[string]any{
		"alert":             map[string]any(params),
		"customer_id":       params.String("customer_id"),
		"amount":            amount,
		"currency":          params.String("currency"),
		"country":           params.String("country"),
		"location":          params.String("location"),
		"merchant_id":       params.String("merchant_id"),
		"merchant_category": params.String("merchant_category"),
		"mcc":               params.String("mcc"),
		"payment_method":    params.String("payment_method"),
		"payment_sub_type":  params.String("payment_sub_type"),
		"pin_verified":      params.Bool("pin_verified"),
		"device_id":         params.String("device_id"),
		"ip_address":        params.String("ip_address"),
		"hour":              0,
		"is_weekend":        false,
	}
	if ts, ok := params.Time("transaction_timestamp"); ok {
		t := ts.UTC()
		act["hour"] = t.Hour()
		wd := t.Weekday()
		act["is_weekend"] = wd == time.Saturday || wd == time.Sunday
	}
	return act
}

func (e *Engine) compile(rule domain.ScreeningRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}

// resort rebuilds the deterministic evaluation order. Callers hold the write
// lock.
func (e *Engine) resort() {
	e.order = e.order[:0]
	for id := range e.compiled {
		e.order = append(e.order, id)
	}
	sort.Strings(e.order)
}
