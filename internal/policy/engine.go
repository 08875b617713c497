package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"golang.org/x/sync/errgroup"

	"github.com/szandany/policyguard/internal/document"
	"github.com/szandany/policyguard/internal/models"
	"github.com/szandany/policyguard/internal/pipeline"
)

// Engine evaluates a rule bundle against one configuration document.
// An Engine is request-scoped: it holds the immutable document, the
// helper service derived from it, and the CEL environment with the
// helpers bound in.
type Engine struct {
	env     *cel.Env
	helpers *pipeline.Helpers
	input   any
}

// ruleResult is one rule's outcome: zero or more violations, or an
// isolated evaluation error. Exactly one of the two is populated when
// the rule fired or broke; both empty means the rule passed.
type ruleResult struct {
	rule       models.Rule
	violations []models.Violation
	err        error
}

// Option adjusts evaluation behavior.
type Option func(*options)

type options struct {
	failOpen    bool
	maxParallel int
}

// WithFailOpen downgrades rule evaluation errors from forcing a
// HARD_FAIL status to diagnostics only. The default fails closed.
func WithFailOpen() Option {
	return func(o *options) { o.failOpen = true }
}

// WithMaxParallel caps concurrent rule evaluations. Zero or negative
// means unlimited.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// NewEngine builds a request-scoped engine for doc.
func NewEngine(doc any) (*Engine, error) {
	helpers := pipeline.New(doc)
	env, err := newEnv(helpers)
	if err != nil {
		return nil, fmt.Errorf("policy environment: %w", err)
	}
	return &Engine{
		env:     env,
		helpers: helpers,
		input:   document.Plain(doc),
	}, nil
}

// Helpers exposes the document introspection service, mainly so
// callers can log its warnings.
func (e *Engine) Helpers() *pipeline.Helpers {
	return e.helpers
}

// Evaluate runs every enabled rule and aggregates the outcome into a
// Decision. Rules run concurrently; each is a pure function of the
// shared document, so no synchronization is needed beyond the final
// barrier. A rule's runtime error never aborts the other rules.
// Context cancellation aborts the whole request with no decision.
func (e *Engine) Evaluate(ctx context.Context, bundle *models.Bundle, opts ...Option) (*models.Decision, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	results := make([]ruleResult, len(bundle.Rules))
	g, gctx := errgroup.WithContext(ctx)
	if o.maxParallel > 0 {
		g.SetLimit(o.maxParallel)
	}

	for i, rule := range bundle.Rules {
		if !rule.Enabled {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evalRule(rule)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enabled := results[:0:0]
	for i, r := range bundle.Rules {
		if r.Enabled {
			enabled = append(enabled, results[i])
		}
	}
	return aggregate(enabled, o.failOpen), nil
}

func (e *Engine) evalRule(rule models.Rule) ruleResult {
	res := ruleResult{rule: rule}

	switch {
	case rule.Check != "":
		ok, err := e.evalBool(rule.Check, e.activation(nil))
		if err != nil {
			res.err = err
			break
		}
		if ok {
			break
		}
		reason, err := e.evalString(rule.Reason, e.activation(nil))
		if err != nil {
			res.err = err
			break
		}
		res.violations = append(res.violations, models.Violation{Rule: rule.Name, Reason: reason})

	case len(rule.Clauses) > 0:
		// first clause whose guard holds wins; none means pass
		for _, clause := range rule.Clauses {
			hold, err := e.evalBool(clause.When, e.activation(nil))
			if err != nil {
				res.err = err
				break
			}
			if !hold {
				continue
			}
			reason, err := e.evalString(clause.Reason, e.activation(nil))
			if err != nil {
				res.err = err
				break
			}
			res.violations = append(res.violations, models.Violation{Rule: rule.Name, Reason: reason})
			break
		}

	case rule.ForEach != nil:
		violations, err := e.evalForEach(rule)
		if err != nil {
			res.err = err
			break
		}
		res.violations = violations

	default:
		res.err = fmt.Errorf("rule %q has no evaluation", rule.Name)
	}

	if res.err != nil {
		res.err = fmt.Errorf("rule %q: %w", rule.Name, res.err)
		res.violations = nil
	}
	return res
}

// evalForEach emits one violation per matching candidate. Unlike the
// clause chain, every match fires independently.
func (e *Engine) evalForEach(rule models.Rule) ([]models.Violation, error) {
	f := rule.ForEach

	out, err := e.eval(f.Over, e.activation(nil))
	if err != nil {
		return nil, err
	}
	candidates, err := candidatesOf(out)
	if err != nil {
		return nil, fmt.Errorf("over: %w", err)
	}

	var violations []models.Violation
	for _, item := range candidates {
		act := e.activation(item)

		if f.Where != "" {
			match, err := e.evalBool(f.Where, act)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}

		id := ""
		if f.ID != "" {
			id, err = e.evalString(f.ID, act)
			if err != nil {
				return nil, err
			}
		} else if s, ok := item.Value().(string); ok {
			id = s
		}

		reason, err := e.evalString(f.Reason, act)
		if err != nil {
			return nil, err
		}

		violations = append(violations, models.Violation{Rule: rule.Name, ID: id, Reason: reason})
	}
	return violations, nil
}

// candidatesOf flattens the over result: list elements in order, or
// map keys in sorted order for determinism.
func candidatesOf(v ref.Val) ([]ref.Val, error) {
	switch t := v.(type) {
	case traits.Lister:
		size, ok := t.Size().Value().(int64)
		if !ok {
			return nil, fmt.Errorf("list size is not an int")
		}
		out := make([]ref.Val, 0, size)
		for i := int64(0); i < size; i++ {
			out = append(out, t.Get(types.Int(i)))
		}
		return out, nil

	case traits.Mapper:
		it := t.Iterator()
		var keys []ref.Val
		for it.HasNext() == types.True {
			keys = append(keys, it.Next())
		}
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Value()) < fmt.Sprint(keys[j].Value())
		})
		return keys, nil

	default:
		return nil, fmt.Errorf("expression must produce a list or map, got %s", v.Type().TypeName())
	}
}

func (e *Engine) activation(item ref.Val) map[string]any {
	act := map[string]any{"input": e.input}
	if item != nil {
		act["item"] = item
	}
	return act
}

func (e *Engine) eval(expr string, act map[string]any) (ref.Val, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %v", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %v", err)
	}
	out, _, err := prg.Eval(act)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %v", err)
	}
	return out, nil
}

func (e *Engine) evalBool(expr string, act map[string]any) (bool, error) {
	out, err := e.eval(expr, act)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard %q must produce a bool, got %T", expr, out.Value())
	}
	return b, nil
}

func (e *Engine) evalString(expr string, act map[string]any) (string, error) {
	out, err := e.eval(expr, act)
	if err != nil {
		return "", err
	}
	s, ok := out.Value().(string)
	if !ok {
		return "", fmt.Errorf("reason %q must produce a string, got %T", expr, out.Value())
	}
	return s, nil
}
