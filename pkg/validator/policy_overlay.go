package validator

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

// OverlayRule is one operator-supplied CEL expression mapped to the
// RiskTier it forces when it evaluates true. Expressions see
// {action, provider, resource, params, constraints} and must be pure
// (no custom functions with side effects) — the overlay can only
// tighten, never loosen, the built-in tiering in validator.go.
type OverlayRule struct {
	Name       string
	Expression string
	Tier       ir.RiskTier
}

// PolicyOverlay is an optional, versioned bundle of additional CEL
// policy rules layered on top of the fixed risk-tier computation.
type PolicyOverlay struct {
	Version *semver.Version

	mu       sync.RWMutex
	env      *cel.Env
	programs []compiledRule
}

type compiledRule struct {
	name string
	tier ir.RiskTier
	prg  cel.Program
}

// NewPolicyOverlay compiles rules against a CEL environment exposing
// the step's fields. version is an operator-supplied semver string
// (e.g. "1.2.0") used only for ordering/compatibility checks between
// overlay bundles, never for tier computation itself.
func NewPolicyOverlay(version string, rules []OverlayRule) (*PolicyOverlay, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("validator: invalid overlay version %q: %w", version, err)
	}

	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("provider", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("constraints", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("validator: building CEL env: %w", err)
	}

	overlay := &PolicyOverlay{Version: v, env: env}
	for _, rule := range rules {
		if err := overlay.add(rule); err != nil {
			return nil, err
		}
	}
	return overlay, nil
}

func (o *PolicyOverlay) add(rule OverlayRule) error {
	ast, issues := o.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("validator: compiling overlay rule %q: %w", rule.Name, issues.Err())
	}
	prg, err := o.env.Program(ast)
	if err != nil {
		return fmt.Errorf("validator: building overlay program %q: %w", rule.Name, err)
	}
	o.mu.Lock()
	o.programs = append(o.programs, compiledRule{name: rule.Name, tier: rule.Tier, prg: prg})
	o.mu.Unlock()
	return nil
}

// Evaluate runs every compiled rule against step and returns the
// highest tier among rules that evaluated true. ok is false if no rule
// matched (the caller then ignores the zero RiskTier returned).
func (o *PolicyOverlay) Evaluate(step ir.IRStep) (ir.RiskTier, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	input := map[string]interface{}{
		"action":      string(step.Action),
		"provider":    string(step.Provider),
		"resource":    step.Resource,
		"params":      valuesToNative(step.Params),
		"constraints": valuesToNative(step.Constraints),
	}

	matched := false
	tier := ir.Tier0
	for _, rule := range o.programs {
		out, _, err := rule.prg.Eval(input)
		if err != nil {
			// Fail closed: an evaluation error never loosens the
			// decision, it is simply treated as "rule did not match".
			continue
		}
		if allowed, ok := out.Value().(bool); ok && allowed {
			matched = true
			if rule.tier > tier {
				tier = rule.tier
			}
		}
	}
	return tier, matched
}

func valuesToNative(m map[string]ir.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = valueToNative(v)
	}
	return out
}

func valueToNative(v ir.Value) interface{} {
	if s, ok := v.AsString(); ok {
		return s
	}
	if n, ok := v.AsInt(); ok {
		return n
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	if m, ok := v.AsMap(); ok {
		return valuesToNative(m)
	}
	if l, ok := v.AsList(); ok {
		out := make([]interface{}, len(l))
		for i, e := range l {
			out[i] = valueToNative(e)
		}
		return out
	}
	return nil
}
