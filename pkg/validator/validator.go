// Package validator implements the deterministic, policy-as-code IR
// validator: pure risk-tier computation and PASS/ESCALATE/REJECT
// status. No I/O, no randomness, no LLM calls.
package validator

import (
	"strings"
	"time"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

// destructiveKeywords trigger action tier 3 when found in the action
// string.
var destructiveKeywords = []string{"delete", "destroy", "uninstall", "drop", "truncate", "remove", "purge"}

// productionEnvironments trigger scope tier 2 when found in
// constraints.environment, resource, or stringified params.
var productionEnvironments = []string{"production", "prod", "live"}

// criticalERPModels trigger impact tier 3 for ERP record operations.
var criticalERPModels = []string{"account.move", "account.payment", "account.invoice", "sale.order", "purchase.order"}

// Validator computes risk tiers and PASS/ESCALATE/REJECT status for an
// IR. It holds no mutable state and is safe for concurrent reuse.
type Validator struct {
	// overlay is an optional additional policy layer (see
	// policy_overlay.go); nil means only the built-in rules apply.
	overlay *PolicyOverlay
}

// New constructs a Validator. overlay may be nil.
func New(overlay *PolicyOverlay) *Validator {
	return &Validator{overlay: overlay}
}

// Validate runs the full policy-as-code check over ir and returns a
// ValidationResult. It never mutates the input IR's hash-relevant
// fields; risk_tier/requires_approval are written onto each step as the
// validator's computed output, matching the source's in-place update.
func (val *Validator) Validate(plan *ir.IR) (ir.ValidationResult, error) {
	irHash, err := ir.IRHash(plan)
	if err != nil {
		return ir.ValidationResult{}, err
	}

	var violations []ir.Violation
	maxTier := ir.Tier0
	requiresApproval := false

	for i := range plan.Steps {
		step := &plan.Steps[i]
		violations = append(violations, validateStep(*step, i)...)

		tier := val.computeRiskTier(*step)
		if val.overlay != nil {
			if overlayTier, ok := val.overlay.Evaluate(*step); ok && overlayTier > tier {
				tier = overlayTier
			}
		}
		if tier > maxTier {
			maxTier = tier
		}

		step.RiskTier = &tier
		step.RequiresApproval = tier >= ir.Tier2
		if step.RequiresApproval {
			requiresApproval = true
		}
	}

	status := determineStatus(violations, maxTier)

	return ir.ValidationResult{
		Status:           status,
		Violations:       violations,
		RiskTier:         maxTier,
		RequiresApproval: requiresApproval,
		IRHash:           irHash,
		TenantID:         plan.TenantID,
		RequestID:        plan.RequestID,
		ValidatedAt:      time.Now().UTC(),
	}, nil
}

func validateStep(step ir.IRStep, index int) []ir.Violation {
	var out []ir.Violation
	idx := index

	if !step.Action.IsKnown() {
		out = append(out, ir.Violation{
			StepIndex: &idx, Code: "UNKNOWN_ACTION",
			Message:  "unknown action: must be from the fixed action vocabulary",
			Severity: ir.SeverityError,
		})
	}
	if !step.Provider.IsKnown() {
		out = append(out, ir.Violation{
			StepIndex: &idx, Code: "UNKNOWN_PROVIDER",
			Message:  "unknown provider: must be from the fixed provider vocabulary",
			Severity: ir.SeverityError,
		})
	}
	if strings.TrimSpace(step.IdempotencyKey) == "" {
		out = append(out, ir.Violation{
			StepIndex: &idx, Code: "MISSING_IDEMPOTENCY_KEY",
			Message:  "idempotency_key is required and must be non-empty",
			Severity: ir.SeverityError,
		})
	}
	if step.BudgetCents != nil && *step.BudgetCents < 0 {
		out = append(out, ir.Violation{
			StepIndex: &idx, Code: "NEGATIVE_BUDGET",
			Message:  "budget_cents cannot be negative",
			Severity: ir.SeverityError,
		})
	}
	return out
}

func (val *Validator) computeRiskTier(step ir.IRStep) ir.RiskTier {
	action := computeActionTier(step)
	scope := computeScopeTier(step)
	impact := computeImpactTier(step)
	return maxTier(action, scope, impact)
}

func computeActionTier(step ir.IRStep) ir.RiskTier {
	action := strings.ToLower(string(step.Action))

	for _, kw := range destructiveKeywords {
		if strings.Contains(action, kw) {
			return ir.Tier3
		}
	}
	if step.Action == ir.ActionDNSDeleteZone || step.Action == ir.ActionInfraDestroy {
		return ir.Tier3
	}
	if step.Action == ir.ActionDNSUpdateRecords || step.Action == ir.ActionDNSCreateZone || step.Action == ir.ActionERPInstallModule {
		return ir.Tier2
	}
	if strings.HasPrefix(action, "deploy.") || strings.HasPrefix(action, "webgen.") {
		return ir.Tier1
	}
	return ir.Tier0
}

func computeScopeTier(step ir.IRStep) ir.RiskTier {
	if env, ok := valueString(step.Constraints, "environment"); ok {
		if containsAny(strings.ToLower(env), productionEnvironments) {
			return ir.Tier2
		}
	}
	if containsAny(strings.ToLower(step.Resource), productionEnvironments) {
		return ir.Tier2
	}
	if paramsString := stringifyParams(step.Params); containsAny(strings.ToLower(paramsString), productionEnvironments) {
		return ir.Tier2
	}
	return ir.Tier0
}

func computeImpactTier(step ir.IRStep) ir.RiskTier {
	switch step.Action {
	case ir.ActionERPCreateRecord, ir.ActionERPUpdateRecord, ir.ActionERPDeleteRecord:
		if model, ok := valueString(step.Params, "model"); ok {
			for _, critical := range criticalERPModels {
				if model == critical {
					return ir.Tier3
				}
			}
		}
	}
	if hasKey(step.Params, "bulk") || hasKey(step.Params, "batch") {
		return ir.Tier3
	}
	if paramsString := stringifyParams(step.Params); strings.Contains(paramsString, "bulk") || strings.Contains(paramsString, "batch") {
		return ir.Tier3
	}
	return ir.Tier0
}

func determineStatus(violations []ir.Violation, tier ir.RiskTier) ir.ValidationStatus {
	for _, v := range violations {
		if v.Severity == ir.SeverityError {
			return ir.StatusReject
		}
	}
	if tier >= ir.Tier2 {
		return ir.StatusEscalate
	}
	return ir.StatusPass
}

func maxTier(tiers ...ir.RiskTier) ir.RiskTier {
	max := ir.Tier0
	for _, t := range tiers {
		if t > max {
			max = t
		}
	}
	return max
}

func valueString(m map[string]ir.Value, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func hasKey(m map[string]ir.Value, key string) bool {
	if m == nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func containsAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// stringifyParams renders params in a grep-able form so scope/impact
// checks can find markers nested inside list/map values, mirroring the
// source's str(params).lower() sweep.
func stringifyParams(m map[string]ir.Value) string {
	if len(m) == 0 {
		return ""
	}
	var sb strings.Builder
	for k, v := range m {
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(v.String())
		sb.WriteByte(' ')
	}
	return sb.String()
}
