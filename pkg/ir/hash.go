package ir

import (
	"fmt"
	"sort"

	"github.com/ledgerflow/orchestrator/pkg/canonicalize"
)

// stepForHashing is the canonical shape hashed for a step: validator
// computed fields (risk_tier, requires_approval) are excluded so the
// hash is stable across validation, per §4.A.
type stepForHashing struct {
	Action         Action           `json:"action"`
	Provider       Provider         `json:"provider"`
	Resource       string           `json:"resource"`
	Params         map[string]Value `json:"params,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	Constraints    map[string]Value `json:"constraints,omitempty"`
	BudgetCents    *int64           `json:"budget_cents,omitempty"`
	StepID         string           `json:"step_id,omitempty"`
	Description    string           `json:"description,omitempty"`
}

// StepHash computes the canonical hash of a single step, excluding
// validator-computed fields.
func StepHash(step IRStep) (string, error) {
	return canonicalize.CanonicalHash(stepForHashing{
		Action:         step.Action,
		Provider:       step.Provider,
		Resource:       step.Resource,
		Params:         step.Params,
		IdempotencyKey: step.IdempotencyKey,
		Constraints:    step.Constraints,
		BudgetCents:    step.BudgetCents,
		StepID:         step.StepID,
		Description:    step.Description,
	})
}

type irForHashing struct {
	TenantID      string            `json:"tenant_id"`
	Steps         []string          `json:"steps"`
	RequestID     string            `json:"request_id"`
	CreatedAt     string            `json:"created_at"`
	IntentSummary string            `json:"intent_summary,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// IRHash computes the canonical hash of an IR over its step hashes
// (not the raw steps), plus tenant/request identity and labels.
func IRHash(v *IR) (string, error) {
	stepHashes := make([]string, len(v.Steps))
	for i, step := range v.Steps {
		h, err := StepHash(step)
		if err != nil {
			return "", fmt.Errorf("ir: hashing step %d: %w", i, err)
		}
		stepHashes[i] = h
	}
	return canonicalize.CanonicalHash(irForHashing{
		TenantID:      v.TenantID,
		Steps:         stepHashes,
		RequestID:     v.RequestID,
		CreatedAt:     v.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		IntentSummary: v.IntentSummary,
		Labels:        v.Labels,
	})
}

// DAGNodeRef is the minimal shape a DAG node must expose for the
// diff-audit gate and dag_hash computation: its mapped IR step id and
// the hash of that step as asserted by the DAG builder.
type DAGNodeRef struct {
	IRStepID   string
	IRStepHash string
}

// ErrMissingDAGRef is returned when a DAG node lacks ir_step_id or
// ir_step_hash.
var ErrMissingDAGRef = fmt.Errorf("dag node missing ir_step_id or ir_step_hash")

// DAGHash computes the canonical hash over DAG node references, sorted
// by ir_step_id, per §4.A. Fails if any node lacks either field.
func DAGHash(nodes []DAGNodeRef) (string, error) {
	sorted := make([]DAGNodeRef, len(nodes))
	copy(sorted, nodes)
	for _, n := range sorted {
		if n.IRStepID == "" || n.IRStepHash == "" {
			return "", ErrMissingDAGRef
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IRStepID < sorted[j].IRStepID })

	type pair struct {
		IRStepID   string `json:"ir_step_id"`
		IRStepHash string `json:"ir_step_hash"`
	}
	pairs := make([]pair, len(sorted))
	for i, n := range sorted {
		pairs[i] = pair{IRStepID: n.IRStepID, IRStepHash: n.IRStepHash}
	}
	return canonicalize.CanonicalHash(pairs)
}
