// Package gateway wires the full governance pipeline for one execute
// call: IR validation, approval consumption, diff-audit, governed DAG
// execution, and evidence pack assembly, per §4.K.
package gateway

import (
	"context"
	"fmt"

	"github.com/ledgerflow/orchestrator/pkg/approval"
	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/canonicalize"
	"github.com/ledgerflow/orchestrator/pkg/diffaudit"
	"github.com/ledgerflow/orchestrator/pkg/evidence"
	"github.com/ledgerflow/orchestrator/pkg/executor"
	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/ir"
	"github.com/ledgerflow/orchestrator/pkg/node"
	"github.com/ledgerflow/orchestrator/pkg/observability"
	"github.com/ledgerflow/orchestrator/pkg/validator"
)

// GovernanceMode selects whether IR governance runs at all for a
// request, per §4.K step 2.
type GovernanceMode string

const (
	// ModeEnforced runs the full B->C->D->E pipeline before execution.
	ModeEnforced GovernanceMode = "enforced"
	// ModeOff skips straight to execution (step 6).
	ModeOff GovernanceMode = "off"
)

// Request is the input to Orchestrator.Execute.
type Request struct {
	TenantID       string
	GraphSpec      executor.GraphSpec
	IR             *ir.IR
	ApprovalToken  string
	Execute        bool
	GovernanceMode GovernanceMode
	ApprovedBy     string

	// Policy configures the per-run governor; nil means no governor
	// (every node unconditionally allowed).
	Policy *governor.Policy

	// EvidenceSink, when non-nil, additionally persists the built
	// evidence pack.
	EvidenceSink evidence.Sink
}

// GatewayResult is the allowed/denied summary carried in both the
// success and error envelopes of §4.K.
type GatewayResult struct {
	Allowed          bool   `json:"allowed"`
	IRHash           string `json:"ir_hash,omitempty"`
	ValidationStatus string `json:"validation_status,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Response is the full success envelope.
type Response struct {
	GatewayResult   GatewayResult         `json:"gateway_result"`
	ExecutionResult *executor.GraphResult `json:"execution_result,omitempty"`
	EvidencePack    *evidence.Pack        `json:"evidence_pack,omitempty"`
}

// GatewayError is the structured error envelope of §4.K:
// `{error, reason, gateway_result}`.
type GatewayError struct {
	ErrorCode string
	Reason    string
	Result    GatewayResult
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Reason)
}

// Orchestrator wires the validator, approval ledger, diff-audit gate,
// DAG executor, and evidence builder into one end-to-end call.
type Orchestrator struct {
	validator *validator.Validator
	ledger    *approval.Ledger
	registry  *node.Registry
	obs       *observability.Provider
	logger    audit.Logger
}

// New constructs an Orchestrator. obs may be nil (tracing/metrics
// become no-ops); logger may be nil.
func New(v *validator.Validator, ledger *approval.Ledger, registry *node.Registry, obs *observability.Provider, logger audit.Logger) *Orchestrator {
	return &Orchestrator{validator: v, ledger: ledger, registry: registry, obs: obs, logger: logger}
}

// Execute runs the full §4.K flow for req.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (resp *Response, err error) {
	if o.obs != nil {
		var done func(error)
		ctx, done = o.obs.TrackOperation(ctx, "gateway.execute")
		defer func() { done(err) }()
	}

	var irHash, validationStatus string
	var governanceMeta *evidence.GovernanceMetadata

	if req.GovernanceMode != ModeOff && req.IR != nil {
		result, err := o.validator.Validate(req.IR)
		if err != nil {
			return nil, fmt.Errorf("gateway: validate: %w", err)
		}
		irHash = result.IRHash
		validationStatus = string(result.Status)
		o.record(ctx, "ir.validated_"+validationStatusEventSuffix(result.Status), req.TenantID, map[string]interface{}{
			"ir_hash": result.IRHash, "risk_tier": int(result.RiskTier),
		})

		if result.Status == ir.StatusReject {
			return nil, &GatewayError{
				ErrorCode: "ir_rejected", Reason: "IR failed validation",
				Result: GatewayResult{Allowed: false, IRHash: irHash, ValidationStatus: validationStatus, Reason: "validation rejected"},
			}
		}

		var approvalID string
		if result.Status == ir.StatusEscalate {
			if req.ApprovalToken == "" {
				return nil, &GatewayError{
					ErrorCode: "approval_required", Reason: "IR escalated and no approval token was supplied",
					Result: GatewayResult{Allowed: false, IRHash: irHash, ValidationStatus: validationStatus, Reason: "approval required"},
				}
			}
			consumeResult, err := o.ledger.Consume(ctx, approval.ConsumeRequest{
				TenantID: req.TenantID, IRHash: irHash, Token: req.ApprovalToken,
			}, req.ApprovedBy)
			if err != nil {
				return nil, fmt.Errorf("gateway: consume approval: %w", err)
			}
			if !consumeResult.Success {
				return nil, &GatewayError{
					ErrorCode: "approval_invalid", Reason: consumeResult.Message,
					Result: GatewayResult{Allowed: false, IRHash: irHash, ValidationStatus: validationStatus, Reason: consumeResult.Message},
				}
			}
			approvalID = consumeResult.ApprovalID
		}

		mapIRToDAG(req.IR, &req.GraphSpec)

		diffResult, err := diffaudit.Check(req.IR, req.GraphSpec.DAGNodeRefs())
		if err != nil {
			return nil, fmt.Errorf("gateway: diff-audit: %w", err)
		}
		o.record(ctx, "ir.diff_audit_checked", req.TenantID, map[string]interface{}{
			"success": diffResult.Success, "missing": diffResult.MissingIRSteps, "extra": diffResult.ExtraDAGNodes,
		})
		if !diffResult.Success {
			return nil, &GatewayError{
				ErrorCode: "diff_audit_failed", Reason: "DAG does not match validated IR",
				Result: GatewayResult{Allowed: false, IRHash: irHash, ValidationStatus: validationStatus, Reason: "diff-audit mismatch"},
			}
		}

		governanceMeta = &evidence.GovernanceMetadata{
			IRHash: irHash, ValidationStatus: validationStatus, ApprovalID: approvalID,
			BusinessIntentID: req.GraphSpec.BusinessIntentID,
		}
	}

	req.GraphSpec.DryRun = req.GraphSpec.DryRun || !req.Execute

	var gov *governor.Governor
	if req.Policy != nil {
		gov = governor.New(*req.Policy, o.logger)
	}

	buffering := audit.NewBufferingLogger(o.logger)
	exec := executor.New(o.registry, buffering)

	result, err := exec.Execute(ctx, req.GraphSpec, gov)
	if err != nil {
		return nil, fmt.Errorf("gateway: execute: %w", err)
	}

	pack, err := evidence.Build(req.GraphSpec, result, buffering.Events(), governanceMeta)
	if err != nil {
		return nil, fmt.Errorf("gateway: build evidence: %w", err)
	}
	if req.EvidenceSink != nil {
		if _, err := req.EvidenceSink.Store(ctx, pack); err != nil {
			return nil, fmt.Errorf("gateway: store evidence: %w", err)
		}
	}

	return &Response{
		GatewayResult: GatewayResult{
			Allowed: result.Success, IRHash: irHash, ValidationStatus: validationStatus, Reason: result.Reason,
		},
		ExecutionResult: result,
		EvidencePack:    pack,
	}, nil
}

// mapIRToDAG attaches ir_step_id/ir_step_hash to each GraphSpec node by
// matching node id to step id, per §4.K step 4. Every node gets its
// IRStepID set to its own NodeID unconditionally — a node whose id has
// no matching IR step still carries a (non-empty) hash so the
// diff-audit gate classifies it as an extra DAG node rather than
// rejecting it outright for a missing back-reference.
func mapIRToDAG(plan *ir.IR, spec *executor.GraphSpec) {
	stepByID := make(map[string]ir.IRStep, len(plan.Steps))
	for i, step := range plan.Steps {
		stepByID[step.EffectiveStepID(i)] = step
	}

	for i := range spec.Nodes {
		spec.Nodes[i].IRStepID = spec.Nodes[i].NodeID

		step, ok := stepByID[spec.Nodes[i].NodeID]
		if !ok {
			spec.Nodes[i].IRStepHash = canonicalize.HashBytes([]byte("unmapped:" + spec.Nodes[i].NodeID))
			continue
		}
		hash, err := ir.StepHash(step)
		if err != nil {
			spec.Nodes[i].IRStepHash = canonicalize.HashBytes([]byte("unmapped:" + spec.Nodes[i].NodeID))
			continue
		}
		spec.Nodes[i].IRStepHash = hash
	}
}

func validationStatusEventSuffix(status ir.ValidationStatus) string {
	switch status {
	case ir.StatusPass:
		return "pass"
	case ir.StatusEscalate:
		return "escalate"
	default:
		return "reject"
	}
}

func (o *Orchestrator) record(ctx context.Context, name, tenantID string, metadata map[string]interface{}) {
	if o.logger == nil {
		return
	}
	_ = o.logger.Record(ctx, audit.EventValidation, name, tenantID, metadata)
}
