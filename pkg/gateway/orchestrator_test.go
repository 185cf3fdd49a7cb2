package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/approval"
	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/executor"
	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/ir"
	"github.com/ledgerflow/orchestrator/pkg/node"
	"github.com/ledgerflow/orchestrator/pkg/validator"
)

func newTestOrchestrator() (*Orchestrator, *approval.Ledger) {
	registry := node.NewRegistry()
	registry.Register("dynamic", node.NewDynamicNodeFactory(node.NoopDriver{}))

	ledger := approval.NewLedger(approval.NewMemoryStore(), nil)
	orch := New(validator.New(nil), ledger, registry, nil, audit.NewLogger())
	return orch, ledger
}

// IRStepList returns a reusable low-risk step followed by a high-risk
// (production delete) step, for building test plans.
func IRStepList() []ir.IRStep {
	return []ir.IRStep{
		{
			Action: ir.ActionDeployWebsite, Provider: ir.ProviderDeployDocker,
			Resource: "site-1", IdempotencyKey: "idem-1", StepID: "s1",
		},
		{
			Action: ir.ActionDNSDeleteZone, Provider: ir.ProviderDNSCloudflare,
			Resource: "prod-zone", IdempotencyKey: "idem-2", StepID: "s2",
		},
	}
}

func graphSpecForSteps(steps []ir.IRStep) executor.GraphSpec {
	nodes := make([]executor.NodeSpec, len(steps))
	for i, s := range steps {
		nodes[i] = executor.NodeSpec{NodeID: s.StepID, ExecutorClass: "dynamic", ExecutorParams: map[string]ir.Value{
			"resource":     ir.String(s.Resource),
			"capabilities": ir.List([]ir.Value{ir.String("DRY_RUN"), ir.String("EXTERNAL")}),
		}}
	}
	return executor.GraphSpec{GraphID: "g1", Nodes: nodes}
}

func TestOrchestrator_PassFlowExecutesDryRunByDefault(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := IRStepList()[:1]
	plan := ir.NewIR("tenant-a", steps)

	resp, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", IR: plan, GraphSpec: graphSpecForSteps(steps),
		GovernanceMode: ModeEnforced, Execute: false,
	})
	require.NoError(t, err)
	assert.Equal(t, string(ir.StatusPass), resp.GatewayResult.ValidationStatus)
	assert.True(t, resp.GatewayResult.Allowed)
	assert.True(t, resp.ExecutionResult.Success)
}

func TestOrchestrator_EscalateWithoutTokenFails(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := IRStepList() // includes the high-risk step
	plan := ir.NewIR("tenant-a", steps)

	_, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", IR: plan, GraphSpec: graphSpecForSteps(steps),
		GovernanceMode: ModeEnforced,
	})
	require.Error(t, err)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "approval_required", gwErr.ErrorCode)
}

func TestOrchestrator_EscalateWithValidTokenSucceeds(t *testing.T) {
	orch, ledger := newTestOrchestrator()
	steps := IRStepList()
	plan := ir.NewIR("tenant-a", steps)

	v := validator.New(nil)
	result, err := v.Validate(plan)
	require.NoError(t, err)
	require.Equal(t, ir.StatusEscalate, result.Status)

	issued, err := ledger.Create(context.Background(), "tenant-a", result.IRHash, "alice", 0)
	require.NoError(t, err)

	resp, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", IR: plan, GraphSpec: graphSpecForSteps(steps),
		GovernanceMode: ModeEnforced, ApprovalToken: issued.Token, ApprovedBy: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, string(ir.StatusEscalate), resp.GatewayResult.ValidationStatus)
	require.NotNil(t, resp.EvidencePack)
	require.NotNil(t, resp.EvidencePack.Governance)
	assert.NotEmpty(t, resp.EvidencePack.Governance.ApprovalID)
}

func TestOrchestrator_RejectedPlanShortCircuits(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := []ir.IRStep{{Action: "unknown.action", Provider: ir.ProviderDeployDocker, Resource: "x", IdempotencyKey: "idem", StepID: "s1"}}
	plan := ir.NewIR("tenant-a", steps)

	_, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", IR: plan, GraphSpec: graphSpecForSteps(steps),
		GovernanceMode: ModeEnforced,
	})
	require.Error(t, err)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "ir_rejected", gwErr.ErrorCode)
}

func TestOrchestrator_DiffAuditMismatchFails(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := IRStepList()[:1]
	plan := ir.NewIR("tenant-a", steps)

	spec := graphSpecForSteps(steps)
	spec.Nodes[0].NodeID = "not-a-step-id" // breaks the id match in mapIRToDAG

	_, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", IR: plan, GraphSpec: spec, GovernanceMode: ModeEnforced,
	})
	require.Error(t, err)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "diff_audit_failed", gwErr.ErrorCode)
}

func TestOrchestrator_GovernanceOffSkipsValidation(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := IRStepList()
	spec := graphSpecForSteps(steps)

	resp, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", GraphSpec: spec, GovernanceMode: ModeOff, Execute: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.GatewayResult.ValidationStatus)
	assert.True(t, resp.ExecutionResult.Success)
}

func TestOrchestrator_PolicyWiresGovernorIntoExecution(t *testing.T) {
	orch, _ := newTestOrchestrator()
	steps := IRStepList()[:1]
	spec := graphSpecForSteps(steps)

	resp, err := orch.Execute(context.Background(), Request{
		TenantID: "tenant-a", GraphSpec: spec, GovernanceMode: ModeOff, Execute: true,
		Policy: &governor.Policy{Budget: governor.Budget{MaxSteps: 0, StepsLimitType: governor.LimitHard}},
	})
	require.NoError(t, err)
	assert.False(t, resp.ExecutionResult.Success)
	require.NotEmpty(t, resp.ExecutionResult.GovernorDecisions)
}
