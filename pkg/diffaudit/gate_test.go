package diffaudit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

func samplePlan() *ir.IR {
	return ir.NewIR("tenant-a", []ir.IRStep{
		{Action: ir.ActionDeployWebsite, Provider: ir.ProviderDeployV1, Resource: "r1", IdempotencyKey: "k1", StepID: "step-1"},
		{Action: ir.ActionDNSUpdateRecords, Provider: ir.ProviderDNSHetzner, Resource: "r2", IdempotencyKey: "k2", StepID: "step-2"},
	})
}

func nodesFor(t *testing.T, plan *ir.IR) []ir.DAGNodeRef {
	t.Helper()
	nodes := make([]ir.DAGNodeRef, len(plan.Steps))
	for i, step := range plan.Steps {
		hash, err := ir.StepHash(step)
		require.NoError(t, err)
		nodes[i] = ir.DAGNodeRef{IRStepID: step.EffectiveStepID(i), IRStepHash: hash}
	}
	return nodes
}

func TestCheck_SuccessWhenBijectionHolds(t *testing.T) {
	plan := samplePlan()
	nodes := nodesFor(t, plan)

	result, err := Check(plan, nodes)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.MissingIRSteps)
	assert.Empty(t, result.ExtraDAGNodes)
	assert.Empty(t, result.HashMismatches)
}

func TestCheck_DetectsMissingDAGNode(t *testing.T) {
	plan := samplePlan()
	nodes := nodesFor(t, plan)
	nodes = nodes[:1]

	result, err := Check(plan, nodes)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"step-2"}, result.MissingIRSteps)
}

func TestCheck_DetectsExtraDAGNode(t *testing.T) {
	plan := samplePlan()
	nodes := nodesFor(t, plan)
	nodes = append(nodes, ir.DAGNodeRef{IRStepID: "ghost-step", IRStepHash: "deadbeef"})

	result, err := Check(plan, nodes)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"ghost-step"}, result.ExtraDAGNodes)
}

func TestCheck_DetectsHashMismatch(t *testing.T) {
	plan := samplePlan()
	nodes := nodesFor(t, plan)
	nodes[0].IRStepHash = "tampered-hash-value"

	result, err := Check(plan, nodes)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.HashMismatches, 1)
	assert.Equal(t, "step-1", result.HashMismatches[0].IRStepID)
	assert.Len(t, result.HashMismatches[0].ActualHash, truncateLen)
}

func TestCheck_RejectsDAGNodeMissingHashFields(t *testing.T) {
	plan := samplePlan()
	nodes := nodesFor(t, plan)
	nodes[1].IRStepHash = ""

	_, err := Check(plan, nodes)
	assert.ErrorIs(t, err, ir.ErrMissingDAGRef)
}

func TestCheck_FallsBackToPositionalStepID(t *testing.T) {
	plan := ir.NewIR("tenant-a", []ir.IRStep{
		{Action: ir.ActionDeployWebsite, Provider: ir.ProviderDeployV1, Resource: "r1", IdempotencyKey: "k1"},
	})
	nodes := nodesFor(t, plan)
	assert.Equal(t, "0", nodes[0].IRStepID)

	result, err := Check(plan, nodes)
	require.NoError(t, err)
	assert.True(t, result.Success)
}
