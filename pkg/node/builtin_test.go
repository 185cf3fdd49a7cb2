package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

func TestDynamicNode_ExecuteUsesDriver(t *testing.T) {
	factory := NewDynamicNodeFactory(NoopDriver{})
	n, err := factory("n1", map[string]ir.Value{"resource": ir.String("dns.record")})
	require.NoError(t, err)

	ectx := NewContext("g1", "bi1", false)
	require.NoError(t, n.ValidateBeforeExecution(context.Background(), ectx))

	out, artifacts, err := n.Execute(context.Background(), ectx)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.Equal(t, "ok", out["status"])
}

func TestDynamicNode_ValidateFailsWithoutResource(t *testing.T) {
	factory := NewDynamicNodeFactory(NoopDriver{})
	n, err := factory("n1", nil)
	require.NoError(t, err)

	ectx := NewContext("g1", "bi1", false)
	assert.Error(t, n.ValidateBeforeExecution(context.Background(), ectx))
}

func TestDynamicNode_RollbackNotImplementedByDefault(t *testing.T) {
	factory := NewDynamicNodeFactory(NoopDriver{})
	n, err := factory("n1", map[string]ir.Value{"resource": ir.String("dns.record")})
	require.NoError(t, err)

	err = n.Rollback(context.Background(), NewContext("g1", "bi1", false))
	assert.ErrorIs(t, err, ErrRollbackNotImplemented)
}

func TestDynamicNode_CapabilitiesFromParams(t *testing.T) {
	factory := NewDynamicNodeFactory(NoopDriver{})
	n, err := factory("n1", map[string]ir.Value{
		"resource":     ir.String("dns.record"),
		"capabilities": ir.List([]ir.Value{ir.String("ROLLBACKABLE"), ir.String("DRY_RUN")}),
	})
	require.NoError(t, err)

	dn := n.(*DynamicNode)
	assert.True(t, Has(dn.Capabilities(), CapRollbackable))
	assert.True(t, Has(dn.Capabilities(), CapDryRun))
	assert.False(t, Has(dn.Capabilities(), CapExternal))
}

func TestDynamicNode_DryRunRequiresCapability(t *testing.T) {
	factory := NewDynamicNodeFactory(NoopDriver{})
	n, err := factory("n1", map[string]ir.Value{"resource": ir.String("dns.record")})
	require.NoError(t, err)

	_, _, err = n.DryRun(context.Background(), NewContext("g1", "bi1", true))
	assert.ErrorIs(t, err, ErrDryRunNotImplemented)
}

func TestContext_SetGetAndArtifacts(t *testing.T) {
	ctx := NewContext("g1", "bi1", false)
	ctx.Set("k", "v")
	v, ok := ctx.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	ctx.AddArtifact(Artifact{Name: "out.json"})
	assert.Len(t, ctx.Artifacts(), 1)
}
