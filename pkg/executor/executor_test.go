package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/ir"
	"github.com/ledgerflow/orchestrator/pkg/node"
)

// scriptedNode is a minimal node.Node whose behavior is configured per
// test, used instead of a real provider client.
type scriptedNode struct {
	caps        []node.Capability
	failExecute error
	failValidate error
	rollbackErr error
	rolledBack  *bool
}

func (n *scriptedNode) Capabilities() []node.Capability { return n.caps }

func (n *scriptedNode) ValidateBeforeExecution(ctx context.Context, ectx *node.Context) error {
	return n.failValidate
}

func (n *scriptedNode) Execute(ctx context.Context, ectx *node.Context) (map[string]interface{}, []node.Artifact, error) {
	if n.failExecute != nil {
		return nil, nil, n.failExecute
	}
	return map[string]interface{}{"ok": true}, nil, nil
}

func (n *scriptedNode) DryRun(ctx context.Context, ectx *node.Context) (map[string]interface{}, []node.Artifact, error) {
	return map[string]interface{}{"dry_run": true}, nil, nil
}

func (n *scriptedNode) Rollback(ctx context.Context, ectx *node.Context) error {
	if !node.Has(n.caps, node.CapRollbackable) {
		return node.ErrRollbackNotImplemented
	}
	if n.rolledBack != nil {
		*n.rolledBack = true
	}
	return n.rollbackErr
}

func TestExecutor_RunsInTopologicalOrder(t *testing.T) {
	r := node.NewRegistry()
	r.Register("ok", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{caps: []node.Capability{node.CapIdempotent}}, nil
	})

	exec := New(r, nil)
	spec := GraphSpec{
		GraphID: "g1",
		Nodes: []NodeSpec{
			{NodeID: "b", ExecutorClass: "ok", DependsOn: []string{"a"}},
			{NodeID: "a", ExecutorClass: "ok"},
		},
	}

	result, err := exec.Execute(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.ExecutionOrder)
	assert.Equal(t, GraphCompleted, result.Status)
	assert.True(t, result.Success)
}

func TestExecutor_CriticalFailureStopsRun(t *testing.T) {
	r := node.NewRegistry()
	r.Register("fail", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{failExecute: errors.New("boom")}, nil
	})
	r.Register("ok", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{}, nil
	})

	exec := New(r, nil)
	spec := GraphSpec{
		GraphID: "g1",
		Nodes: []NodeSpec{
			{NodeID: "a", ExecutorClass: "fail", Critical: true},
			{NodeID: "b", ExecutorClass: "ok", DependsOn: []string{"a"}},
		},
	}

	result, err := exec.Execute(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, GraphFailed, result.Status)
	assert.False(t, result.Success)
	_, ranB := result.NodeResults["b"]
	assert.False(t, ranB)
}

func TestExecutor_NonCriticalFailureYieldsPartial(t *testing.T) {
	r := node.NewRegistry()
	r.Register("fail", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{failExecute: errors.New("boom")}, nil
	})
	r.Register("ok", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{}, nil
	})

	exec := New(r, nil)
	spec := GraphSpec{
		GraphID: "g1",
		Nodes: []NodeSpec{
			{NodeID: "a", ExecutorClass: "fail"},
			{NodeID: "b", ExecutorClass: "ok"},
		},
	}

	result, err := exec.Execute(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, GraphPartial, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"b"}, result.CompletedOrder)
}

func TestExecutor_RollbackReversesCompletionOrder(t *testing.T) {
	var rolledA, rolledB bool
	r := node.NewRegistry()
	r.Register("ok-a", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{caps: []node.Capability{node.CapRollbackable}, rolledBack: &rolledA}, nil
	})
	r.Register("ok-b", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{caps: []node.Capability{node.CapRollbackable}, rolledBack: &rolledB}, nil
	})
	r.Register("fail", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{failExecute: errors.New("boom"), caps: []node.Capability{node.CapRollbackable}}, nil
	})

	exec := New(r, nil)
	spec := GraphSpec{
		GraphID:      "g1",
		AutoRollback: true,
		Nodes: []NodeSpec{
			{NodeID: "a", ExecutorClass: "ok-a"},
			{NodeID: "b", ExecutorClass: "ok-b", DependsOn: []string{"a"}},
			{NodeID: "c", ExecutorClass: "fail", DependsOn: []string{"b"}, Critical: true},
		},
	}

	result, err := exec.Execute(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.True(t, rolledA)
	assert.True(t, rolledB)
	assert.Equal(t, []string{"b", "a"}, result.RolledBackOrder)
}

func TestExecutor_GovernorDenyFailsNode(t *testing.T) {
	r := node.NewRegistry()
	r.Register("ok", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &scriptedNode{}, nil
	})

	gov := governor.New(governor.Policy{Budget: governor.Budget{MaxSteps: 0, StepsLimitType: governor.LimitHard}}, nil)
	exec := New(r, nil)
	spec := GraphSpec{GraphID: "g1", Nodes: []NodeSpec{{NodeID: "a", ExecutorClass: "ok", Critical: true}}}

	result, err := exec.Execute(context.Background(), spec, gov)
	require.NoError(t, err)
	assert.Equal(t, GraphFailed, result.Status)
	assert.Equal(t, StatusFailed, result.NodeResults["a"].Status)
}

func TestExecutor_PanicIsWrappedAsFailure(t *testing.T) {
	r := node.NewRegistry()
	r.Register("panics", func(nodeID string, params map[string]ir.Value) (node.Node, error) {
		return &panicNode{}, nil
	})

	exec := New(r, nil)
	spec := GraphSpec{GraphID: "g1", Nodes: []NodeSpec{{NodeID: "a", ExecutorClass: "panics"}}}

	result, err := exec.Execute(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.NodeResults["a"].Status)
	assert.Contains(t, result.NodeResults["a"].Error, "panic")
}

type panicNode struct{}

func (panicNode) Capabilities() []node.Capability { return nil }
func (panicNode) ValidateBeforeExecution(ctx context.Context, ectx *node.Context) error {
	return nil
}
func (panicNode) Execute(ctx context.Context, ectx *node.Context) (map[string]interface{}, []node.Artifact, error) {
	panic("node exploded")
}
func (panicNode) DryRun(ctx context.Context, ectx *node.Context) (map[string]interface{}, []node.Artifact, error) {
	return nil, nil, nil
}
func (panicNode) Rollback(ctx context.Context, ectx *node.Context) error { return node.ErrRollbackNotImplemented }
