package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/node"
)

// Executor runs one GraphSpec to a GraphResult: topological scheduling,
// governor-gated node entry, and rollback orchestration on failure.
type Executor struct {
	registry *node.Registry
	logger   audit.Logger
}

// New constructs an Executor backed by registry (the executor_class ->
// Node factory map). logger may be nil.
func New(registry *node.Registry, logger audit.Logger) *Executor {
	return &Executor{registry: registry, logger: logger}
}

// Execute runs spec to completion (or to its first stopping failure),
// optionally gated by gov (nil means no governor — every node is
// unconditionally allowed). The dry-run branch of the node contract is
// used throughout when spec.DryRun is set.
func (e *Executor) Execute(ctx context.Context, spec GraphSpec, gov *governor.Governor) (*GraphResult, error) {
	start := time.Now()

	for _, n := range spec.Nodes {
		if n.ExecutorClass == "" {
			return nil, fmt.Errorf("executor: node %q has no executor_class", n.NodeID)
		}
	}

	order, err := topologicalOrder(spec.Nodes)
	if err != nil {
		return nil, err
	}

	if gov != nil {
		gov.Start()
	}

	byID := make(map[string]NodeSpec, len(spec.Nodes))
	for _, n := range spec.Nodes {
		byID[n.NodeID] = n
	}

	ectx := node.NewContext(spec.GraphID, spec.BusinessIntentID, spec.DryRun)

	result := &GraphResult{
		GraphID:        spec.GraphID,
		NodeResults:    make(map[string]*NodeResult, len(spec.Nodes)),
		ExecutionOrder: order,
	}

	e.record(ctx, "execution_graph_started", map[string]interface{}{
		"graph_id":   spec.GraphID,
		"node_count": len(spec.Nodes),
		"dry_run":    spec.DryRun,
	})

	var completedOrder []string
	anyFailed := false
	anyCriticalFailed := false

runLoop:
	for _, nodeID := range order {
		ns := byID[nodeID]

		if deadlineExceeded(spec.Deadline) {
			result.NodeResults[nodeID] = &NodeResult{NodeID: nodeID, Status: StatusFailed, Error: "graph deadline exceeded"}
			anyFailed = true
			if ns.Critical {
				anyCriticalFailed = true
			}
			break runLoop
		}

		if gov != nil {
			decision, reason := gov.CheckNodeExecution(ctx, governor.NodeSpec{
				NodeID: ns.NodeID, NodeType: ns.NodeType, Critical: ns.Critical, ExternalCalls: ns.ExternalCalls,
			}, spec.DryRun)

			switch decision {
			case governor.DecisionDegrade:
				result.NodeResults[nodeID] = &NodeResult{NodeID: nodeID, Status: StatusSkipped}
				e.record(ctx, "execution_graph_node_degraded", map[string]interface{}{"node_id": nodeID, "reason": reason})
				continue
			case governor.DecisionDeny, governor.DecisionRequireApproval:
				result.NodeResults[nodeID] = &NodeResult{NodeID: nodeID, Status: StatusFailed, Error: reason}
				e.record(ctx, "execution_graph_node_failed", map[string]interface{}{"node_id": nodeID, "reason": reason})
				anyFailed = true
				if ns.Critical {
					anyCriticalFailed = true
				}
				break runLoop
			}
		}

		nr := e.runOneNode(ctx, ns, ectx)
		result.NodeResults[nodeID] = nr

		callsMade := 0
		if nr.Success {
			callsMade = ns.ExternalCalls
		}
		if gov != nil {
			gov.RecordNodeExecution(nodeID, time.Duration(nr.DurationSeconds*float64(time.Second)), callsMade)
		}

		if nr.Success {
			completedOrder = append(completedOrder, nodeID)
			for _, a := range nr.Artifacts {
				ectx.AddArtifact(a)
			}
			continue
		}

		anyFailed = true
		e.record(ctx, "execution_graph_node_failed", map[string]interface{}{"node_id": nodeID, "error": nr.Error})
		if ns.Critical {
			anyCriticalFailed = true
		}
		if spec.StopOnFirstError || ns.Critical {
			break runLoop
		}
	}

	result.CompletedOrder = completedOrder

	if anyFailed && spec.AutoRollback {
		e.rollback(ctx, byID, ectx, result, completedOrder)
	}

	result.DurationSeconds = time.Since(start).Seconds()
	result.Status, result.Success = finalStatus(len(spec.Nodes), len(completedOrder), anyFailed, anyCriticalFailed)
	if gov != nil {
		result.GovernorDecisions = gov.DecisionLog()
	}
	if !result.Success {
		result.Reason = "one or more nodes failed"
	}

	e.record(ctx, "execution_graph_completed", map[string]interface{}{
		"graph_id": spec.GraphID,
		"status":   string(result.Status),
		"duration": result.DurationSeconds,
	})

	return result, nil
}

// runOneNode instantiates and executes (or dry-runs) a single node,
// wrapping any uncaught error or panic as a node failure per §4.H's
// fail-closed rule.
func (e *Executor) runOneNode(ctx context.Context, spec NodeSpec, ectx *node.Context) (nr *NodeResult) {
	started := time.Now()
	nr = &NodeResult{NodeID: spec.NodeID, Status: StatusRunning}
	startedAt := started.UTC()
	nr.StartedAt = &startedAt

	defer func() {
		if r := recover(); r != nil {
			nr.Success = false
			nr.Status = StatusFailed
			nr.Error = fmt.Sprintf("panic: %v", r)
		}
		completed := time.Now().UTC()
		nr.CompletedAt = &completed
		nr.DurationSeconds = time.Since(started).Seconds()
	}()

	n, err := e.registry.Build(spec.ExecutorClass, spec.NodeID, spec.ExecutorParams)
	if err != nil {
		nr.Status = StatusFailed
		nr.Error = err.Error()
		return nr
	}

	nr.RollbackAvailable = node.Has(n.Capabilities(), node.CapRollbackable)

	if err := n.ValidateBeforeExecution(ctx, ectx); err != nil {
		nr.Status = StatusFailed
		nr.Error = fmt.Sprintf("precondition failed: %v", err)
		return nr
	}

	var output map[string]interface{}
	var artifacts []node.Artifact

	if ectx.DryRun {
		output, artifacts, err = n.DryRun(ctx, ectx)
	} else {
		output, artifacts, err = n.Execute(ctx, ectx)
	}
	if err != nil {
		nr.Status = StatusFailed
		nr.Error = err.Error()
		return nr
	}

	nr.Status = StatusCompleted
	nr.Success = true
	nr.Output = output
	nr.Artifacts = artifacts
	return nr
}

// rollback iterates completed nodes in reverse completion order,
// invoking Rollback for any ROLLBACKABLE node. Non-rollbackable nodes
// are logged and skipped; rollback failures are recorded but never
// stop the sweep, per §4.G step 3.
func (e *Executor) rollback(ctx context.Context, byID map[string]NodeSpec, ectx *node.Context, result *GraphResult, completedOrder []string) {
	e.record(ctx, "execution_graph_rollback_started", map[string]interface{}{"graph_id": result.GraphID, "node_count": len(completedOrder)})

	var rolledBack []string
	for i := len(completedOrder) - 1; i >= 0; i-- {
		nodeID := completedOrder[i]
		ns := byID[nodeID]
		nr := result.NodeResults[nodeID]

		if !nr.RollbackAvailable {
			e.record(ctx, "execution_graph_rollback_skipped", map[string]interface{}{"node_id": nodeID, "reason": "node is not rollbackable"})
			continue
		}

		n, err := e.registry.Build(ns.ExecutorClass, ns.NodeID, ns.ExecutorParams)
		if err != nil {
			nr.RollbackError = err.Error()
			continue
		}

		if err := n.Rollback(ctx, ectx); err != nil {
			nr.RollbackError = err.Error()
			continue
		}
		nr.RolledBack = true
		rolledBack = append(rolledBack, nodeID)
	}

	result.RolledBackOrder = rolledBack
	e.record(ctx, "execution_graph_rollback_completed", map[string]interface{}{"graph_id": result.GraphID, "rolled_back": len(rolledBack)})
}

func finalStatus(total, completed int, anyFailed, anyCriticalFailed bool) (GraphStatus, bool) {
	if !anyFailed {
		return GraphCompleted, true
	}
	if anyCriticalFailed || completed == 0 {
		return GraphFailed, false
	}
	return GraphPartial, false
}

func deadlineExceeded(deadline *time.Time) bool {
	return deadline != nil && time.Now().After(*deadline)
}

func (e *Executor) record(ctx context.Context, name string, metadata map[string]interface{}) {
	if e.logger == nil {
		return
	}
	_ = e.logger.Record(ctx, audit.EventExecution, name, "", metadata)
}
