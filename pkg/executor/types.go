// Package executor implements the DAG Executor (§4.G): Kahn's-algorithm
// topological scheduling over a GraphSpec, dry-run/live execution via
// the node contract (pkg/node), governor-gated node entry (pkg/governor),
// and rollback orchestration on failure.
package executor

import (
	"time"

	"github.com/ledgerflow/orchestrator/pkg/governor"
	"github.com/ledgerflow/orchestrator/pkg/ir"
	"github.com/ledgerflow/orchestrator/pkg/node"
)

// NodeSpec is one DAG node as carried on a GraphSpec. DependsOn lists
// predecessors — nodes that must complete before this one is eligible
// — matching §9's resolved-in-our-favor reading of the source's
// ambiguous in-degree direction.
type NodeSpec struct {
	NodeID         string              `json:"node_id"`
	NodeType       string              `json:"node_type"`
	DependsOn      []string            `json:"depends_on,omitempty"`
	Capabilities   []node.Capability   `json:"capabilities,omitempty"`
	ExecutorClass  string              `json:"executor_class"`
	ExecutorParams map[string]ir.Value `json:"executor_params,omitempty"`
	Critical       bool                `json:"critical,omitempty"`
	ExternalCalls  int                 `json:"external_calls,omitempty"`

	// IRStepID/IRStepHash are populated by the gateway orchestrator
	// (§4.K step 4) when mapping a validated IR to this DAG; absent on
	// a GraphSpec executed without IR governance.
	IRStepID   string `json:"ir_step_id,omitempty"`
	IRStepHash string `json:"ir_step_hash,omitempty"`
}

// GraphSpec is the full input to one execution.
type GraphSpec struct {
	GraphID          string     `json:"graph_id"`
	Nodes            []NodeSpec `json:"nodes"`
	BusinessIntentID string     `json:"business_intent_id,omitempty"`
	DryRun           bool       `json:"dry_run"`
	AutoRollback     bool       `json:"auto_rollback"`
	StopOnFirstError bool       `json:"stop_on_first_error"`

	// Deadline, if set, is the run's cancellation cutoff (§5). The
	// executor checks it before starting each node: once it has passed,
	// the next node is marked failed and no further node starts. A node
	// already running is not interrupted when the deadline passes.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// DAGNodeRefs projects Nodes into the ir.DAGNodeRef shape the
// diff-audit gate and dag_hash computation need.
func (g GraphSpec) DAGNodeRefs() []ir.DAGNodeRef {
	out := make([]ir.DAGNodeRef, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = ir.DAGNodeRef{IRStepID: n.IRStepID, IRStepHash: n.IRStepHash}
	}
	return out
}

// ResultStatus is a node's terminal (or in-flight) state within a run.
type ResultStatus string

const (
	StatusPending   ResultStatus = "pending"
	StatusRunning   ResultStatus = "running"
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
	StatusPartial   ResultStatus = "partial"
	StatusSkipped   ResultStatus = "skipped"
)

// NodeResult is the per-node outcome of one run.
type NodeResult struct {
	NodeID            string                 `json:"node_id"`
	Status            ResultStatus           `json:"status"`
	StartedAt         *time.Time             `json:"started_at,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds   float64                `json:"duration_s"`
	Success           bool                   `json:"success"`
	Output            map[string]interface{} `json:"output,omitempty"`
	Artifacts         []node.Artifact        `json:"artifacts,omitempty"`
	Error             string                 `json:"error,omitempty"`
	RollbackAvailable bool                   `json:"rollback_available"`
	RolledBack        bool                   `json:"rolled_back,omitempty"`
	RollbackError     string                 `json:"rollback_error,omitempty"`
}

// GraphStatus is the overall run outcome.
type GraphStatus string

const (
	GraphCompleted GraphStatus = "COMPLETED"
	GraphFailed    GraphStatus = "FAILED"
	GraphPartial   GraphStatus = "PARTIAL"
)

// GraphResult is the full outcome of one Execute call.
type GraphResult struct {
	GraphID           string                  `json:"graph_id"`
	Status            GraphStatus             `json:"status"`
	Success           bool                    `json:"success"`
	NodeResults       map[string]*NodeResult  `json:"node_results"`
	ExecutionOrder    []string                `json:"execution_order"`
	CompletedOrder    []string                `json:"completed_order"`
	RolledBackOrder   []string                `json:"rolled_back_order,omitempty"`
	DurationSeconds   float64                 `json:"duration_s"`
	GovernorDecisions []governor.DecisionRecord `json:"governor_decisions,omitempty"`
	Reason            string                  `json:"reason,omitempty"`
}
