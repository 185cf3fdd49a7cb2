// Package governor implements the in-band Execution Governor: per-run
// budget enforcement and node-type/node-id approval gating at node
// entry, per §4.F. A Governor instance is strictly per-run — it is
// never shared across graphs, and it speaks to the IR approval ledger
// (pkg/approval) only through events, never by sharing state, per the
// open question resolved in §9/SPEC_FULL §4.L.
package governor

import "time"

// LimitType marks whether a budget dimension is enforced strictly
// (HARD, run-ending) or advisory (SOFT, drives degradation only).
type LimitType string

const (
	LimitSoft LimitType = "soft"
	LimitHard LimitType = "hard"
)

// Budget is the policy's resource ceiling for one run.
type Budget struct {
	MaxSteps               int
	MaxDurationSeconds      float64
	MaxExternalCalls        int
	StepsLimitType         LimitType
	DurationLimitType      LimitType
	ExternalCallsLimitType LimitType
}

// Policy is the full governor configuration for one run: budget,
// degradation behavior, and the node/node-type approval lists.
type Policy struct {
	Budget Budget

	// DryRunRespectsLimits, when false, makes dry-run executions bypass
	// every budget/approval check (§4.F.1).
	DryRunRespectsLimits bool

	// AllowSoftDegradation enables the soft-limit check (§4.F.3).
	AllowSoftDegradation bool

	// CriticalNodes and SkipOnSoftLimit hold node ids / node types
	// respectively; a node whose id is in CriticalNodes, or whose
	// NodeSpec.Critical is true, is never degraded regardless of
	// SkipOnSoftLimit membership.
	CriticalNodes   map[string]bool
	SkipOnSoftLimit map[string]bool // keyed by node type

	// RequiredApprovalNodes/NodeTypes gate node execution on an
	// approval distinct from the IR-level approval ledger (§4.F note).
	RequiredApprovalNodes     map[string]bool
	RequiredApprovalNodeTypes map[string]bool

	// ApprovalTTL is the pending-request lifetime created on first
	// REQUIRE_APPROVAL (15 minutes per §4.F.4 if zero).
	ApprovalTTL time.Duration
}

// DefaultApprovalTTL is applied when Policy.ApprovalTTL is zero.
const DefaultApprovalTTL = 15 * time.Minute

// Decision is the governor's verdict for one node at entry.
type Decision string

const (
	DecisionAllow           Decision = "ALLOW"
	DecisionDeny            Decision = "DENY"
	DecisionRequireApproval Decision = "REQUIRE_APPROVAL"
	DecisionDegrade         Decision = "DEGRADE"
)

// NodeSpec is the minimal node shape the governor needs to decide.
type NodeSpec struct {
	NodeID        string
	NodeType      string
	Critical      bool
	ExternalCalls int // declared external calls this node is expected to make
}

// BudgetViolation records which hard limit was breached.
type BudgetViolation struct {
	Counter  string
	Limit    float64
	Consumed float64
}

// DecisionRecord is one entry in the governor's decision log.
type DecisionRecord struct {
	NodeID   string    `json:"node_id"`
	Decision Decision  `json:"decision"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// approvalStatus is the internal lifecycle of a governor node-approval
// request — deliberately distinct from approval.Status (§4.D), never
// merged with it.
type approvalStatus string

const (
	napPending  approvalStatus = "pending"
	napApproved approvalStatus = "approved"
	napRejected approvalStatus = "rejected"
)

type nodeApproval struct {
	Status    approvalStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}
