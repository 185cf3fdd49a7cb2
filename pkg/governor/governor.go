package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ledgerflow/orchestrator/pkg/audit"
)

// Governor enforces budget and node-approval policy at node entry for
// exactly one graph execution. It holds live counters and a decision
// log; construct a fresh Governor per run.
type Governor struct {
	mu     sync.Mutex
	policy Policy
	logger audit.Logger

	startedAt time.Time
	started   bool

	stepsConsumed         int
	externalCallsConsumed int

	approvals map[string]*nodeApproval // keyed by node_id

	// rateLimiters enforces an additional, optional per-node-type rate
	// of node entries (one token per CheckNodeExecution that reaches
	// it), independent of the flat MaxExternalCalls budget —
	// reimplemented in-process since Governor state is explicitly
	// per-run, never shared (SPEC_FULL §4.F).
	rateLimiters map[string]*rate.Limiter

	decisionLog []DecisionRecord
}

// New constructs a Governor for one run under policy. logger may be
// nil, in which case governor decisions are not separately audited
// (the executor still records them via the decision log).
func New(policy Policy, logger audit.Logger) *Governor {
	if policy.ApprovalTTL <= 0 {
		policy.ApprovalTTL = DefaultApprovalTTL
	}
	return &Governor{
		policy:    policy,
		logger:    logger,
		approvals: make(map[string]*nodeApproval),
	}
}

// WithNodeTypeRateLimit configures an additional token-bucket limiter
// for nodeType: r tokens/sec, burst b. Purely additive to the flat
// budget check.
func (g *Governor) WithNodeTypeRateLimit(nodeType string, r rate.Limit, b int) *Governor {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rateLimiters == nil {
		g.rateLimiters = make(map[string]*rate.Limiter)
	}
	g.rateLimiters[nodeType] = rate.NewLimiter(r, b)
	return g
}

// Start marks the run's clock origin for the duration budget. Must be
// called once before the first CheckNodeExecution.
func (g *Governor) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startedAt = time.Now()
	g.started = true
}

// CheckNodeExecution decides whether spec may proceed, per the
// algorithm in §4.F: dry-run bypass, hard budget check, soft
// degradation, approval gate, else allow.
func (g *Governor) CheckNodeExecution(ctx context.Context, spec NodeSpec, isDryRun bool) (Decision, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		g.startedAt = time.Now()
		g.started = true
	}

	if isDryRun && !g.policy.DryRunRespectsLimits {
		return g.log(spec.NodeID, DecisionAllow, "dry run, limits not enforced")
	}

	if decision, reason, hard := g.checkHardBudget(spec); hard {
		return g.log(spec.NodeID, decision, reason)
	}

	if g.policy.AllowSoftDegradation && !g.isCriticalNode(spec) {
		if g.isAtSoftLimit() && g.policy.SkipOnSoftLimit[spec.NodeType] {
			return g.log(spec.NodeID, DecisionDegrade, "soft limit reached, node type configured to skip")
		}
	}

	if g.requiresApproval(spec) {
		decision, reason := g.checkApproval(spec)
		if decision != DecisionAllow {
			return g.log(spec.NodeID, decision, reason)
		}
	}

	if limiter, ok := g.rateLimiters[spec.NodeType]; ok {
		if !limiter.Allow() {
			return g.log(spec.NodeID, DecisionDeny, fmt.Sprintf("rate limit exceeded for node type %q", spec.NodeType))
		}
	}

	return g.log(spec.NodeID, DecisionAllow, "within budget")
}

func (g *Governor) checkHardBudget(spec NodeSpec) (Decision, string, bool) {
	b := g.policy.Budget

	if b.StepsLimitType == LimitHard {
		if g.stepsConsumed+1 > b.MaxSteps {
			return DecisionDeny, fmt.Sprintf("hard step budget exceeded: %d+1 > %d", g.stepsConsumed, b.MaxSteps), true
		}
	}
	if b.MaxDurationSeconds > 0 && b.DurationLimitType == LimitHard {
		elapsed := time.Since(g.startedAt).Seconds()
		if elapsed > b.MaxDurationSeconds {
			return DecisionDeny, fmt.Sprintf("hard duration budget exceeded: %.2fs > %.2fs", elapsed, b.MaxDurationSeconds), true
		}
	}
	if b.MaxExternalCalls > 0 && b.ExternalCallsLimitType == LimitHard {
		projected := g.externalCallsConsumed + spec.ExternalCalls
		if projected > b.MaxExternalCalls {
			return DecisionDeny, fmt.Sprintf("hard external-call budget exceeded: %d > %d", projected, b.MaxExternalCalls), true
		}
	}
	return DecisionAllow, "", false
}

func (g *Governor) isAtSoftLimit() bool {
	b := g.policy.Budget
	const softThreshold = 0.8

	if b.MaxSteps > 0 && b.StepsLimitType == LimitSoft {
		if float64(g.stepsConsumed)/float64(b.MaxSteps) >= softThreshold {
			return true
		}
	}
	if b.MaxDurationSeconds > 0 && b.DurationLimitType == LimitSoft {
		if time.Since(g.startedAt).Seconds()/b.MaxDurationSeconds >= softThreshold {
			return true
		}
	}
	if b.MaxExternalCalls > 0 && b.ExternalCallsLimitType == LimitSoft {
		if float64(g.externalCallsConsumed)/float64(b.MaxExternalCalls) >= softThreshold {
			return true
		}
	}
	return false
}

func (g *Governor) isCriticalNode(spec NodeSpec) bool {
	return spec.Critical || g.policy.CriticalNodes[spec.NodeID]
}

func (g *Governor) requiresApproval(spec NodeSpec) bool {
	return g.policy.RequiredApprovalNodes[spec.NodeID] || g.policy.RequiredApprovalNodeTypes[spec.NodeType]
}

// checkApproval looks up (and, on first sight, creates) a pending
// node-level approval request keyed by node_id.
func (g *Governor) checkApproval(spec NodeSpec) (Decision, string) {
	now := time.Now()
	existing, ok := g.approvals[spec.NodeID]
	if !ok {
		g.approvals[spec.NodeID] = &nodeApproval{
			Status:    napPending,
			CreatedAt: now,
			ExpiresAt: now.Add(g.policy.ApprovalTTL),
		}
		return DecisionRequireApproval, "approval required: no prior request, pending request created"
	}

	if existing.Status == napPending && now.After(existing.ExpiresAt) {
		existing.Status = napRejected
	}

	switch existing.Status {
	case napApproved:
		return DecisionAllow, "node approval granted"
	case napRejected:
		return DecisionDeny, "node approval rejected or expired"
	default:
		return DecisionRequireApproval, "approval still pending"
	}
}

// ApproveNode grants a pending node-level approval request.
func (g *Governor) ApproveNode(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.approvals[nodeID]
	if !ok {
		return fmt.Errorf("governor: no approval request for node %q", nodeID)
	}
	a.Status = napApproved
	return nil
}

// RejectNode denies a pending node-level approval request.
func (g *Governor) RejectNode(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.approvals[nodeID]
	if !ok {
		return fmt.Errorf("governor: no approval request for node %q", nodeID)
	}
	a.Status = napRejected
	return nil
}

// RecordNodeExecution updates counters after a node finishes — called
// regardless of the node's own success/failure, matching §4.F's
// "updates counters after the node finishes".
func (g *Governor) RecordNodeExecution(nodeID string, duration time.Duration, externalCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stepsConsumed++
	g.externalCallsConsumed += externalCalls
	_ = duration // duration budget is derived from startedAt, not accumulated
}

// DecisionLog returns a copy of every decision made so far, in order.
func (g *Governor) DecisionLog() []DecisionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]DecisionRecord, len(g.decisionLog))
	copy(out, g.decisionLog)
	return out
}

func (g *Governor) log(nodeID string, decision Decision, reason string) (Decision, string) {
	g.decisionLog = append(g.decisionLog, DecisionRecord{
		NodeID: nodeID, Decision: decision, Reason: reason, At: time.Now().UTC(),
	})
	if g.logger != nil {
		_ = g.logger.Record(context.Background(), audit.EventGovernor, "governor.node_decision", "", map[string]interface{}{
			"node_id":  nodeID,
			"decision": string(decision),
			"reason":   reason,
		})
	}
	return decision, reason
}
