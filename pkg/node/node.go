// Package node defines the uniform contract every DAG node implements:
// execute, dry_run, rollback, and a pre-execution check, plus the
// declared capability set that tells the executor and governor what a
// node is allowed/expected to do. Node implementers never perform their
// own audit writes or policy decisions — they return structured output
// and artifact references through the shared Context, and the executor
// records the rest.
package node

import (
	"context"
	"errors"
	"sync"
)

// Capability is one declared ability of a node.
type Capability string

const (
	// CapDryRun means the node implements a pure or side-effect-free
	// DryRun. The executor does not check it: in a dry-run graph it
	// calls DryRun on every node.
	CapDryRun Capability = "DRY_RUN"
	// CapRollbackable means the node implements Rollback; required
	// before auto-rollback will ever invoke it.
	CapRollbackable Capability = "ROLLBACKABLE"
	// CapIdempotent means repeated Execute calls with the same
	// idempotency key produce the same effect exactly once.
	CapIdempotent Capability = "IDEMPOTENT"
	// CapExternal means Execute performs at least one external call,
	// counted against the governor's external-call budget.
	CapExternal Capability = "EXTERNAL"
)

// Has reports whether capability c is present in set.
func Has(set []Capability, c Capability) bool {
	for _, have := range set {
		if have == c {
			return true
		}
	}
	return false
}

// Artifact is a reference to an output produced by a node — a file
// path, an object-store key, or an inline small payload. Nodes append
// artifacts to the Context rather than writing them anywhere
// themselves.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Path        string `json:"path,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Context is the per-run container shared by every node in one graph
// execution: shared key/value state (append/overwrite, never deleted),
// the accumulated artifact list, and run identity. It is single-writer
// (the executor) with nodes reading/writing their own keys while they
// run; a Context is never shared across graphs.
type Context struct {
	GraphID           string
	BusinessIntentID  string
	DryRun            bool
	DeclaredNodeOrder []string

	mu        sync.Mutex
	state     map[string]interface{}
	artifacts []Artifact
}

// NewContext constructs an empty execution context for one graph run.
func NewContext(graphID, businessIntentID string, dryRun bool) *Context {
	return &Context{
		GraphID:          graphID,
		BusinessIntentID: businessIntentID,
		DryRun:           dryRun,
		state:            make(map[string]interface{}),
	}
}

// Set stores or overwrites a value under key. Per §3, shared state is
// append/overwrite by key; ordering of Set calls across nodes matches
// execution order because the executor runs one node at a time.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// Get retrieves a previously Set value.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// AddArtifact appends an artifact reference produced by a node.
func (c *Context) AddArtifact(a Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts = append(c.artifacts, a)
}

// Artifacts returns a copy of every artifact accumulated so far.
func (c *Context) Artifacts() []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Artifact, len(c.artifacts))
	copy(out, c.artifacts)
	return out
}

// ErrRollbackNotImplemented is returned by Rollback when a node did not
// declare CapRollbackable. The executor treats this as "non-rollbackable
// node, logged and skipped" per §4.G step 3, never as a run-ending
// error.
var ErrRollbackNotImplemented = errors.New("node: rollback not implemented")

// ErrDryRunNotImplemented is returned by DryRun when a node did not
// declare CapDryRun.
var ErrDryRunNotImplemented = errors.New("node: dry run not implemented")

// Node is the uniform contract every DAG node type implements.
// Implementations must be safe to construct fresh per execution (the
// registry's Factory builds one instance per node in the graph) and
// must treat Execute as idempotent whenever CapIdempotent is declared.
type Node interface {
	// Capabilities reports the node's declared ability set.
	Capabilities() []Capability

	// ValidateBeforeExecution is the precondition check; a returned
	// error stops the run before any side effect, per §4.H's fail-closed
	// invalid-input rule.
	ValidateBeforeExecution(ctx context.Context, ectx *Context) error

	// Execute runs the node for real. Must be idempotent when
	// CapIdempotent is declared.
	Execute(ctx context.Context, ectx *Context) (map[string]interface{}, []Artifact, error)

	// DryRun previews the node's effect without side effects. The
	// executor calls it for every node of a dry-run graph, whether or
	// not CapDryRun is declared; implementations that do not declare it
	// may return ErrDryRunNotImplemented, which fails the node.
	DryRun(ctx context.Context, ectx *Context) (map[string]interface{}, []Artifact, error)

	// Rollback undoes a prior successful Execute. Only called when
	// CapRollbackable is declared; implementations that do not declare
	// it must return ErrRollbackNotImplemented.
	Rollback(ctx context.Context, ectx *Context) error
}
