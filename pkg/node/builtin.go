package node

import (
	"context"
	"fmt"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

// Driver abstracts the actual side-effecting call a DynamicNode makes,
// mirroring the teacher's ToolDriver split between "what a node
// contractually does" and "how it reaches the outside world" — real
// provider clients (DNS, ERP RPC, deploy APIs) implement Driver and are
// wired in by the caller; this package never imports a concrete one.
type Driver interface {
	Call(ctx context.Context, resource string, params map[string]ir.Value) (map[string]interface{}, error)
}

// DynamicNode is a generic, driver-backed node used for any
// executor_class whose side effect is "call Driver.Call with this
// resource and these params". It declares exactly the capabilities it
// is configured with (see NewDynamicNodeFactory), and is the node
// registered for plans that don't need a bespoke implementation.
type DynamicNode struct {
	NodeID       string
	Resource     string
	Params       map[string]ir.Value
	Driver       Driver
	Caps         []Capability
	DryRunOutput map[string]interface{}
	Rollbacker   func(ctx context.Context, ectx *Context) error
}

// NewDynamicNodeFactory returns a Factory that builds a DynamicNode
// bound to driver, looking resource up from executor_params["resource"]
// and deriving capabilities from executor_params["capabilities"] (a
// list of strings) when present, else defaulting to
// {EXTERNAL, IDEMPOTENT}.
func NewDynamicNodeFactory(driver Driver) Factory {
	return func(nodeID string, params map[string]ir.Value) (Node, error) {
		resource := ""
		if v, ok := params["resource"]; ok {
			if s, ok := v.AsString(); ok {
				resource = s
			}
		}
		caps := []Capability{CapExternal, CapIdempotent}
		if v, ok := params["capabilities"]; ok {
			if list, ok := v.AsList(); ok {
				caps = nil
				for _, c := range list {
					if s, ok := c.AsString(); ok {
						caps = append(caps, Capability(s))
					}
				}
			}
		}
		return &DynamicNode{
			NodeID:   nodeID,
			Resource: resource,
			Params:   params,
			Driver:   driver,
			Caps:     caps,
		}, nil
	}
}

func (n *DynamicNode) Capabilities() []Capability { return n.Caps }

func (n *DynamicNode) ValidateBeforeExecution(ctx context.Context, ectx *Context) error {
	if n.Driver == nil {
		return fmt.Errorf("node %s: no driver configured", n.NodeID)
	}
	if n.Resource == "" {
		return fmt.Errorf("node %s: resource is required", n.NodeID)
	}
	return nil
}

func (n *DynamicNode) Execute(ctx context.Context, ectx *Context) (map[string]interface{}, []Artifact, error) {
	out, err := n.Driver.Call(ctx, n.Resource, n.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("node %s: execute: %w", n.NodeID, err)
	}
	return out, nil, nil
}

func (n *DynamicNode) DryRun(ctx context.Context, ectx *Context) (map[string]interface{}, []Artifact, error) {
	if !Has(n.Caps, CapDryRun) {
		return nil, nil, ErrDryRunNotImplemented
	}
	if n.DryRunOutput != nil {
		return n.DryRunOutput, nil, nil
	}
	return map[string]interface{}{"dry_run": true, "resource": n.Resource}, nil, nil
}

func (n *DynamicNode) Rollback(ctx context.Context, ectx *Context) error {
	if !Has(n.Caps, CapRollbackable) {
		return ErrRollbackNotImplemented
	}
	if n.Rollbacker != nil {
		return n.Rollbacker(ctx, ectx)
	}
	return nil
}

// NoopDriver is a Driver that performs no side effect and returns its
// resource with status "ok" — used for dry-run-only plans and tests.
type NoopDriver struct{}

func (NoopDriver) Call(ctx context.Context, resource string, params map[string]ir.Value) (map[string]interface{}, error) {
	return map[string]interface{}{"resource": resource, "status": "ok"}, nil
}
