package executor

import (
	"fmt"
	"sort"
)

// ErrCyclicDependency is returned when the dependency graph contains a
// cycle; construction fails before any node is instantiated, per §4.G.
type ErrCyclicDependency struct {
	Remaining []string
}

func (e *ErrCyclicDependency) Error() string {
	return fmt.Sprintf("executor: cyclic dependency detected among nodes %v", e.Remaining)
}

// topologicalOrder runs Kahn's algorithm over nodes, treating DependsOn
// as predecessors (must-complete-before), per the resolved reading of
// §9's open question. Ties among simultaneously-eligible nodes break on
// NodeID for deterministic, reproducible ordering across runs.
func topologicalOrder(nodes []NodeSpec) ([]string, error) {
	byID := make(map[string]NodeSpec, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("executor: node %q depends on unknown node %q", n.NodeID, dep)
			}
		}
	}

	// successors[p] = nodes that list p as a dependency (predecessor).
	successors := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.NodeID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			successors[dep] = append(successors[dep], n.NodeID)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.NodeID] == 0 {
			ready = append(ready, n.NodeID)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, succ := range successors[next] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(nodes) {
		remaining := make([]string, 0, len(nodes)-len(order))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, n := range nodes {
			if !seen[n.NodeID] {
				remaining = append(remaining, n.NodeID)
			}
		}
		sort.Strings(remaining)
		return nil, &ErrCyclicDependency{Remaining: remaining}
	}

	return order, nil
}
