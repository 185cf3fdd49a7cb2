// Package diffaudit implements the bijection-and-hash-equality check
// between a validated IR's steps and the DAG nodes built from it: the
// last line of defense before execution, catching any divergence
// introduced by the DAG-construction step.
package diffaudit

import (
	"fmt"

	"github.com/ledgerflow/orchestrator/pkg/ir"
)

// HashMismatch records one IR step whose hash doesn't match the DAG
// node claiming to represent it.
type HashMismatch struct {
	IRStepID     string
	ExpectedHash string // truncated, for audit messages only
	ActualHash   string // truncated, for audit messages only
}

// Result is the outcome of a Diff-Audit run. Success is true iff all
// three slices are empty — nothing missing, nothing extra, no hash
// mismatch.
type Result struct {
	Success        bool
	MissingIRSteps []string // ir_step_ids present in the IR but absent from the DAG
	ExtraDAGNodes  []string // ir_step_ids present in the DAG but absent from the IR
	HashMismatches []HashMismatch
}

const truncateLen = 12

// Check compares plan's steps against the DAG node references built
// from it. Both indexes key on IRStepID (the step's StepID if set,
// else its positional index, matching ir.IRStep.EffectiveStepID), never
// on slice position — reordered steps or nodes still compare correctly.
func Check(plan *ir.IR, nodes []ir.DAGNodeRef) (Result, error) {
	irIndex := make(map[string]string, len(plan.Steps))
	for i, step := range plan.Steps {
		hash, err := ir.StepHash(step)
		if err != nil {
			return Result{}, fmt.Errorf("diffaudit: hashing ir step %d: %w", i, err)
		}
		irIndex[step.EffectiveStepID(i)] = hash
	}

	dagIndex := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if node.IRStepID == "" || node.IRStepHash == "" {
			return Result{}, fmt.Errorf("diffaudit: dag node missing ir_step_id or ir_step_hash: %w", ir.ErrMissingDAGRef)
		}
		dagIndex[node.IRStepID] = node.IRStepHash
	}

	var missing, extra []string
	var mismatches []HashMismatch

	for stepID, irHash := range irIndex {
		dagHash, ok := dagIndex[stepID]
		if !ok {
			missing = append(missing, stepID)
			continue
		}
		if dagHash != irHash {
			mismatches = append(mismatches, HashMismatch{
				IRStepID:     stepID,
				ExpectedHash: truncate(irHash),
				ActualHash:   truncate(dagHash),
			})
		}
	}
	for stepID := range dagIndex {
		if _, ok := irIndex[stepID]; !ok {
			extra = append(extra, stepID)
		}
	}

	return Result{
		Success:        len(missing) == 0 && len(extra) == 0 && len(mismatches) == 0,
		MissingIRSteps: missing,
		ExtraDAGNodes:  extra,
		HashMismatches: mismatches,
	}, nil
}

func truncate(hash string) string {
	if len(hash) <= truncateLen {
		return hash
	}
	return hash[:truncateLen]
}
