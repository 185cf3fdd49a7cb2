// Package evidence builds and verifies EvidencePacks (§4.J): a single
// hash-stamped record of one execution, combining the graph spec, its
// per-node results, every audit event emitted during the run, and
// optional IR-level governance metadata (never raw tokens or PII).
package evidence

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/canonicalize"
	"github.com/ledgerflow/orchestrator/pkg/executor"
)

// GovernanceMetadata carries the IR-level facts worth recording
// alongside an execution, never the raw IR or approval tokens
// themselves.
type GovernanceMetadata struct {
	IRHash           string `json:"ir_hash,omitempty"`
	ValidationStatus string `json:"validation_status,omitempty"`
	ApprovalID       string `json:"approval_id,omitempty"`
	BusinessIntentID string `json:"business_intent_id,omitempty"`
}

// Pack is the EvidencePack of §3: `{pack_id, graph_spec, execution_result,
// audit_events[], content_hash}`, with optional governance metadata.
type Pack struct {
	PackID           string                `json:"pack_id"`
	GraphSpec        executor.GraphSpec    `json:"graph_spec"`
	ExecutionResult  *executor.GraphResult `json:"execution_result"`
	AuditEvents      []audit.Event         `json:"audit_events,omitempty"`
	Governance       *GovernanceMetadata   `json:"governance,omitempty"`
	ContentHash      string                `json:"content_hash"`
}

// Build assembles a Pack from a completed run and stamps its
// content_hash: canonical JSON of the pack with content_hash set to
// the empty string, per §4.J step 2.
func Build(graphSpec executor.GraphSpec, result *executor.GraphResult, auditEvents []audit.Event, governance *GovernanceMetadata) (*Pack, error) {
	pack := &Pack{
		PackID:          uuid.NewString(),
		GraphSpec:       graphSpec,
		ExecutionResult: result,
		AuditEvents:     auditEvents,
		Governance:      governance,
	}

	hash, err := contentHash(pack)
	if err != nil {
		return nil, fmt.Errorf("evidence: build content hash: %w", err)
	}
	pack.ContentHash = hash
	return pack, nil
}

// Verify recomputes the pack's content hash with content_hash cleared
// and compares it to the stored value. A mismatch means the pack was
// tampered with after issuance (§4.J "Verification").
func Verify(pack *Pack) (bool, error) {
	stamped := pack.ContentHash
	copyPack := *pack
	copyPack.ContentHash = ""

	recomputed, err := contentHash(&copyPack)
	if err != nil {
		return false, fmt.Errorf("evidence: verify content hash: %w", err)
	}
	return recomputed == stamped, nil
}

func contentHash(pack *Pack) (string, error) {
	zeroed := *pack
	zeroed.ContentHash = ""
	return canonicalize.CanonicalHash(zeroed)
}
