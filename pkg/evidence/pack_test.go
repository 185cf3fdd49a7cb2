package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/executor"
)

func buildTestPack(t *testing.T) *Pack {
	t.Helper()
	result := &executor.GraphResult{
		GraphID: "g1",
		Status:  executor.GraphCompleted,
		Success: true,
		NodeResults: map[string]*executor.NodeResult{
			"a": {NodeID: "a", Status: executor.StatusCompleted, Success: true},
		},
	}
	pack, err := Build(executor.GraphSpec{GraphID: "g1"}, result, []audit.Event{
		{ID: "e1", Type: audit.EventExecution, Name: "execution_graph_started"},
	}, &GovernanceMetadata{IRHash: "abc123", ValidationStatus: "pass"})
	require.NoError(t, err)
	return pack
}

func TestBuild_StampsContentHash(t *testing.T) {
	pack := buildTestPack(t)
	assert.NotEmpty(t, pack.PackID)
	assert.NotEmpty(t, pack.ContentHash)
}

func TestVerify_RoundTripSucceeds(t *testing.T) {
	pack := buildTestPack(t)
	ok, err := Verify(pack)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_DetectsTamper(t *testing.T) {
	pack := buildTestPack(t)
	pack.ExecutionResult.Status = executor.GraphFailed

	ok, err := Verify(pack)
	require.NoError(t, err)
	assert.False(t, ok)
}
