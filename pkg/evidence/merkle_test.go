package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/orchestrator/pkg/audit"
	"github.com/ledgerflow/orchestrator/pkg/executor"
)

func TestMerkleBuilder_BuildAndVerifyProof(t *testing.T) {
	b := NewMerkleBuilder()
	require.NoError(t, b.AddLeaf("a", map[string]interface{}{"x": 1}))
	require.NoError(t, b.AddLeaf("b", map[string]interface{}{"y": 2}))
	require.NoError(t, b.AddLeaf("c", map[string]interface{}{"z": 3}))

	tree, err := b.Build()
	require.NoError(t, err)
	assert.NotEmpty(t, tree.RootHex())

	for i := range tree.Leaves {
		proof, err := tree.GenerateProof(i)
		require.NoError(t, err)
		ok, err := VerifyProof(proof)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestVerifyProof_RejectsTamperedLeaf(t *testing.T) {
	b := NewMerkleBuilder()
	require.NoError(t, b.AddLeaf("a", 1))
	require.NoError(t, b.AddLeaf("b", 2))
	tree, err := b.Build()
	require.NoError(t, err)

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	proof.LeafHash = proof.Root // corrupt

	ok, err := VerifyProof(proof)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPackMerkleTree_BuildViewDisclosesOnlyRequestedFields(t *testing.T) {
	pack, err := Build(executor.GraphSpec{GraphID: "g1"}, &executor.GraphResult{GraphID: "g1", Status: executor.GraphCompleted, Success: true},
		[]audit.Event{{ID: "e1"}}, nil)
	require.NoError(t, err)

	view, err := BuildView("view-1", pack, []string{"execution_result"})
	require.NoError(t, err)

	assert.Contains(t, view.Fields, "execution_result")
	assert.NotContains(t, view.Fields, "graph_spec")
	require.Contains(t, view.Proofs, "execution_result")

	ok, err := VerifyProof(view.Proofs["execution_result"])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildView_UnknownPathErrors(t *testing.T) {
	pack, err := Build(executor.GraphSpec{GraphID: "g1"}, &executor.GraphResult{GraphID: "g1"}, nil, nil)
	require.NoError(t, err)

	_, err = BuildView("view-1", pack, []string{"nonexistent"})
	assert.Error(t, err)
}
