package evidence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ledgerflow/orchestrator/pkg/canonicalize"
)

// leafDomainSeparator/nodeDomainSeparator prefix leaf/internal-node
// hashes so a leaf hash and a node hash of the same byte length can
// never collide, adapted from the teacher's merkle construction.
var (
	leafDomainSeparator = []byte{0x00}
	nodeDomainSeparator = []byte{0x01}
)

// MerkleLeaf is one field of a Pack committed into its tree.
type MerkleLeaf struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Hash  []byte `json:"hash"`
}

// MerkleTree is a per-field commitment over a Pack's top-level
// sections, enabling an EvidenceView that discloses some fields while
// proving the rest were part of the same pack without revealing them.
type MerkleTree struct {
	Root   []byte
	Leaves []MerkleLeaf
	levels [][][]byte
}

// MerkleBuilder accumulates leaves before Build.
type MerkleBuilder struct {
	leaves []MerkleLeaf
}

func NewMerkleBuilder() *MerkleBuilder {
	return &MerkleBuilder{}
}

// AddLeaf canonicalizes value and commits it at path.
func (b *MerkleBuilder) AddLeaf(path string, value interface{}) error {
	canonical, err := canonicalize.JCS(value)
	if err != nil {
		return fmt.Errorf("evidence: canonicalize leaf %q: %w", path, err)
	}
	b.leaves = append(b.leaves, MerkleLeaf{Index: len(b.leaves), Path: path, Hash: leafHash(canonical)})
	return nil
}

func leafHash(data []byte) []byte {
	h := sha256.New()
	h.Write(leafDomainSeparator)
	h.Write(data)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(nodeDomainSeparator)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Build constructs the tree. Odd levels promote their last hash
// unchanged rather than duplicating it, matching the teacher's
// unbalanced-tree convention.
func (b *MerkleBuilder) Build() (*MerkleTree, error) {
	if len(b.leaves) == 0 {
		return nil, fmt.Errorf("evidence: cannot build merkle tree with no leaves")
	}

	level := make([][]byte, len(b.leaves))
	for i, leaf := range b.leaves {
		level[i] = leaf.Hash
	}
	levels := [][][]byte{level}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
		levels = append(levels, level)
	}

	return &MerkleTree{Root: level[0], Leaves: b.leaves, levels: levels}, nil
}

func (t *MerkleTree) RootHex() string {
	return hex.EncodeToString(t.Root)
}

// MerkleProof is an inclusion proof for one leaf against the tree root.
type MerkleProof struct {
	LeafIndex int             `json:"leaf_index"`
	LeafPath  string          `json:"leaf_path"`
	LeafHash  string          `json:"leaf_hash"`
	Siblings  []MerkleSibling `json:"siblings"`
	Root      string          `json:"root"`
}

type MerkleSibling struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// GenerateProof builds an inclusion proof for leafIndex.
func (t *MerkleTree) GenerateProof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(t.Leaves) {
		return nil, fmt.Errorf("evidence: leaf index %d out of range [0, %d)", leafIndex, len(t.Leaves))
	}

	proof := &MerkleProof{
		LeafIndex: leafIndex,
		LeafPath:  t.Leaves[leafIndex].Path,
		LeafHash:  hex.EncodeToString(t.Leaves[leafIndex].Hash),
		Root:      t.RootHex(),
	}

	idx := leafIndex
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var siblingIdx int
		var position string
		if idx%2 == 0 {
			siblingIdx, position = idx+1, "right"
		} else {
			siblingIdx, position = idx-1, "left"
		}
		if siblingIdx < len(cur) {
			proof.Siblings = append(proof.Siblings, MerkleSibling{Hash: hex.EncodeToString(cur[siblingIdx]), Position: position})
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from proof's leaf hash and sibling
// path and compares it to the claimed root.
func VerifyProof(proof *MerkleProof) (bool, error) {
	current, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, fmt.Errorf("evidence: invalid leaf hash: %w", err)
	}

	for _, sib := range proof.Siblings {
		sibHash, err := hex.DecodeString(sib.Hash)
		if err != nil {
			return false, fmt.Errorf("evidence: invalid sibling hash: %w", err)
		}
		if sib.Position == "left" {
			current = nodeHash(sibHash, current)
		} else {
			current = nodeHash(current, sibHash)
		}
	}

	expected, err := hex.DecodeString(proof.Root)
	if err != nil {
		return false, fmt.Errorf("evidence: invalid root hash: %w", err)
	}
	return bytes.Equal(current, expected), nil
}

// PackMerkleTree commits a Pack's top-level sections (graph_spec,
// execution_result, audit_events, governance) as independent leaves.
func PackMerkleTree(pack *Pack) (*MerkleTree, error) {
	b := NewMerkleBuilder()
	if err := b.AddLeaf("graph_spec", pack.GraphSpec); err != nil {
		return nil, err
	}
	if err := b.AddLeaf("execution_result", pack.ExecutionResult); err != nil {
		return nil, err
	}
	if err := b.AddLeaf("audit_events", pack.AuditEvents); err != nil {
		return nil, err
	}
	if err := b.AddLeaf("governance", pack.Governance); err != nil {
		return nil, err
	}
	return b.Build()
}

// EvidenceView is a minimal-disclosure projection: the disclosed leaf
// values plus inclusion proofs, sufficient to convince a verifier those
// values were part of the pack committed to Root without revealing any
// other leaf.
type EvidenceView struct {
	ViewID  string                 `json:"view_id"`
	Root    string                 `json:"root"`
	Fields  map[string]interface{} `json:"fields"`
	Proofs  map[string]*MerkleProof `json:"proofs"`
}

// pathIndex maps the fixed leaf ordering used by PackMerkleTree.
var pathIndex = map[string]int{"graph_spec": 0, "execution_result": 1, "audit_events": 2, "governance": 3}

// BuildView discloses only the named paths from pack, each with its
// Merkle inclusion proof against the pack's full tree.
func BuildView(viewID string, pack *Pack, paths []string) (*EvidenceView, error) {
	tree, err := PackMerkleTree(pack)
	if err != nil {
		return nil, err
	}

	view := &EvidenceView{ViewID: viewID, Root: tree.RootHex(), Fields: map[string]interface{}{}, Proofs: map[string]*MerkleProof{}}
	for _, path := range paths {
		idx, ok := pathIndex[path]
		if !ok {
			return nil, fmt.Errorf("evidence: unknown view path %q", path)
		}
		proof, err := tree.GenerateProof(idx)
		if err != nil {
			return nil, err
		}
		view.Proofs[path] = proof
		switch path {
		case "graph_spec":
			view.Fields[path] = pack.GraphSpec
		case "execution_result":
			view.Fields[path] = pack.ExecutionResult
		case "audit_events":
			view.Fields[path] = pack.AuditEvents
		case "governance":
			view.Fields[path] = pack.Governance
		}
	}
	return view, nil
}
