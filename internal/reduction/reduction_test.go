package reduction

import (
	"os"
	"testing"

	blobmem "talaria/internal/blob/memstore"
	"talaria/internal/hashcodec"
	"talaria/internal/layout"
	"talaria/internal/manifest"
	manifestmem "talaria/internal/manifest/memstore"
	"talaria/internal/merkle"
	"talaria/internal/selector"
	"talaria/internal/sequence"

	"github.com/vmihailenco/msgpack/v5"
)

func sampleSequences() []sequence.Sequence {
	return []sequence.Sequence{
		{ID: "ref", Residues: []byte("ACGTACGTACGTACGTACGT")},
		{ID: "child1", Residues: []byte("ACGTACGTATGTACGTACGT")},
		{ID: "child2", Residues: []byte("ACGTACGTACGTACGTACCT")},
		{ID: "lonely", Residues: []byte("TTTTGGGGCCCCAAAATTTT")},
	}
}

func sampleEdges() []selector.Edge {
	return []selector.Edge{
		{Query: "child1", Reference: "ref", PercentIdentity: 0.95, Coverage: 0.95},
		{Query: "child2", Reference: "ref", PercentIdentity: 0.95, Coverage: 0.95},
	}
}

func newEngine(t *testing.T) (*Engine, layout.Dir) {
	t.Helper()
	dir := layout.New(t.TempDir())
	blobs := blobmem.New()
	manifests := manifestmem.New()
	cfg := Config{
		Selector:      selector.Config{Algorithm: selector.AlgorithmSinglePass},
		Profile:       "default",
		TargetAligner: "fake-aligner",
	}
	return New(cfg, blobs, manifests, dir, nil), dir
}

func TestRunProducesReferenceAndDeltaChunks(t *testing.T) {
	e, dir := newEngine(t)
	seqs := sampleSequences()
	edges := sampleEdges()

	result, err := e.Run("uniprot", "swissprot", "20260101_000000", seqs, edges)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Reduction.ReferenceChunks) == 0 {
		t.Fatal("expected at least one reference chunk")
	}
	if result.Reduction.Statistics.OriginalSequences != uint64(len(seqs)) {
		t.Fatalf("OriginalSequences = %d, want %d", result.Reduction.Statistics.OriginalSequences, len(seqs))
	}
	if result.Reduction.Statistics.ReferenceSequences+result.Reduction.Statistics.ChildSequences != uint64(len(seqs)) {
		t.Fatalf("reference+child sequences = %d, want %d",
			result.Reduction.Statistics.ReferenceSequences+result.Reduction.Statistics.ChildSequences, len(seqs))
	}

	leaves := append(append([]hashcodec.Hash(nil), result.Reduction.ReferenceChunks...), result.Reduction.DeltaChunks...)
	if got := merkle.Root(leaves); got != result.Reduction.MerkleRoot {
		t.Fatalf("MerkleRoot = %s, want %s", result.Reduction.MerkleRoot, got)
	}

	talPath := dir.ProfileManifestPath("uniprot", "swissprot", "20260101_000000", "default")
	data, err := os.ReadFile(talPath)
	if err != nil {
		t.Fatalf("read .tal: %v", err)
	}
	if string(data[:4]) != "TAL\x01" {
		t.Fatalf("bad magic: %q", data[:4])
	}
	payload, err := decodeReductionPayload(data[4:])
	if err != nil {
		t.Fatalf("decode .tal payload: %v", err)
	}
	if payload.Profile != "default" {
		t.Fatalf("decoded Profile = %q, want default", payload.Profile)
	}

	jsonPath := dir.ProfileManifestJSONPath("uniprot", "swissprot", "20260101_000000", "default")
	if _, err := os.Stat(jsonPath); err != nil {
		t.Fatalf("stat .json: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	seqs := sampleSequences()
	edges := sampleEdges()

	first, err := e.Run("src", "ds", "v1", seqs, edges)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	e2, _ := newEngine(t)
	second, err := e2.Run("src", "ds", "v1", seqs, edges)
	if err != nil {
		t.Fatalf("Run rerun: %v", err)
	}

	if first.Hash != second.Hash {
		t.Fatalf("reduction hash not deterministic: %s vs %s", first.Hash, second.Hash)
	}
}

func TestRunPersistsReductionInManifestStore(t *testing.T) {
	e, _ := newEngine(t)
	result, err := e.Run("src", "ds", "v1", sampleSequences(), sampleEdges())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := e.manifests.GetReduction(result.Hash)
	if err != nil {
		t.Fatalf("GetReduction: %v", err)
	}
	if got.MerkleRoot != result.Reduction.MerkleRoot {
		t.Fatalf("stored reduction differs from returned result")
	}
}

func TestSanitizeDropsDisallowedResidues(t *testing.T) {
	dir := layout.New(t.TempDir())
	blobs := blobmem.New()
	manifests := manifestmem.New()
	cfg := Config{
		Selector:         selector.Config{Algorithm: selector.AlgorithmSinglePass},
		AcceptedAlphabet: "ACGT",
		Profile:          "default",
	}
	e := New(cfg, blobs, manifests, dir, nil)

	seqs := []sequence.Sequence{
		{ID: "good", Residues: []byte("ACGTACGT")},
		{ID: "bad", Residues: []byte("ACGTXYZ")},
	}
	result, err := e.Run("src", "ds", "v1", seqs, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reduction.Statistics.OriginalSequences != 1 {
		t.Fatalf("OriginalSequences = %d, want 1 (bad sequence sanitized out)", result.Reduction.Statistics.OriginalSequences)
	}
}

func TestReductionRatioIsPositiveForNearIdenticalChildren(t *testing.T) {
	e, _ := newEngine(t)
	result, err := e.Run("src", "ds", "v1", sampleSequences(), sampleEdges())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Reduction.ReductionRatio <= 0 {
		t.Fatalf("ReductionRatio = %f, want > 0 for near-identical children", result.Reduction.ReductionRatio)
	}
}

func decodeReductionPayload(payload []byte) (manifest.Reduction, error) {
	var r manifest.Reduction
	err := msgpack.Unmarshal(payload, &r)
	return r, err
}
