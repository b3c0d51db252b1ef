package chunker

import (
	"os"
	"path/filepath"
	"testing"

	"talaria/internal/blob/memstore"
	"talaria/internal/hashcodec"
	"talaria/internal/sequence"
	"talaria/internal/taxonomy"
)

func seqOf(id string, residueLen int, taxon sequence.TaxonID) sequence.Sequence {
	residues := make([]byte, residueLen)
	for i := range residues {
		residues[i] = 'A'
	}
	return sequence.Sequence{ID: id, Residues: residues, Taxon: taxon}
}

func allSeqs(t *testing.T, store *memstore.Store, hashes []hashcodec.Hash) []sequence.Sequence {
	t.Helper()
	var out []sequence.Sequence
	for _, h := range hashes {
		blob, err := store.Get(h)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		seqs, _, err := hashcodec.DecodeChunkBlob(blob)
		if err != nil {
			t.Fatalf("DecodeChunkBlob: %v", err)
		}
		out = append(out, seqs...)
	}
	return out
}

func TestRunEveryInputInExactlyOneChunk(t *testing.T) {
	store := memstore.New()
	c := New(Config{TargetChunkSize: 1024}, store, nil)

	seqs := []sequence.Sequence{
		seqOf("a", 10, 0),
		seqOf("b", 10, 0),
		seqOf("c", 10, 0),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var hashes []hashcodec.Hash
	total := 0
	for _, cm := range result.Chunks {
		hashes = append(hashes, cm.Hash)
		total += int(cm.SequenceCount)
	}
	if total != len(seqs) {
		t.Fatalf("total sequences across chunks = %d, want %d", total, len(seqs))
	}

	got := allSeqs(t, store, hashes)
	if len(got) != len(seqs) {
		t.Fatalf("decoded %d sequences, want %d", len(got), len(seqs))
	}
	for i, seq := range got {
		if seq.ID != seqs[i].ID {
			t.Fatalf("order mismatch at %d: got %q, want %q", i, seq.ID, seqs[i].ID)
		}
	}
}

func TestRunClosesOnSizeLimit(t *testing.T) {
	store := memstore.New()
	c := New(Config{TargetChunkSize: 25}, store, nil)

	seqs := []sequence.Sequence{
		seqOf("a", 10, 0),
		seqOf("b", 10, 0),
		seqOf("c", 10, 0),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks from size-limited closing, got %d", len(result.Chunks))
	}
}

func TestRunClosesOnSequenceCount(t *testing.T) {
	store := memstore.New()
	c := New(Config{TargetChunkSize: 1 << 20, TargetSequenceCount: 2}, store, nil)

	seqs := []sequence.Sequence{
		seqOf("a", 10, 0),
		seqOf("b", 10, 0),
		seqOf("c", 10, 0),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(result.Chunks))
	}
	if result.Chunks[0].SequenceCount != 2 {
		t.Fatalf("first chunk count = %d, want 2", result.Chunks[0].SequenceCount)
	}
}

func TestRunSingletonForOversizedSequence(t *testing.T) {
	store := memstore.New()
	c := New(Config{TargetChunkSize: 1 << 20, MaxSingleSequenceBytes: 50}, store, nil)

	seqs := []sequence.Sequence{
		seqOf("small", 10, 0),
		seqOf("huge", 100, 0),
		seqOf("small2", 10, 0),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3 (small, huge singleton, small2)", len(result.Chunks))
	}
	if result.Chunks[1].SequenceCount != 1 {
		t.Fatalf("singleton chunk count = %d, want 1", result.Chunks[1].SequenceCount)
	}
}

func TestRunEmptySourceProducesNoChunks(t *testing.T) {
	store := memstore.New()
	c := New(Config{}, store, nil)

	result, err := c.Run(sequence.NewSliceSource(nil))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected zero chunks for empty input, got %d", len(result.Chunks))
	}
}

func TestRunTaxonIDsSortedDistinct(t *testing.T) {
	store := memstore.New()
	c := New(Config{TargetChunkSize: 1 << 20}, store, nil)

	seqs := []sequence.Sequence{
		seqOf("a", 10, 5),
		seqOf("b", 10, 3),
		seqOf("c", 10, 5),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(result.Chunks))
	}
	taxa := result.Chunks[0].TaxonIDs
	if len(taxa) != 2 || taxa[0] != 3 || taxa[1] != 5 {
		t.Fatalf("TaxonIDs = %v, want sorted distinct [3 5]", taxa)
	}
}

func TestRunClosesOnRankBoundary(t *testing.T) {
	tree := buildTestTree(t, ""+
		"1\t|\t1\t|\tno rank\t|\n"+
		"2\t|\t1\t|\tsuperkingdom\t|\n"+
		"3\t|\t2\t|\tgenus\t|\n"+
		"4\t|\t3\t|\tspecies\t|\n"+
		"5\t|\t2\t|\tgenus\t|\n"+
		"6\t|\t5\t|\tspecies\t|\n")

	store := memstore.New()
	c := New(Config{TargetChunkSize: 1 << 20, Rank: "genus"}, store, tree)

	// Taxa 4 and 6 sit under different genera (3 and 5); their LCA is
	// the superkingdom (2), which is above genus, so the chunk must
	// close between them.
	seqs := []sequence.Sequence{
		seqOf("a", 10, 4),
		seqOf("b", 10, 6),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("chunk count = %d, want 2 (rank boundary forces a close)", len(result.Chunks))
	}
}

func TestRunKeepsSameGenusTogether(t *testing.T) {
	tree := buildTestTree(t, ""+
		"1\t|\t1\t|\tno rank\t|\n"+
		"2\t|\t1\t|\tsuperkingdom\t|\n"+
		"3\t|\t2\t|\tgenus\t|\n"+
		"4\t|\t3\t|\tspecies\t|\n"+
		"7\t|\t3\t|\tspecies\t|\n")

	store := memstore.New()
	c := New(Config{TargetChunkSize: 1 << 20, Rank: "genus"}, store, tree)

	seqs := []sequence.Sequence{
		seqOf("a", 10, 4),
		seqOf("b", 10, 7),
	}
	result, err := c.Run(sequence.NewSliceSource(seqs))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("chunk count = %d, want 1 (same genus stays together)", len(result.Chunks))
	}
}

// buildTestTree constructs a taxonomy.Tree via Load's on-disk path, since
// taxonomy.Tree's fields are unexported and Load is its only constructor.
func buildTestTree(t *testing.T, nodesDmp string) *taxonomy.Tree {
	t.Helper()
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.dmp")
	namesPath := filepath.Join(dir, "names.dmp")
	if err := os.WriteFile(nodesPath, []byte(nodesDmp), 0o644); err != nil {
		t.Fatalf("write nodes.dmp: %v", err)
	}
	if err := os.WriteFile(namesPath, []byte{}, 0o644); err != nil {
		t.Fatalf("write names.dmp: %v", err)
	}
	tree, err := taxonomy.Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("taxonomy.Load: %v", err)
	}
	return tree
}
