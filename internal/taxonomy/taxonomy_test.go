package taxonomy

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"talaria/internal/sequence"
)

// writeDump writes a minimal NCBI-style nodes.dmp/names.dmp pair
// describing: 1 (root) -> 2 (superkingdom Bacteria) -> 3 (genus Escherichia)
// -> 4 (species E. coli), and a sibling genus 5 -> species 6.
func writeDump(t *testing.T) (nodesPath, namesPath string) {
	t.Helper()
	dir := t.TempDir()

	nodes := "" +
		"1\t|\t1\t|\tno rank\t|\n" +
		"2\t|\t1\t|\tsuperkingdom\t|\n" +
		"3\t|\t2\t|\tgenus\t|\n" +
		"4\t|\t3\t|\tspecies\t|\n" +
		"5\t|\t2\t|\tgenus\t|\n" +
		"6\t|\t5\t|\tspecies\t|\n"
	names := "" +
		"1\t|\troot\t|\t\t|\tscientific name\t|\n" +
		"2\t|\tBacteria\t|\t\t|\tscientific name\t|\n" +
		"3\t|\tEscherichia\t|\t\t|\tscientific name\t|\n" +
		"4\t|\tEscherichia coli\t|\t\t|\tscientific name\t|\n" +
		"4\t|\tE. coli\t|\t\t|\tsynonym\t|\n" +
		"5\t|\tSalmonella\t|\t\t|\tscientific name\t|\n" +
		"6\t|\tSalmonella enterica\t|\t\t|\tscientific name\t|\n"

	nodesPath = filepath.Join(dir, "nodes.dmp")
	namesPath = filepath.Join(dir, "names.dmp")
	if err := os.WriteFile(nodesPath, []byte(nodes), 0o644); err != nil {
		t.Fatalf("write nodes.dmp: %v", err)
	}
	if err := os.WriteFile(namesPath, []byte(names), 0o644); err != nil {
		t.Fatalf("write names.dmp: %v", err)
	}
	return nodesPath, namesPath
}

func TestLoadAndLineage(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lineage, err := tree.Lineage(4)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	want := []sequence.TaxonID{1, 2, 3, 4}
	if len(lineage) != len(want) {
		t.Fatalf("Lineage = %v, want %v", lineage, want)
	}
	for i := range want {
		if lineage[i] != want[i] {
			t.Fatalf("Lineage = %v, want %v", lineage, want)
		}
	}
}

func TestRankAndName(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rank, err := tree.Rank(3)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if rank != "genus" {
		t.Fatalf("Rank(3) = %q, want genus", rank)
	}

	name, err := tree.Name(4)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "Escherichia coli" {
		t.Fatalf("Name(4) = %q, want scientific name, not the synonym", name)
	}
}

func TestParentOfRootIsAbsent(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := tree.Parent(1); ok {
		t.Fatal("expected root to have no parent")
	}
	parent, ok := tree.Parent(4)
	if !ok || parent != 3 {
		t.Fatalf("Parent(4) = (%d, %v), want (3, true)", parent, ok)
	}
}

func TestUnknownTaxonErrors(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := tree.Rank(999); err == nil {
		t.Fatal("expected error for unknown taxon")
	}
	if _, err := tree.Lineage(999); err == nil {
		t.Fatal("expected error for unknown taxon")
	}
}

func TestLowestCommonAncestorAndDistance(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// 4 (E. coli) and 6 (S. enterica) share lineage up through Bacteria (2).
	lca, err := tree.LowestCommonAncestor(4, 6)
	if err != nil {
		t.Fatalf("LowestCommonAncestor: %v", err)
	}
	if lca != 2 {
		t.Fatalf("LowestCommonAncestor(4, 6) = %d, want 2", lca)
	}

	dist, err := tree.TaxonomicDistance(4, 6)
	if err != nil {
		t.Fatalf("TaxonomicDistance: %v", err)
	}
	if dist != 2 { // agree on [1, 2]
		t.Fatalf("TaxonomicDistance(4, 6) = %d, want 2", dist)
	}

	// 4 and its own genus-mate (hypothetically itself) agree all the way.
	selfDist, err := tree.TaxonomicDistance(4, 4)
	if err != nil {
		t.Fatalf("TaxonomicDistance: %v", err)
	}
	if selfDist != 4 {
		t.Fatalf("TaxonomicDistance(4, 4) = %d, want 4", selfDist)
	}
}

func TestRankAtOrBelow(t *testing.T) {
	nodesPath, namesPath := writeDump(t)
	tree, err := Load(nodesPath, namesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	below, err := tree.RankAtOrBelow(4, "genus") // species is below genus
	if err != nil {
		t.Fatalf("RankAtOrBelow: %v", err)
	}
	if !below {
		t.Fatal("expected species to be at or below genus")
	}

	above, err := tree.RankAtOrBelow(2, "genus") // superkingdom is above genus
	if err != nil {
		t.Fatalf("RankAtOrBelow: %v", err)
	}
	if above {
		t.Fatal("expected superkingdom to be above genus")
	}
}

func TestWeightMonotoneIncreasing(t *testing.T) {
	prev := Weight(0, 8)
	for d := 1; d <= 8; d++ {
		w := Weight(d, 8)
		if w < prev {
			t.Fatalf("Weight not monotone at depth %d: %f < %f", d, w, prev)
		}
		if w < 0.5 || w > 1.5 {
			t.Fatalf("Weight(%d, 8) = %f out of [0.5, 1.5]", d, w)
		}
		prev = w
	}
}

func TestWeightSaturatesAtMaxDepth(t *testing.T) {
	if got := Weight(100, 8); got != 1.5 {
		t.Fatalf("Weight(100, 8) = %f, want 1.5 (saturated)", got)
	}
}

func TestAccessionMapTaxonOf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.accession2taxid")
	content := "accession\taccession.version\ttaxid\tgi\n" +
		"P0A7Y4\tP0A7Y4.1\t4\t0\n" +
		"P0A7Y5\tP0A7Y5.2\t6\t0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write accession2taxid: %v", err)
	}

	m := NewAccessionMap()
	if err := m.LoadAccession2Taxid(path); err != nil {
		t.Fatalf("LoadAccession2Taxid: %v", err)
	}

	taxon, ok := m.TaxonOf("P0A7Y4")
	if !ok || taxon != 4 {
		t.Fatalf("TaxonOf(P0A7Y4) = (%d, %v), want (4, true)", taxon, ok)
	}
	taxon, ok = m.TaxonOf("P0A7Y4.1")
	if !ok || taxon != 4 {
		t.Fatalf("TaxonOf(P0A7Y4.1) = (%d, %v), want (4, true)", taxon, ok)
	}
	if _, ok := m.TaxonOf("unknown"); ok {
		t.Fatal("expected TaxonOf to report absent for unmapped accession")
	}
	if m.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", m.Len())
	}
}

func TestAccessionMapLoadsGzip(t *testing.T) {
	// Grounds the "MAY be streamed directly from a compressed archive"
	// requirement without depending on a real gzip fixture file.
	dir := t.TempDir()
	path := filepath.Join(dir, "test.accession2taxid.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gw := gzip.NewWriter(f)
	_, _ = gw.Write([]byte("accession\taccession.version\ttaxid\tgi\nACC1\tACC1.1\t4\t0\n"))
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	m := NewAccessionMap()
	if err := m.LoadAccession2Taxid(path); err != nil {
		t.Fatalf("LoadAccession2Taxid(gz): %v", err)
	}
	if taxon, ok := m.TaxonOf("ACC1"); !ok || taxon != 4 {
		t.Fatalf("TaxonOf(ACC1) = (%d, %v), want (4, true)", taxon, ok)
	}
}
