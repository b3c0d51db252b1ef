// Package taxonomy loads NCBI-style nodes.dmp/names.dmp taxonomy dumps
// into an in-memory tree, answers accession-to-taxon lookups from
// accession2taxid-style mapping files, and provides the taxonomic
// weighting function used by the reference selector.
package taxonomy

import (
	"errors"
	"fmt"
	"slices"

	"talaria/internal/sequence"
)

// ErrUnknownTaxon is returned (wrapped) by Rank, Lineage and Name, and by
// the methods built on them, for a taxon the tree has no record of.
// Parent reports an unknown taxon through its ok result instead.
var ErrUnknownTaxon = errors.New("taxonomy: unknown taxon")

type node struct {
	parent sequence.TaxonID
	rank   string
	name   string
}

// Tree is an in-memory NCBI-style taxonomy tree, built by Load.
type Tree struct {
	nodes map[sequence.TaxonID]node
	root  sequence.TaxonID
}

// Parent returns taxon's parent, or ok=false if taxon is the root or
// unknown.
func (t *Tree) Parent(taxon sequence.TaxonID) (sequence.TaxonID, bool) {
	n, ok := t.nodes[taxon]
	if !ok || taxon == t.root {
		return 0, false
	}
	return n.parent, true
}

// Rank returns taxon's rank string (e.g. "genus", "species"), or an
// error if taxon is unknown.
func (t *Tree) Rank(taxon sequence.TaxonID) (string, error) {
	n, ok := t.nodes[taxon]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownTaxon, taxon)
	}
	return n.rank, nil
}

// Name returns taxon's scientific name, or an error if taxon is unknown.
func (t *Tree) Name(taxon sequence.TaxonID) (string, error) {
	n, ok := t.nodes[taxon]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownTaxon, taxon)
	}
	return n.name, nil
}

// Lineage returns the ordered path from the root to taxon, inclusive of
// both ends.
func (t *Tree) Lineage(taxon sequence.TaxonID) ([]sequence.TaxonID, error) {
	if _, ok := t.nodes[taxon]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTaxon, taxon)
	}

	var path []sequence.TaxonID
	current := taxon
	for {
		path = append(path, current)
		if current == t.root {
			break
		}
		n := t.nodes[current]
		current = n.parent
	}
	slices.Reverse(path)
	return path, nil
}

// LowestCommonAncestor returns the deepest taxon common to both a's and
// b's lineages. If either taxon is unknown, it returns an error.
func (t *Tree) LowestCommonAncestor(a, b sequence.TaxonID) (sequence.TaxonID, error) {
	la, err := t.Lineage(a)
	if err != nil {
		return 0, err
	}
	lb, err := t.Lineage(b)
	if err != nil {
		return 0, err
	}

	lca := t.root
	for i := 0; i < len(la) && i < len(lb); i++ {
		if la[i] != lb[i] {
			break
		}
		lca = la[i]
	}
	return lca, nil
}

// RankAtOrBelow reports whether taxon's rank is at or below (i.e. more
// specific than or equal to) targetRank in the standard NCBI rank
// ordering. Ranks outside the standard ordering (e.g. "no rank",
// "clade") are treated as more specific than every standard rank, since
// such nodes sit between standard levels in the NCBI tree.
func (t *Tree) RankAtOrBelow(taxon sequence.TaxonID, targetRank string) (bool, error) {
	rank, err := t.Rank(taxon)
	if err != nil {
		return false, err
	}
	targetIdx, targetKnown := standardRankIndex[targetRank]
	if !targetKnown {
		return false, fmt.Errorf("taxonomy: unknown target rank %q", targetRank)
	}
	rankIdx, known := standardRankIndex[rank]
	if !known {
		return true, nil
	}
	return rankIdx >= targetIdx, nil
}

// standardRanks lists the NCBI major ranks from least to most specific.
// standardRankIndex maps a rank name to its position in that ordering.
var standardRanks = []string{
	"superkingdom", "kingdom", "phylum", "class", "order", "family", "genus", "species",
}

var standardRankIndex = func() map[string]int {
	m := make(map[string]int, len(standardRanks))
	for i, r := range standardRanks {
		m[r] = i
	}
	return m
}()

// TaxonomicDistance returns the number of taxonomic ranks at which a's
// and b's lineages agree, i.e. the depth of their lowest common
// ancestor.
func (t *Tree) TaxonomicDistance(a, b sequence.TaxonID) (int, error) {
	la, err := t.Lineage(a)
	if err != nil {
		return 0, err
	}
	lb, err := t.Lineage(b)
	if err != nil {
		return 0, err
	}
	agree := 0
	for i := 0; i < len(la) && i < len(lb); i++ {
		if la[i] != lb[i] {
			break
		}
		agree++
	}
	return agree, nil
}

// Weight maps a taxonomic agreement depth to a multiplier in [0.5, 1.5],
// monotone increasing with agreement. maxDepth caps the normalization
// range; depths at or above maxDepth saturate at 1.5.
func Weight(agreementDepth, maxDepth int) float64 {
	if maxDepth <= 0 {
		return 1.0
	}
	ratio := float64(agreementDepth) / float64(maxDepth)
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return 0.5 + ratio
}
