// Package selector partitions a set of sequences into references and
// children, so the delta encoder only ever has to align a child against
// one nearby reference instead of storing every sequence in full.
package selector

import (
	"cmp"
	"fmt"
	"log/slog"
	"sort"

	"talaria/internal/logging"
	"talaria/internal/sequence"
	"talaria/internal/taxonomy"
)

// Algorithm names one of the supported partitioning strategies.
type Algorithm string

const (
	AlgorithmSinglePass       Algorithm = "single_pass"
	AlgorithmSimilarityMatrix Algorithm = "similarity_matrix"
	AlgorithmGraphCentrality  Algorithm = "graph_centrality"
)

// Edge is one entry of a pre-computed all-vs-all alignment table.
// Identity and Coverage are fractions in [0, 1].
type Edge struct {
	Query           string
	Reference       string
	PercentIdentity float64
	Coverage        float64
}

// Config tunes a selection run. Zero value selects SinglePass with the
// documented default thresholds.
type Config struct {
	Algorithm Algorithm

	// IdentityThreshold is the strong identity cutoff SinglePass uses to
	// pick a reference, and the edge-inclusion cutoff SimilarityMatrix
	// uses for its coverage graph. Defaults to 0.80 for SinglePass, 0.70
	// for SimilarityMatrix and GraphCentrality. The one field serves
	// whichever algorithm is selected.
	IdentityThreshold float64

	// WeakIdentityThreshold is SinglePass's fallback threshold: a query
	// with no neighbor above this becomes its own reference. Defaults
	// to 0.50.
	WeakIdentityThreshold float64

	// DesiredReferenceCount stops SimilarityMatrix once this many
	// references have been picked, even if uncovered sequences remain
	// (they fall back to singleton references). Zero means run until
	// coverage stabilizes.
	DesiredReferenceCount int

	// Alpha, Beta, Gamma weight GraphCentrality's degree, betweenness
	// and coverage terms. Default 0.5, 0.3, 0.2.
	Alpha, Beta, Gamma float64

	// MinLength discards sequences shorter than this before selection.
	MinLength uint64

	// MaxAlignLength excludes sequences longer than this from delta
	// encoding; they are retained as independent references instead.
	MaxAlignLength uint64

	// Tree and TaxonomicWeighting enable multiplying edge identities by
	// the taxonomic weight of the two endpoints' lineage agreement
	// before thresholding. Tree is required when TaxonomicWeighting is
	// set.
	TaxonomicWeighting bool
	Tree               *taxonomy.Tree
	MaxTaxonomicDepth  int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmSinglePass
	}
	if c.IdentityThreshold == 0 {
		switch c.Algorithm {
		case AlgorithmSinglePass:
			c.IdentityThreshold = 0.80
		default:
			c.IdentityThreshold = 0.70
		}
	}
	c.WeakIdentityThreshold = cmp.Or(c.WeakIdentityThreshold, 0.50)
	c.Alpha = cmp.Or(c.Alpha, 0.5)
	c.Beta = cmp.Or(c.Beta, 0.3)
	c.Gamma = cmp.Or(c.Gamma, 0.2)
	c.MaxTaxonomicDepth = cmp.Or(c.MaxTaxonomicDepth, 8)
	return c
}

// Result is the output partition of a selection run.
type Result struct {
	// References lists the sequence IDs chosen as references, in the
	// order they were selected.
	References []string

	// Children maps a reference ID to the IDs of the sequences assigned
	// to it. Every key of Children is also present in References.
	Children map[string][]string

	// Discarded lists sequence IDs excluded before selection (for
	// example by MinLength).
	Discarded []string
}

// ReferenceOf inverts Children for lookup by child id. Returns "" if id
// is not a child of anything (it may be a reference or discarded).
func (r Result) ReferenceOf(id string) string {
	for ref, children := range r.Children {
		for _, c := range children {
			if c == id {
				return ref
			}
		}
	}
	return ""
}

// ErrUnknownAlgorithm is returned by Select for an Algorithm value none
// of the strategies recognize.
var ErrUnknownAlgorithm = fmt.Errorf("selector: unknown algorithm")

// Select partitions seqs into references and children using the
// strategy and thresholds in cfg, using edges as the pre-computed
// all-vs-all alignment table.
//
// Every input sequence appears in exactly one place in the result:
// Discarded, References, or as a value in Children. No sequence is both
// a reference and a child.
func Select(cfg Config, seqs []sequence.Sequence, edges []Edge) (Result, error) {
	cfg = cfg.withDefaults()
	logger := logging.Default(cfg.Logger).With("component", "selector", "algorithm", string(cfg.Algorithm))

	kept, discarded := filterByLength(seqs, cfg.MinLength)
	forced, alignable := splitByMaxAlignLength(kept, cfg.MaxAlignLength)

	byID := make(map[string]sequence.Sequence, len(kept))
	for _, s := range kept {
		byID[s.ID] = s
	}

	g := buildGraph(alignable, edges, cfg, byID)

	var result Result
	var err error
	switch cfg.Algorithm {
	case AlgorithmSinglePass:
		result, err = selectSinglePass(cfg, alignable, g)
	case AlgorithmSimilarityMatrix:
		result, err = selectSimilarityMatrix(cfg, alignable, g)
	case AlgorithmGraphCentrality:
		result, err = selectGraphCentrality(cfg, alignable, g)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if err != nil {
		return Result{}, err
	}

	for _, s := range forced {
		result.References = append(result.References, s.ID)
	}
	for _, s := range discarded {
		result.Discarded = append(result.Discarded, s.ID)
	}

	logger.Debug("selection complete",
		"references", len(result.References), "discarded", len(result.Discarded), "input", len(seqs))
	return result, nil
}

func filterByLength(seqs []sequence.Sequence, minLength uint64) (kept, discarded []sequence.Sequence) {
	if minLength == 0 {
		return seqs, nil
	}
	for _, s := range seqs {
		if uint64(s.Len()) < minLength {
			discarded = append(discarded, s)
		} else {
			kept = append(kept, s)
		}
	}
	return kept, discarded
}

func splitByMaxAlignLength(seqs []sequence.Sequence, maxAlignLength uint64) (forced, alignable []sequence.Sequence) {
	if maxAlignLength == 0 {
		return nil, seqs
	}
	for _, s := range seqs {
		if uint64(s.Len()) > maxAlignLength {
			forced = append(forced, s)
		} else {
			alignable = append(alignable, s)
		}
	}
	return forced, alignable
}

// graph is an undirected adjacency list keyed by sequence id, holding
// the (possibly taxonomically weighted) identity of each edge.
type graph map[string][]neighbor

type neighbor struct {
	id       string
	identity float64
	coverage float64
}

func buildGraph(seqs []sequence.Sequence, edges []Edge, cfg Config, byID map[string]sequence.Sequence) graph {
	g := make(graph, len(seqs))
	for _, s := range seqs {
		g[s.ID] = nil
	}

	add := func(a, b string, identity, coverage float64) {
		if _, ok := g[a]; !ok {
			return
		}
		if _, ok := g[b]; !ok {
			return
		}
		g[a] = append(g[a], neighbor{id: b, identity: identity, coverage: coverage})
	}

	for _, e := range edges {
		identity := e.PercentIdentity
		if cfg.TaxonomicWeighting && cfg.Tree != nil {
			if qs, ok := byID[e.Query]; ok {
				if rs, ok := byID[e.Reference]; ok && qs.HasTaxon() && rs.HasTaxon() {
					if depth, err := cfg.Tree.TaxonomicDistance(qs.Taxon, rs.Taxon); err == nil {
						identity *= taxonomy.Weight(depth, cfg.MaxTaxonomicDepth)
					}
				}
			}
		}
		add(e.Query, e.Reference, identity, e.Coverage)
		add(e.Reference, e.Query, identity, e.Coverage)
	}

	for id := range g {
		sort.Slice(g[id], func(i, j int) bool {
			a, b := g[id][i], g[id][j]
			if a.identity != b.identity {
				return a.identity > b.identity
			}
			return a.id < b.id
		})
	}
	return g
}

func lengthOf(byID map[string]sequence.Sequence, id string) int {
	return byID[id].Len()
}

func sequenceByID(seqs []sequence.Sequence) map[string]sequence.Sequence {
	m := make(map[string]sequence.Sequence, len(seqs))
	for _, s := range seqs {
		m[s.ID] = s
	}
	return m
}
