package selector

import (
	"talaria/internal/sequence"
)

// selectSimilarityMatrix implements the O(n²) greedy set-cover strategy:
// repeatedly pick the uncovered-or-reference candidate whose edges above
// cfg.IdentityThreshold cover the most still-uncovered sequences, until
// coverage stabilizes or cfg.DesiredReferenceCount is reached. Anything
// left uncovered at that point becomes a singleton reference.
func selectSimilarityMatrix(cfg Config, seqs []sequence.Sequence, g graph) (Result, error) {
	byID := sequenceByID(seqs)
	uncovered := make(map[string]bool, len(seqs))
	for _, s := range seqs {
		uncovered[s.ID] = true
	}

	result := Result{Children: make(map[string][]string)}

	for len(uncovered) > 0 {
		if cfg.DesiredReferenceCount > 0 && len(result.References) >= cfg.DesiredReferenceCount {
			break
		}

		bestID := ""
		var bestCovers []string
		bestLen := -1

		for id := range uncovered {
			covers := coverageOf(g, id, uncovered, cfg.IdentityThreshold)
			candidateLen := lengthOf(byID, id)
			switch {
			case len(covers) > len(bestCovers):
				bestID, bestCovers, bestLen = id, covers, candidateLen
			case len(covers) == len(bestCovers) && len(covers) > 0:
				if candidateLen > bestLen || (candidateLen == bestLen && id < bestID) {
					bestID, bestCovers, bestLen = id, covers, candidateLen
				}
			}
		}

		if bestID == "" || len(bestCovers) == 0 {
			break
		}

		result.References = append(result.References, bestID)
		delete(uncovered, bestID)
		for _, c := range bestCovers {
			if c == bestID {
				continue
			}
			result.Children[bestID] = append(result.Children[bestID], c)
			delete(uncovered, c)
		}
	}

	// Anything left uncovered (stabilized coverage, or the desired
	// reference count was reached first) becomes its own reference.
	for _, s := range seqs {
		if uncovered[s.ID] {
			result.References = append(result.References, s.ID)
			delete(uncovered, s.ID)
		}
	}

	return result, nil
}

// coverageOf returns id plus every uncovered neighbor reachable from id
// by an edge at or above threshold: the set id would cover if chosen as
// a reference right now.
func coverageOf(g graph, id string, uncovered map[string]bool, threshold float64) []string {
	covers := []string{id}
	for _, n := range g[id] {
		if n.identity >= threshold && uncovered[n.id] {
			covers = append(covers, n.id)
		}
	}
	return covers
}
