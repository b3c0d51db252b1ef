package selector

import (
	"sort"

	"talaria/internal/sequence"
)

// selectSinglePass implements the O(n) default strategy: process queries
// in descending degree order, and for each unassigned one either attach
// it to an already-chosen reference among its strong neighbors, promote
// the longest of itself-and-its-strong-neighbors to a new reference, or
// — if it has no neighbor above the weak threshold at all — make it a
// singleton reference.
func selectSinglePass(cfg Config, seqs []sequence.Sequence, g graph) (Result, error) {
	byID := sequenceByID(seqs)
	order := make([]string, len(seqs))
	for i, s := range seqs {
		order[i] = s.ID
	}
	sort.Slice(order, func(i, j int) bool {
		di, dj := len(g[order[i]]), len(g[order[j]])
		if di != dj {
			return di > dj
		}
		return order[i] < order[j]
	})

	assigned := make(map[string]bool, len(seqs))
	isReference := make(map[string]bool)
	result := Result{Children: make(map[string][]string)}

	makeReference := func(id string) {
		if isReference[id] {
			return
		}
		isReference[id] = true
		assigned[id] = true
		result.References = append(result.References, id)
	}
	addChild := func(ref, child string) {
		if assigned[child] {
			return
		}
		assigned[child] = true
		result.Children[ref] = append(result.Children[ref], child)
	}

	for _, q := range order {
		if assigned[q] {
			continue
		}

		ref := ""
		for _, n := range g[q] {
			if n.identity >= cfg.IdentityThreshold && isReference[n.id] {
				ref = n.id
				break
			}
		}

		weak := neighborsAbove(g[q], assigned, cfg.WeakIdentityThreshold)
		if ref == "" && len(weak) == 0 {
			makeReference(q)
			continue
		}

		strong := neighborsAbove(g[q], assigned, cfg.IdentityThreshold)
		if ref == "" {
			if len(strong) > 0 {
				longest := q
				longestLen := lengthOf(byID, q)
				for _, n := range strong {
					if l := lengthOf(byID, n.id); l > longestLen {
						longest = n.id
						longestLen = l
					}
				}
				ref = longest
			} else {
				ref = q
			}
		}

		makeReference(ref)
		if ref != q {
			addChild(ref, q)
		}
		for _, n := range weak {
			if n.id != ref {
				addChild(ref, n.id)
			}
		}
	}

	return result, nil
}

func neighborsAbove(ns []neighbor, assigned map[string]bool, threshold float64) []neighbor {
	var out []neighbor
	for _, n := range ns {
		if n.identity >= threshold && !assigned[n.id] {
			out = append(out, n)
		}
	}
	return out
}
