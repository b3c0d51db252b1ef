package selector

import (
	"sort"

	"talaria/internal/sequence"
)

// selectGraphCentrality scores every node as
// alpha*degree + beta*betweenness + gamma*coverage and picks references
// in descending score order, assigning each node's still-unassigned
// strong neighbors as its children.
func selectGraphCentrality(cfg Config, seqs []sequence.Sequence, g graph) (Result, error) {
	ids := make([]string, len(seqs))
	for i, s := range seqs {
		ids[i] = s.ID
	}

	degree := make(map[string]float64, len(ids))
	coverage := make(map[string]float64, len(ids))
	for _, id := range ids {
		for _, n := range g[id] {
			if n.identity >= cfg.IdentityThreshold {
				degree[id]++
				coverage[id] += n.coverage
			}
		}
	}

	between := betweenness(ids, g, cfg.IdentityThreshold)

	score := make(map[string]float64, len(ids))
	for _, id := range ids {
		score[id] = cfg.Alpha*degree[id] + cfg.Beta*between[id] + cfg.Gamma*coverage[id]
	}

	order := append([]string(nil), ids...)
	sort.Slice(order, func(i, j int) bool {
		if score[order[i]] != score[order[j]] {
			return score[order[i]] > score[order[j]]
		}
		return order[i] < order[j]
	})

	assigned := make(map[string]bool, len(ids))
	result := Result{Children: make(map[string][]string)}

	for _, id := range order {
		if assigned[id] {
			continue
		}
		assigned[id] = true
		result.References = append(result.References, id)
		for _, n := range g[id] {
			if n.identity >= cfg.IdentityThreshold && !assigned[n.id] {
				assigned[n.id] = true
				result.Children[id] = append(result.Children[id], n.id)
			}
		}
	}

	return result, nil
}

// betweenness computes unweighted shortest-path betweenness centrality
// over the subgraph of edges at or above threshold, using Brandes'
// algorithm. Edges below threshold are treated as absent.
func betweenness(ids []string, g graph, threshold float64) map[string]float64 {
	centrality := make(map[string]float64, len(ids))
	for _, id := range ids {
		centrality[id] = 0
	}

	neighborsOf := func(id string) []string {
		var out []string
		for _, n := range g[id] {
			if n.identity >= threshold {
				out = append(out, n.id)
			}
		}
		return out
	}

	for _, s := range ids {
		stack := make([]string, 0, len(ids))
		pred := make(map[string][]string, len(ids))
		sigma := make(map[string]float64, len(ids))
		dist := make(map[string]int, len(ids))
		for _, id := range ids {
			sigma[id] = 0
			dist[id] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []string{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range neighborsOf(v) {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[string]float64, len(ids))
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}

	// Undirected graph: every shortest path is counted from both
	// endpoints' BFS.
	for id := range centrality {
		centrality[id] /= 2
	}
	return centrality
}
