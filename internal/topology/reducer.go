package topology

import "sort"

// Forwarding maps a broadcast's immediate sender (or the local node
// itself, for freshly-originated broadcasts) to the set of direct
// neighbours it should be relayed to.
type Forwarding map[string]map[string]struct{}

// Targets returns the forwarding set for source, and whether source is
// a key in the reduced topology at all (a broadcast arriving from an
// id with no entry here did not arrive from a tracked server peer).
func (f Forwarding) Targets(source string) ([]string, bool) {
	set, ok := f[source]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, true
}

// Reduce computes the broadcast topology for self given the full set of
// server node-ids and the operator-supplied undirected adjacency map,
// following the algorithm in spec.md §4.3.
func Reduce(self string, serverNodes []string, adjacency map[string][]string) Forwarding {
	result := make(Forwarding, len(serverNodes))
	result[self] = neighbourSet(adjacency[self])

	all := make(map[string]struct{}, len(serverNodes))
	for _, n := range serverNodes {
		all[n] = struct{}{}
	}

	for _, p := range serverNodes {
		if p == self {
			continue
		}
		result[p] = reduceFor(self, p, all, adjacency)
	}
	return result
}

// reduceFor computes B[p]: the set self forwards to when relaying a
// broadcast whose immediate sender was p.
func reduceFor(self, source string, allNodes map[string]struct{}, adjacency map[string][]string) map[string]struct{} {
	candidate := neighbourSet(adjacency[self])
	delete(candidate, source)

	visited := map[string]bool{source: true}
	frontier := []string{source}

	for len(visited) < len(allNodes) && len(frontier) > 0 && len(candidate) > 0 {
		expandFrom := frontier
		if contains(frontier, self) {
			var filtered []string
			for _, f := range frontier {
				if IsLowerNodeID(f, self) {
					filtered = append(filtered, f)
				}
			}
			expandFrom = filtered
		}

		next := map[string]struct{}{}
		for _, f := range expandFrom {
			for _, nb := range adjacency[f] {
				if !visited[nb] {
					next[nb] = struct{}{}
				}
			}
		}

		if len(next) == 0 {
			break
		}

		newFrontier := make([]string, 0, len(next))
		for n := range next {
			newFrontier = append(newFrontier, n)
			visited[n] = true
		}
		sort.Strings(newFrontier)

		for _, n := range newFrontier {
			delete(candidate, n)
		}
		frontier = newFrontier
	}

	return candidate
}

func neighbourSet(neighbours []string) map[string]struct{} {
	set := make(map[string]struct{}, len(neighbours))
	for _, n := range neighbours {
		set[n] = struct{}{}
	}
	return set
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
