package causal

import (
	"slices"
	"strings"
)

// Adjacency maps a node name to the nodes it points at.
type Adjacency map[string][]string

// Cycles returns the strongly connected components of adj that contain a
// cycle: components with more than one member, or a single member with a
// self-loop. A DAG returns an empty slice.
//
// Output is deterministic: members are sorted within a component and
// components are sorted by their first member.
func Cycles(adj Adjacency) [][]string {
	var cycles [][]string
	for _, scc := range StronglyConnected(adj) {
		if len(scc) > 1 || hasSelfLoop(scc[0], adj) {
			cycles = append(cycles, scc)
		}
	}
	if cycles == nil {
		return [][]string{}
	}
	return cycles
}

// StronglyConnected finds all strongly connected components using Tarjan's
// algorithm. Nodes that only appear as edge targets are included.
//
// Output is sorted the same way as Cycles.
func StronglyConnected(adj Adjacency) [][]string {
	nodes := adjacencyNodes(adj)

	var (
		index   = 0
		stack   []string
		indices = make(map[string]int, len(nodes))
		lowlink = make(map[string]int, len(nodes))
		onStack = make(map[string]bool, len(nodes))
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	slices.SortFunc(sccs, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
	return sccs
}

// CyclePath walks a cycle through the members of scc, starting and ending
// at the smallest member. For a self-loop the path is [n, n].
func CyclePath(scc []string, adj Adjacency) []string {
	if len(scc) == 0 {
		return nil
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range sortedCopy(adj[current]) {
			if members[w] && !visited[w] {
				next = w
				break
			}
		}
		if next == "" {
			return append(path, start)
		}
		visited[next] = true
		path = append(path, next)
		current = next
	}
}

func hasSelfLoop(node string, adj Adjacency) bool {
	return slices.Contains(adj[node], node)
}

// adjacencyNodes returns every node named in adj, sorted.
func adjacencyNodes(adj Adjacency) []string {
	seen := make(map[string]bool, len(adj))
	var nodes []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	for from, tos := range adj {
		add(from)
		for _, to := range tos {
			add(to)
		}
	}
	slices.Sort(nodes)
	return nodes
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}
