package causal

import (
	"container/heap"
	"fmt"
	"slices"
)

// Graph is an immutable DAG over a set of causal events.
//
// Events live in one arena slice and are referred to by handle (their index
// in that slice). Edges, the topological order and depths are all slices of
// handles computed once by BuildGraph.
type Graph struct {
	events   []Event
	index    map[string]int
	parents  [][]int
	children [][]int
	order    []int // handles in topological order
	position []int // handle -> index into order
	depth    []int // longest path from a root
}

// Filter selects events in Graph.Query. Zero-valued fields match everything.
type Filter struct {
	FromTs     int64
	ToTs       int64
	UniverseID string
	ObserverID string
	StoreKey   string
	Tags       []string // all must be present
}

// BuildGraph indexes events and computes their topological order.
//
// Construction is linear in events plus edges (the ordering heap adds a log
// factor for tie-breaking). Every causedBy id must name an event in the
// set. Ties in the topological order are broken by timestamp, then by
// position in events, so the order is stable across replays.
//
// Returns a GraphError for invalid, duplicate or dangling events and for
// cycles; a cycle error lists the members of the offending component.
func BuildGraph(events []Event) (*Graph, error) {
	n := len(events)
	g := &Graph{
		events:   make([]Event, n),
		index:    make(map[string]int, n),
		parents:  make([][]int, n),
		children: make([][]int, n),
		order:    make([]int, 0, n),
		position: make([]int, n),
		depth:    make([]int, n),
	}

	for h, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.index[e.ID]; dup {
			return nil, &GraphError{
				Code:    ErrCodeDuplicateNode,
				Message: "event id appears more than once",
				EventID: e.ID,
			}
		}
		g.events[h] = e.Copy()
		g.index[e.ID] = h
	}

	for h, e := range g.events {
		for _, pid := range e.CausedBy {
			p, ok := g.index[pid]
			if !ok {
				return nil, unknownNode(e.ID, fmt.Sprintf("parent %s not found", pid))
			}
			g.parents[h] = append(g.parents[h], p)
			g.children[p] = append(g.children[p], h)
		}
	}

	indegree := make([]int, n)
	ready := &handleHeap{events: g.events}
	for h := range g.events {
		indegree[h] = len(g.parents[h])
		if indegree[h] == 0 {
			ready.handles = append(ready.handles, h)
		}
	}
	heap.Init(ready)
	for ready.Len() > 0 {
		h := heap.Pop(ready).(int)
		g.position[h] = len(g.order)
		g.order = append(g.order, h)
		for _, c := range g.children[h] {
			indegree[c]--
			if indegree[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(g.order) < n {
		return nil, g.cycleError(indegree)
	}

	for _, h := range g.order {
		for _, p := range g.parents[h] {
			g.depth[h] = max(g.depth[h], g.depth[p]+1)
		}
	}
	return g, nil
}

// cycleError reports the first cyclic component among the events Kahn's
// algorithm could not order.
func (g *Graph) cycleError(indegree []int) *GraphError {
	adj := make(Adjacency)
	for h, e := range g.events {
		if indegree[h] == 0 {
			continue
		}
		adj[e.ID] = []string{}
		for _, p := range g.parents[h] {
			if indegree[p] > 0 {
				adj[e.ID] = append(adj[e.ID], g.events[p].ID)
			}
		}
	}
	members := []string{}
	if cycles := Cycles(adj); len(cycles) > 0 {
		members = CyclePath(cycles[0], adj)
	}
	return &GraphError{
		Code:    ErrCodeCycle,
		Message: "causal graph contains a cycle",
		Members: members,
	}
}

// Len returns the number of events.
func (g *Graph) Len() int {
	return len(g.events)
}

// Has reports whether id is in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Event returns a copy of the event with the given id.
func (g *Graph) Event(id string) (Event, bool) {
	h, ok := g.index[id]
	if !ok {
		return Event{}, false
	}
	return g.events[h].Copy(), true
}

// Topological returns every event in causal order.
func (g *Graph) Topological() []Event {
	return g.collect(g.order)
}

// Roots returns events without parents, in causal order.
func (g *Graph) Roots() []Event {
	var hs []int
	for _, h := range g.order {
		if len(g.parents[h]) == 0 {
			hs = append(hs, h)
		}
	}
	return g.collect(hs)
}

// Leaves returns events without children, in causal order.
func (g *Graph) Leaves() []Event {
	var hs []int
	for _, h := range g.order {
		if len(g.children[h]) == 0 {
			hs = append(hs, h)
		}
	}
	return g.collect(hs)
}

// Children returns the direct children of id in causal order.
func (g *Graph) Children(id string) ([]Event, error) {
	h, ok := g.index[id]
	if !ok {
		return nil, unknownNode(id, "children of unknown event")
	}
	return g.collect(g.sorted(g.children[h])), nil
}

// Depth returns the length of the longest path from a root to id.
// Roots have depth 0.
func (g *Graph) Depth(id string) (int, error) {
	h, ok := g.index[id]
	if !ok {
		return 0, unknownNode(id, "depth of unknown event")
	}
	return g.depth[h], nil
}

// Ancestors returns every event id transitively depends on, excluding id
// itself, in causal order.
func (g *Graph) Ancestors(id string) ([]Event, error) {
	h, ok := g.index[id]
	if !ok {
		return nil, unknownNode(id, "ancestors of unknown event")
	}
	set := g.walk(h, g.parents)
	delete(set, h)
	return g.collect(g.sortedSet(set)), nil
}

// Lineage returns id and all of its ancestors in causal order.
func (g *Graph) Lineage(id string) ([]Event, error) {
	h, ok := g.index[id]
	if !ok {
		return nil, unknownNode(id, "lineage of unknown event")
	}
	return g.collect(g.sortedSet(g.walk(h, g.parents))), nil
}

// Descendants returns every event that transitively depends on id,
// excluding id itself, in causal order.
func (g *Graph) Descendants(id string) ([]Event, error) {
	h, ok := g.index[id]
	if !ok {
		return nil, unknownNode(id, "descendants of unknown event")
	}
	set := g.walk(h, g.children)
	delete(set, h)
	return g.collect(g.sortedSet(set)), nil
}

// IsAncestor reports whether a is a strict ancestor of b.
// Unknown ids are never ancestors.
func (g *Graph) IsAncestor(a, b string) bool {
	ha, okA := g.index[a]
	hb, okB := g.index[b]
	if !okA || !okB || ha == hb {
		return false
	}
	// an ancestor always sits earlier in the order; prune everything above it
	limit := g.position[ha]
	if limit > g.position[hb] {
		return false
	}
	seen := map[int]bool{hb: true}
	queue := []int{hb}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, p := range g.parents[h] {
			if p == ha {
				return true
			}
			if !seen[p] && g.position[p] > limit {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false
}

// CommonAncestor returns the nearest event that is an ancestor of (or equal
// to) both a and b. "Nearest" is the candidate latest in causal order.
// ok is false when the histories are disjoint.
func (g *Graph) CommonAncestor(a, b string) (Event, bool, error) {
	ha, ok := g.index[a]
	if !ok {
		return Event{}, false, unknownNode(a, "common ancestor of unknown event")
	}
	hb, ok := g.index[b]
	if !ok {
		return Event{}, false, unknownNode(b, "common ancestor of unknown event")
	}
	left := g.walk(ha, g.parents)
	best := -1
	for h := range g.walk(hb, g.parents) {
		if left[h] && (best < 0 || g.position[h] > g.position[best]) {
			best = h
		}
	}
	if best < 0 {
		return Event{}, false, nil
	}
	return g.events[best].Copy(), true, nil
}

// Query returns the events matching f in causal order.
func (g *Graph) Query(f Filter) []Event {
	var hs []int
	for _, h := range g.order {
		if f.matches(g.events[h]) {
			hs = append(hs, h)
		}
	}
	return g.collect(hs)
}

func (f Filter) matches(e Event) bool {
	if f.FromTs != 0 && e.Timestamp < f.FromTs {
		return false
	}
	if f.ToTs != 0 && e.Timestamp > f.ToTs {
		return false
	}
	if f.UniverseID != "" && e.UniverseID != f.UniverseID {
		return false
	}
	if f.ObserverID != "" && e.ObserverID != f.ObserverID {
		return false
	}
	if f.StoreKey != "" && e.StoreKey != f.StoreKey {
		return false
	}
	for _, tag := range f.Tags {
		if !e.HasTag(tag) {
			return false
		}
	}
	return true
}

// walk returns the set of handles reachable from start (inclusive) along edges.
func (g *Graph) walk(start int, edges [][]int) map[int]bool {
	seen := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, next := range edges[h] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (g *Graph) sortedSet(set map[int]bool) []int {
	hs := make([]int, 0, len(set))
	for h := range set {
		hs = append(hs, h)
	}
	return g.sorted(hs)
}

func (g *Graph) sorted(hs []int) []int {
	out := slices.Clone(hs)
	slices.SortFunc(out, func(a, b int) int {
		return g.position[a] - g.position[b]
	})
	return out
}

func (g *Graph) collect(hs []int) []Event {
	out := make([]Event, len(hs))
	for i, h := range hs {
		out[i] = g.events[h].Copy()
	}
	return out
}

// handleHeap orders ready handles by (timestamp, handle).
type handleHeap struct {
	events  []Event
	handles []int
}

func (q *handleHeap) Len() int { return len(q.handles) }

func (q *handleHeap) Less(i, j int) bool {
	a, b := q.handles[i], q.handles[j]
	if ta, tb := q.events[a].Timestamp, q.events[b].Timestamp; ta != tb {
		return ta < tb
	}
	return a < b
}

func (q *handleHeap) Swap(i, j int) { q.handles[i], q.handles[j] = q.handles[j], q.handles[i] }

func (q *handleHeap) Push(x any) { q.handles = append(q.handles, x.(int)) }

func (q *handleHeap) Pop() any {
	old := q.handles
	n := len(old)
	h := old[n-1]
	q.handles = old[:n-1]
	return h
}
