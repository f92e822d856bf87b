// Package graph provides the directed graph the structurer operates on,
// together with the traversals it needs: cycle detection, quasi-topological
// ordering, strongly connected components, and breadth-first order.
// Iteration over nodes and edges is deterministic (insertion order).
package graph

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Graph is a directed graph over comparable node values.
type Graph[N comparable] struct {
	nodes []N
	index map[N]struct{}
	succs map[N][]N
	preds map[N][]N
}

// New creates an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{
		index: make(map[N]struct{}),
		succs: make(map[N][]N),
		preds: make(map[N][]N),
	}
}

// AddNode inserts n if not already present.
func (g *Graph[N]) AddNode(n N) {
	if _, ok := g.index[n]; ok {
		return
	}
	g.index[n] = struct{}{}
	g.nodes = append(g.nodes, n)
}

// HasNode reports whether n is in the graph.
func (g *Graph[N]) HasNode(n N) bool {
	_, ok := g.index[n]
	return ok
}

// AddEdge inserts the edge u->v, adding missing endpoints.
func (g *Graph[N]) AddEdge(u, v N) {
	g.AddNode(u)
	g.AddNode(v)
	if contains(g.succs[u], v) {
		return
	}
	g.succs[u] = append(g.succs[u], v)
	g.preds[v] = append(g.preds[v], u)
}

// HasEdge reports whether the edge u->v exists.
func (g *Graph[N]) HasEdge(u, v N) bool {
	return contains(g.succs[u], v)
}

// RemoveEdge deletes the edge u->v if present.
func (g *Graph[N]) RemoveEdge(u, v N) {
	g.succs[u] = remove(g.succs[u], v)
	g.preds[v] = remove(g.preds[v], u)
}

// RemoveNode deletes n and every edge touching it.
func (g *Graph[N]) RemoveNode(n N) {
	if _, ok := g.index[n]; !ok {
		return
	}
	for _, s := range g.succs[n] {
		g.preds[s] = remove(g.preds[s], n)
	}
	for _, p := range g.preds[n] {
		g.succs[p] = remove(g.succs[p], n)
	}
	delete(g.succs, n)
	delete(g.preds, n)
	delete(g.index, n)
	g.nodes = remove(g.nodes, n)
}

// Len returns the number of nodes.
func (g *Graph[N]) Len() int { return len(g.nodes) }

// Nodes returns the nodes in insertion order.
func (g *Graph[N]) Nodes() []N {
	out := make([]N, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Successors returns the out-neighbors of n in insertion order.
func (g *Graph[N]) Successors(n N) []N {
	out := make([]N, len(g.succs[n]))
	copy(out, g.succs[n])
	return out
}

// Predecessors returns the in-neighbors of n in insertion order.
func (g *Graph[N]) Predecessors(n N) []N {
	out := make([]N, len(g.preds[n]))
	copy(out, g.preds[n])
	return out
}

// Copy returns a shallow copy sharing node values but no edge storage.
func (g *Graph[N]) Copy() *Graph[N] {
	ng := New[N]()
	for _, n := range g.nodes {
		ng.AddNode(n)
	}
	for _, u := range g.nodes {
		for _, v := range g.succs[u] {
			ng.AddEdge(u, v)
		}
	}
	return ng
}

// Subgraph returns the induced subgraph over members.
func (g *Graph[N]) Subgraph(members mapset.Set[N]) *Graph[N] {
	sg := New[N]()
	for _, n := range g.nodes {
		if members.Contains(n) {
			sg.AddNode(n)
		}
	}
	for _, u := range g.nodes {
		if !members.Contains(u) {
			continue
		}
		for _, v := range g.succs[u] {
			if members.Contains(v) {
				sg.AddEdge(u, v)
			}
		}
	}
	return sg
}

func contains[N comparable](xs []N, n N) bool {
	for _, x := range xs {
		if x == n {
			return true
		}
	}
	return false
}

func remove[N comparable](xs []N, n N) []N {
	for i, x := range xs {
		if x == n {
			return append(xs[:i:i], xs[i+1:]...)
		}
	}
	return xs
}
