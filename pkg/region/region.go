// Package region models single-entry subgraphs of a control flow graph. A
// region's graph holds basic blocks, nested sub-regions, or already-structured
// control nodes while a parent region is being spliced together. The nesting
// tree itself comes from an upstream region identifier.
package region

import (
	"fmt"

	"github.com/harry1080/angr/pkg/graph"
)

// Node is anything that can live in a region graph: a basic block, a nested
// Region, or a structured control node.
type Node interface {
	Addr() uint64
}

// Region is a directed graph of nodes with a designated head.
type Region struct {
	Head  Node
	Graph *graph.Graph[Node]
}

// New creates a region over g with the given head. The head is added to the
// graph if missing.
func New(head Node, g *graph.Graph[Node]) *Region {
	if g == nil {
		g = graph.New[Node]()
	}
	g.AddNode(head)
	return &Region{Head: head, Graph: g}
}

// Addr returns the head's address, which identifies the region when it
// appears as a node in a parent region's graph.
func (r *Region) Addr() uint64 { return r.Head.Addr() }

func (r *Region) String() string {
	return fmt.Sprintf("<region %#x, %d nodes>", r.Addr(), r.Graph.Len())
}

// RecursiveCopy returns a copy of the region tree: every Region shell and
// graph is duplicated, while leaf nodes (blocks, structured nodes) are
// shared. Block statement lists are the one thing the structurer mutates in
// place, so those mutations remain visible to the caller.
func (r *Region) RecursiveCopy() *Region {
	return r.copyWith(make(map[*Region]*Region))
}

func (r *Region) copyWith(copies map[*Region]*Region) *Region {
	if c, ok := copies[r]; ok {
		return c
	}
	ng := graph.New[Node]()
	nr := &Region{Graph: ng}
	copies[r] = nr

	mapped := func(n Node) Node {
		if sub, ok := n.(*Region); ok {
			return sub.copyWith(copies)
		}
		return n
	}

	for _, n := range r.Graph.Nodes() {
		ng.AddNode(mapped(n))
	}
	for _, u := range r.Graph.Nodes() {
		for _, v := range r.Graph.Successors(u) {
			ng.AddEdge(mapped(u), mapped(v))
		}
	}
	nr.Head = mapped(r.Head)
	return nr
}

// Replace splices repl into the graph in place of old, preserving every
// incoming and outgoing edge. If old was the head, repl becomes the head.
func (r *Region) Replace(old, repl Node) {
	if !r.Graph.HasNode(old) {
		return
	}
	preds := r.Graph.Predecessors(old)
	succs := r.Graph.Successors(old)
	r.Graph.AddNode(repl)
	for _, p := range preds {
		if p == old {
			p = repl
		}
		r.Graph.AddEdge(p, repl)
	}
	for _, s := range succs {
		if s == old {
			s = repl
		}
		r.Graph.AddEdge(repl, s)
	}
	r.Graph.RemoveNode(old)
	if r.Head == old {
		r.Head = repl
	}
}

// ParentMap records, for each nested region, the region that directly
// contains it. It stays valid across splicing because splicing replaces a
// node inside the parent's graph without touching the parent itself.
type ParentMap map[*Region]*Region

// Parent returns the region containing r, or nil for the root.
func (m ParentMap) Parent(r *Region) *Region {
	if m == nil {
		return nil
	}
	return m[r]
}
