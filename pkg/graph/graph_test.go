package graph

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDiamond() *Graph[string] {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")
	return g
}

func TestGraph_Basics(t *testing.T) {
	g := buildDiamond()

	assert.Equal(t, 4, g.Len())
	assert.True(t, g.HasNode("a"))
	assert.False(t, g.HasNode("z"))
	assert.True(t, g.HasEdge("a", "b"))
	assert.False(t, g.HasEdge("b", "a"))

	assert.Equal(t, []string{"b", "c"}, g.Successors("a"))
	assert.Equal(t, []string{"b", "c"}, g.Predecessors("d"))
}

func TestGraph_AddEdgeIsIdempotent(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")

	assert.Equal(t, []string{"b"}, g.Successors("a"))
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := buildDiamond()
	g.RemoveEdge("a", "b")

	assert.False(t, g.HasEdge("a", "b"))
	assert.Equal(t, []string{"c"}, g.Successors("a"))
	assert.True(t, g.HasNode("b"), "removing an edge must not remove nodes")
}

func TestGraph_RemoveNode(t *testing.T) {
	g := buildDiamond()
	g.RemoveNode("b")

	assert.Equal(t, 3, g.Len())
	assert.False(t, g.HasNode("b"))
	assert.Equal(t, []string{"c"}, g.Successors("a"))
	assert.Equal(t, []string{"c"}, g.Predecessors("d"))
}

func TestGraph_NodesKeepInsertionOrder(t *testing.T) {
	g := New[int]()
	for _, n := range []int{5, 3, 9, 1} {
		g.AddNode(n)
	}
	assert.Equal(t, []int{5, 3, 9, 1}, g.Nodes())
}

func TestGraph_Copy(t *testing.T) {
	g := buildDiamond()
	c := g.Copy()

	c.AddEdge("d", "a")
	assert.False(t, g.HasEdge("d", "a"), "copy must not share edge storage")
	assert.True(t, c.HasEdge("d", "a"))
}

func TestGraph_Subgraph(t *testing.T) {
	g := buildDiamond()
	sub := g.Subgraph(mapset.NewSet("a", "b", "d"))

	assert.Equal(t, 3, sub.Len())
	assert.True(t, sub.HasEdge("a", "b"))
	assert.True(t, sub.HasEdge("b", "d"))
	assert.False(t, sub.HasNode("c"))
	assert.False(t, sub.HasEdge("c", "d"))
}

func TestHasCycle(t *testing.T) {
	acyclic := buildDiamond()
	assert.False(t, acyclic.HasCycle())

	cyclic := buildDiamond()
	cyclic.AddEdge("d", "a")
	assert.True(t, cyclic.HasCycle())

	selfLoop := New[string]()
	selfLoop.AddEdge("a", "a")
	assert.True(t, selfLoop.HasCycle())
}

func TestQuasiTopologicalSort_Diamond(t *testing.T) {
	g := buildDiamond()
	order := g.QuasiTopologicalSort()

	assert.Equal(t, []string{"a", "b", "c", "d"}, order,
		"siblings must keep edge insertion order")
}

func TestQuasiTopologicalSort_SiblingInsertionOrder(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "c")
	g.AddEdge("a", "b")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")

	assert.Equal(t, []string{"a", "c", "b", "d"}, g.QuasiTopologicalSort())
}

func TestQuasiTopologicalSort_CycleKeepsBackEdgeOnly(t *testing.T) {
	g := buildDiamond()
	g.AddEdge("d", "a")

	order := g.QuasiTopologicalSort()
	require.Len(t, order, 4)
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	// Every edge except the back edge d->a respects the order.
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["a"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
	assert.Less(t, pos["c"], pos["d"])
}

func TestPostOrderFrom(t *testing.T) {
	g := buildDiamond()
	g.AddNode("unreachable")

	order := g.PostOrderFrom("a")
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[len(order)-1], "start must come last in postorder")
	assert.NotContains(t, order, "unreachable")
}

func TestSCCs(t *testing.T) {
	g := New[string]()
	// Two-node cycle b<->c reachable from a, plus a tail d.
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "b")
	g.AddEdge("c", "d")

	comps := g.SCCs()

	var cycle []string
	singles := 0
	for _, comp := range comps {
		if len(comp) == 2 {
			cycle = comp
		} else {
			require.Len(t, comp, 1)
			singles++
		}
	}
	assert.Equal(t, 2, singles)
	assert.ElementsMatch(t, []string{"b", "c"}, cycle)
}

func TestBFSOrder(t *testing.T) {
	g := buildDiamond()
	order := g.BFSOrder("a")
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)

	assert.Nil(t, g.BFSOrder("missing"))
}
