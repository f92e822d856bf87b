package structurer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/graph"
	"github.com/harry1080/angr/pkg/region"
)

func assign(idx int) ail.Stmt {
	return &ail.Assignment{
		Dst: &ail.Tmp{Index: idx, Width: 64},
		Src: &ail.Const{Value: uint64(idx), Width: 64},
	}
}

func jump(target uint64) ail.Stmt {
	return &ail.Jump{Target: &ail.Const{Value: target, Width: 64}}
}

func condJump(cond ail.Expr, trueTarget, falseTarget uint64) ail.Stmt {
	return &ail.ConditionalJump{
		Condition:   cond,
		TrueTarget:  &ail.Const{Value: trueTarget, Width: 64},
		FalseTarget: &ail.Const{Value: falseTarget, Width: 64},
	}
}

func newBlock(addr uint64, stmts ...ail.Stmt) *ail.Block {
	return &ail.Block{Address: addr, Statements: stmts}
}

func cmpNE(regOffset int) *ail.BinaryOp {
	return &ail.BinaryOp{
		Op:    ail.CmpNE,
		Left:  &ail.Register{Offset: regOffset, Width: 64},
		Right: &ail.Const{Value: 0, Width: 64},
	}
}

// A diamond: the head branches to two blocks that rejoin at the tail. The
// branch pair must fold into one if/else between the head and the tail.
func TestStructureDiamond(t *testing.T) {
	cond := cmpNE(16)
	a := newBlock(0x400000, assign(0), condJump(cond, 0x400010, 0x400020))
	b := newBlock(0x400010, assign(1), jump(0x400030))
	c := newBlock(0x400020, assign(2), jump(0x400030))
	d := newBlock(0x400030, &ail.Return{})

	g := graph.New[region.Node]()
	g.AddEdge(a, b)
	g.AddEdge(a, c)
	g.AddEdge(b, d)
	g.AddEdge(c, d)

	out, err := New(region.New(a, g)).Structure()
	require.NoError(t, err)

	seq, ok := out.(*SequenceNode)
	require.True(t, ok)
	require.Len(t, seq.Nodes, 3)

	assert.Same(t, region.Node(a), seq.Nodes[0])
	assert.Same(t, region.Node(d), seq.Nodes[2])

	ite, ok := seq.Nodes[1].(*ConditionNode)
	require.True(t, ok)
	assert.Equal(t, uint64(0x400010), ite.Address)
	assert.Equal(t, "(reg16<8> != 0x0)", ite.Cond.String())

	trueCode, ok := ite.TrueNode.(*CodeNode)
	require.True(t, ok)
	assert.Same(t, region.Node(b), trueCode.Node)
	assert.Nil(t, trueCode.ReachingCond)

	falseCode, ok := ite.FalseNode.(*CodeNode)
	require.True(t, ok)
	assert.Same(t, region.Node(c), falseCode.Node)
}

// Swapping the order the branch edges were recorded in must not change the
// if/else that comes out. Whichever complement is met first becomes the
// guard, so normalize through the negation before comparing.
func TestStructureDiamondBranchOrderIndependent(t *testing.T) {
	build := func(trueArmFirst bool) region.Node {
		cond := cmpNE(16)
		a := newBlock(0x400000, assign(0), condJump(cond, 0x400010, 0x400020))
		b := newBlock(0x400010, assign(1), jump(0x400030))
		c := newBlock(0x400020, assign(2), jump(0x400030))
		d := newBlock(0x400030, &ail.Return{})

		g := graph.New[region.Node]()
		if trueArmFirst {
			g.AddEdge(a, b)
			g.AddEdge(a, c)
		} else {
			g.AddEdge(a, c)
			g.AddEdge(a, b)
		}
		g.AddEdge(b, d)
		g.AddEdge(c, d)

		out, err := New(region.New(a, g)).Structure()
		require.NoError(t, err)
		return out
	}

	normalize := func(t *testing.T, out region.Node) (string, uint64, uint64) {
		t.Helper()
		seq, ok := out.(*SequenceNode)
		require.True(t, ok)
		require.Len(t, seq.Nodes, 3)
		ite, ok := seq.Nodes[1].(*ConditionNode)
		require.True(t, ok)

		cond := ite.Cond
		trueNode, falseNode := ite.TrueNode, ite.FalseNode
		if not, ok := cond.(*ail.UnaryOp); ok && not.Op == ail.Not {
			cond = not.Operand
			trueNode, falseNode = falseNode, trueNode
		}
		return cond.String(), trueNode.Addr(), falseNode.Addr()
	}

	condA, trueA, falseA := normalize(t, build(true))
	condB, trueB, falseB := normalize(t, build(false))

	assert.Equal(t, "(reg16<8> != 0x0)", condA)
	assert.Equal(t, condA, condB)
	assert.Equal(t, uint64(0x400010), trueA)
	assert.Equal(t, uint64(0x400020), falseA)
	assert.Equal(t, trueA, trueB)
	assert.Equal(t, falseA, falseB)
}

// Straight-line blocks all share the unconditional reaching condition and
// fuse into one sequence.
func TestStructureLinear(t *testing.T) {
	a := newBlock(0x400000, assign(0), jump(0x400010))
	b := newBlock(0x400010, assign(1), jump(0x400020))
	c := newBlock(0x400020, &ail.Return{})

	g := graph.New[region.Node]()
	g.AddEdge(a, b)
	g.AddEdge(b, c)

	out, err := New(region.New(a, g)).Structure()
	require.NoError(t, err)

	seq, ok := out.(*SequenceNode)
	require.True(t, ok)
	require.Len(t, seq.Nodes, 1)
	inner, ok := seq.Nodes[0].(*SequenceNode)
	require.True(t, ok)
	assert.Equal(t, []region.Node{a, b, c}, inner.Nodes)
}

// An if without an else: only the true arm exists, the join block follows
// unconditionally.
func TestStructureSingleBranch(t *testing.T) {
	cond := cmpNE(16)
	a := newBlock(0x400000, condJump(cond, 0x400010, 0x400020))
	b := newBlock(0x400010, assign(1), jump(0x400020))
	c := newBlock(0x400020, &ail.Return{})

	g := graph.New[region.Node]()
	g.AddEdge(a, b)
	g.AddEdge(a, c)
	g.AddEdge(b, c)

	out, err := New(region.New(a, g)).Structure()
	require.NoError(t, err)

	seq, ok := out.(*SequenceNode)
	require.True(t, ok)
	require.Len(t, seq.Nodes, 3)
	assert.Same(t, region.Node(a), seq.Nodes[0])
	assert.Same(t, region.Node(c), seq.Nodes[2])

	ite, ok := seq.Nodes[1].(*ConditionNode)
	require.True(t, ok)
	assert.Equal(t, "(reg16<8> != 0x0)", ite.Cond.String())
	trueCode, ok := ite.TrueNode.(*CodeNode)
	require.True(t, ok)
	assert.Same(t, region.Node(b), trueCode.Node)
	assert.Nil(t, ite.FalseNode)
}

func TestStructureSingleNodeRegion(t *testing.T) {
	a := newBlock(0x400000, &ail.Return{})
	out, err := New(region.New(a, nil)).Structure()
	require.NoError(t, err)

	seq, ok := out.(*SequenceNode)
	require.True(t, ok)
	require.Len(t, seq.Nodes, 1)
	assert.Same(t, region.Node(a), seq.Nodes[0])
}
