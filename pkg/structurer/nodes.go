// Package structurer converts a region of a control flow graph, possibly
// cyclic and with nested sub-regions, into a tree of structured control
// constructs: sequences, conditions, loops, and (conditional) breaks. It is
// the final analysis before code emission in a decompiler pipeline.
package structurer

import (
	"fmt"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/region"
)

// SequenceNode is an ordered list of child nodes in control-flow order.
type SequenceNode struct {
	Nodes []region.Node
}

// Addr returns the first child's address, or zero for an empty sequence.
func (s *SequenceNode) Addr() uint64 {
	if len(s.Nodes) == 0 {
		return 0
	}
	return s.Nodes[0].Addr()
}

func (s *SequenceNode) String() string {
	return fmt.Sprintf("<sequence %#x, %d nodes>", s.Addr(), len(s.Nodes))
}

// AddNode appends a child.
func (s *SequenceNode) AddNode(n region.Node) {
	s.Nodes = append(s.Nodes, n)
}

// InsertNode inserts a child at position pos.
func (s *SequenceNode) InsertNode(pos int, n region.Node) {
	s.Nodes = append(s.Nodes, nil)
	copy(s.Nodes[pos+1:], s.Nodes[pos:])
	s.Nodes[pos] = n
}

// NodePosition returns the index of n, or -1 when absent.
func (s *SequenceNode) NodePosition(n region.Node) int {
	for i, x := range s.Nodes {
		if x == n {
			return i
		}
	}
	return -1
}

// Copy returns a shallow copy with its own child slice.
func (s *SequenceNode) Copy() *SequenceNode {
	nodes := make([]region.Node, len(s.Nodes))
	copy(nodes, s.Nodes)
	return &SequenceNode{Nodes: nodes}
}

// RemoveEmptyNodes strips children that carry no remaining content, such as
// blocks whose only statement was a conditional jump already consumed during
// reaching-condition recovery.
func (s *SequenceNode) RemoveEmptyNodes() {
	kept := s.Nodes[:0]
	for _, n := range s.Nodes {
		if cond, ok := n.(*ConditionNode); ok && emptyConditionNode(cond) {
			continue
		}
		if code, ok := n.(*CodeNode); ok && emptyNode(code.Node) {
			continue
		}
		if emptyNode(n) {
			continue
		}
		kept = append(kept, n)
	}
	s.Nodes = kept
}

func emptyConditionNode(cond *ConditionNode) bool {
	for _, branch := range []region.Node{cond.TrueNode, cond.FalseNode} {
		if branch == nil {
			continue
		}
		if code, ok := branch.(*CodeNode); ok && emptyNode(code.Node) {
			continue
		}
		if emptyNode(branch) {
			continue
		}
		return false
	}
	return true
}

func emptyNode(n region.Node) bool {
	block, ok := n.(*ail.Block)
	if !ok {
		return false
	}
	if len(block.Statements) == 0 {
		return true
	}
	if len(block.Statements) == 1 {
		// A lone conditional jump was consumed during reaching-condition
		// recovery.
		_, isCondJump := block.Statements[0].(*ail.ConditionalJump)
		return isCondJump
	}
	return false
}

// CodeNode wraps one node together with its reaching condition. A nil
// condition means unconditionally reachable.
type CodeNode struct {
	Node         region.Node
	ReachingCond ail.Expr
}

// Addr returns the wrapped node's address.
func (c *CodeNode) Addr() uint64 { return c.Node.Addr() }

func (c *CodeNode) String() string { return fmt.Sprintf("<code %#x>", c.Addr()) }

// Copy returns a shallow copy.
func (c *CodeNode) Copy() *CodeNode {
	return &CodeNode{Node: c.Node, ReachingCond: c.ReachingCond}
}

// ConditionNode is a synthesized if or if/else.
type ConditionNode struct {
	Address      uint64
	ReachingCond ail.Expr
	Cond         ail.Expr
	TrueNode     region.Node
	FalseNode    region.Node
}

func (c *ConditionNode) Addr() uint64 { return c.Address }

func (c *ConditionNode) String() string { return fmt.Sprintf("<condition %#x>", c.Address) }

// LoopKind classifies a loop's shape.
type LoopKind string

const (
	LoopEndless LoopKind = "endless"
	LoopWhile   LoopKind = "while"
	LoopDoWhile LoopKind = "do-while"
)

// LoopNode is a structured loop. Cond is nil for an endless loop.
type LoopNode struct {
	Kind    LoopKind
	Cond    ail.Expr
	Body    *SequenceNode
	Address uint64
}

// Addr returns the loop's anchor address, defaulting to the body's.
func (l *LoopNode) Addr() uint64 {
	if l.Address != 0 {
		return l.Address
	}
	return l.Body.Addr()
}

func (l *LoopNode) String() string { return fmt.Sprintf("<loop %s %#x>", l.Kind, l.Addr()) }

// BreakNode is an unconditional exit from the innermost loop.
type BreakNode struct {
	Address uint64
	Target  uint64
}

func (b *BreakNode) Addr() uint64 { return b.Address }

func (b *BreakNode) String() string { return fmt.Sprintf("<break %#x target:%#x>", b.Address, b.Target) }

// ConditionalBreakNode is a loop exit guarded by a condition.
type ConditionalBreakNode struct {
	BreakNode
	Cond ail.Expr
}

func (b *ConditionalBreakNode) String() string {
	return fmt.Sprintf("<cond-break %#x target:%#x>", b.Address, b.Target)
}

// mergeNodes concatenates two nodes into one sequence, flattening sequence
// operands.
func mergeNodes(a, b region.Node) *SequenceNode {
	seqA, okA := a.(*SequenceNode)
	seqB, okB := b.(*SequenceNode)
	switch {
	case okA && okB:
		return &SequenceNode{Nodes: append(append([]region.Node{}, seqA.Nodes...), seqB.Nodes...)}
	case okA:
		return &SequenceNode{Nodes: append(append([]region.Node{}, seqA.Nodes...), b)}
	case okB:
		return &SequenceNode{Nodes: append([]region.Node{a}, seqB.Nodes...)}
	default:
		return &SequenceNode{Nodes: []region.Node{a, b}}
	}
}
