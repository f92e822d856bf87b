package structurer

import (
	"errors"
	"fmt"

	"github.com/harry1080/angr/internal/log"
	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/logic"
	"github.com/harry1080/angr/pkg/region"
)

// Fatal structuring errors. All of them abort the whole region tree; there
// is no degraded output path.
var (
	// ErrUnsupportedNode is returned when a node kind reaches a scanner
	// that has no case for it.
	ErrUnsupportedNode = errors.New("structurer: unsupported node kind")

	// ErrAmbiguousExit is returned when a conditional transfer at a loop
	// boundary has neither arm matching the loop-internal/external split.
	ErrAmbiguousExit = errors.New("structurer: cannot tell which branch exits the loop")

	// ErrBadLoopTail is returned when a structured loop body's trailing
	// jump targets anything but its own head.
	ErrBadLoopTail = errors.New("structurer: loop body trailing jump does not target the loop head")

	// ErrMultipleSuccessors is returned when successor refinement fails to
	// reduce a loop to a single successor.
	ErrMultipleSuccessors = errors.New("structurer: loop still has multiple successors after refinement")
)

// Structurer structures one region into a single control node. Cyclic
// regions go through loop extraction, acyclic ones through reaching-condition
// driven sequence structuring.
type Structurer struct {
	region    *region.Region
	parentMap region.ParentMap
	condVars  CondVars
	log       log.Logger

	reachingConds map[region.Node]logic.Expr
	edgeConds     map[regionEdge]logic.Expr
	newSequences  []*SequenceNode
}

type regionEdge struct {
	src region.Node
	dst region.Node
}

// Option configures a Structurer.
type Option func(*Structurer)

// WithParentMap supplies the region nesting relation, used only when a
// loop's successor must be looked up across region boundaries.
func WithParentMap(m region.ParentMap) Option {
	return func(s *Structurer) { s.parentMap = m }
}

// WithCondVars shares a condition-variable mapping with the caller. The
// recursive structurer threads one mapping through every sub-call.
func WithCondVars(vars CondVars) Option {
	return func(s *Structurer) { s.condVars = vars }
}

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(s *Structurer) { s.log = l }
}

// New creates a Structurer for one region.
func New(r *region.Region, opts ...Option) *Structurer {
	s := &Structurer{
		region: r,
		log:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.condVars == nil {
		s.condVars = NewCondVars()
	}
	return s
}

// Structure converts the region into one control node.
func (s *Structurer) Structure() (region.Node, error) {
	if s.region.Graph.HasCycle() {
		return s.structureCyclic()
	}
	return s.structureAcyclic()
}

// lastStatement finds the trailing statement of a node, descending through
// compound nodes. ail.ErrEmptyBlock is the recoverable "no statements"
// signal; a nil statement with nil error means the node has no native
// trailing transfer (breaks, conditions).
func (s *Structurer) lastStatement(n region.Node) (ail.Stmt, error) {
	switch node := n.(type) {
	case *SequenceNode:
		if len(node.Nodes) == 0 {
			return nil, ail.ErrEmptyBlock
		}
		return s.lastStatement(node.Nodes[len(node.Nodes)-1])
	case *CodeNode:
		return s.lastStatement(node.Node)
	case *ail.Block:
		return node.LastStatement()
	case *ail.MultiNode:
		return node.LastStatement()
	case *LoopNode:
		return s.lastStatement(node.Body)
	case *ConditionalBreakNode, *BreakNode, *ConditionNode:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedNode, n)
}

// removeLastStatement strips the trailing statement of a node in place,
// descending through compound nodes.
func (s *Structurer) removeLastStatement(n region.Node) (ail.Stmt, error) {
	switch node := n.(type) {
	case *CodeNode:
		return s.removeLastStatement(node.Node)
	case *ail.Block:
		return node.RemoveLastStatement()
	case *ail.MultiNode:
		if len(node.Blocks) == 0 {
			return nil, ail.ErrEmptyBlock
		}
		return node.Blocks[len(node.Blocks)-1].RemoveLastStatement()
	case *SequenceNode:
		if len(node.Nodes) == 0 {
			return nil, ail.ErrEmptyBlock
		}
		return s.removeLastStatement(node.Nodes[len(node.Nodes)-1])
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedNode, n)
}

// appendStatement adds a statement at the end of a node, descending through
// compound nodes.
func (s *Structurer) appendStatement(n region.Node, stmt ail.Stmt) error {
	switch node := n.(type) {
	case *CodeNode:
		return s.appendStatement(node.Node, stmt)
	case *ail.Block:
		node.AppendStatement(stmt)
		return nil
	case *ail.MultiNode:
		if len(node.Blocks) == 0 {
			return fmt.Errorf("%w: empty multi-node", ErrUnsupportedNode)
		}
		node.Blocks[len(node.Blocks)-1].AppendStatement(stmt)
		return nil
	case *SequenceNode:
		if len(node.Nodes) == 0 {
			return fmt.Errorf("%w: empty sequence", ErrUnsupportedNode)
		}
		return s.appendStatement(node.Nodes[len(node.Nodes)-1], stmt)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedNode, n)
}
