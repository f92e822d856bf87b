package structurer

import (
	"fmt"

	"github.com/harry1080/angr/internal/log"
	"github.com/harry1080/angr/pkg/region"
)

// RecursiveStructurer structures a tree of nested regions from the inside
// out: every innermost region is structured first and spliced back into its
// parent as an opaque node, until the root region itself collapses into a
// single structured node.
type RecursiveStructurer struct {
	root *region.Region
	log  log.Logger

	// Result is the structured root after Structure returns nil.
	Result region.Node
}

// NewRecursive prepares a recursive structuring pass over root. The region
// tree is deep-copied up front, so the caller's regions are left intact.
func NewRecursive(root *region.Region, opts ...RecursiveOption) *RecursiveStructurer {
	rs := &RecursiveStructurer{
		root: root.RecursiveCopy(),
		log:  log.Default(),
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// RecursiveOption configures a RecursiveStructurer.
type RecursiveOption func(*RecursiveStructurer)

// WithRecursiveLogger replaces the default logger.
func WithRecursiveLogger(l log.Logger) RecursiveOption {
	return func(rs *RecursiveStructurer) { rs.log = l }
}

// Structure runs the bottom-up pass. All regions share one condition
// variable mapping, so condition variables minted in an inner region keep
// their meaning when the parent region reasons about them.
func (rs *RecursiveStructurer) Structure() error {
	parentMap := make(region.ParentMap)
	condVars := NewCondVars()

	order := rs.postOrderRegions(parentMap)

	var rootResult region.Node
	for _, r := range order {
		s := New(r,
			WithParentMap(parentMap),
			WithCondVars(condVars),
			WithLogger(rs.log),
		)
		structured, err := s.Structure()
		if err != nil {
			return fmt.Errorf("structuring region %#x: %w", r.Addr(), err)
		}

		parent := parentMap.Parent(r)
		if parent == nil {
			rootResult = structured
			break
		}
		parent.Replace(r, structured)
	}

	if rootResult == nil {
		return fmt.Errorf("%w: no root region in post-order walk", ErrUnsupportedNode)
	}
	rs.Result = rootResult
	return nil
}

// postOrderRegions collects every region in the tree, children before
// parents, filling parentMap along the way. The walk uses an explicit stack
// so deeply nested regions cannot overflow the call stack.
func (rs *RecursiveStructurer) postOrderRegions(parentMap region.ParentMap) []*region.Region {
	type frame struct {
		r        *region.Region
		expanded bool
	}
	var order []*region.Region
	stack := []frame{{r: rs.root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.expanded {
			order = append(order, top.r)
			stack = stack[:len(stack)-1]
			continue
		}
		top.expanded = true
		for _, n := range top.r.Graph.PostOrderFrom(top.r.Head) {
			if sub, ok := n.(*region.Region); ok {
				parentMap[sub] = top.r
				stack = append(stack, frame{r: sub})
			}
		}
	}
	return order
}
