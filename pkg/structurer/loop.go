package structurer

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/graph"
	"github.com/harry1080/angr/pkg/logic"
	"github.com/harry1080/angr/pkg/region"
)

// sentinelAddr identifies the synthetic successor node created during
// multi-successor refinement, and the rewritten jump arms that target it.
const sentinelAddr = ^uint64(0)

// structureCyclic extracts the loop rooted at the region head and structures
// its body recursively.
func (s *Structurer) structureCyclic() (region.Node, error) {
	loopSubgraph, successors, err := s.findLoopNodesAndSuccessors()
	if err != nil {
		return nil, err
	}

	if len(successors) > 1 {
		if err := s.refineLoopSuccessors(successors); err != nil {
			return nil, err
		}
		loopSubgraph, successors, err = s.findLoopNodesAndSuccessors()
		if err != nil {
			return nil, err
		}
	}
	if len(successors) > 1 {
		return nil, fmt.Errorf("%w: %d successors", ErrMultipleSuccessors, len(successors))
	}

	body, err := s.toLoopBodySequence(loopSubgraph, successors)
	if err != nil {
		return nil, err
	}
	loop := &LoopNode{
		Kind:    LoopEndless,
		Body:    body,
		Address: s.region.Head.Addr(),
	}
	loop = refineLoop(loop)

	seq := &SequenceNode{Nodes: []region.Node{loop}}
	// Successors consumed purely as external exits are not re-added.
	for _, succ := range successors {
		if s.region.Graph.HasNode(succ) {
			seq.AddNode(succ)
		}
	}

	out, err := s.toNativeTree(seq)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findLoopNodesAndSuccessors determines loop membership by growing the SCC
// that contains the region head, then collects the nodes reachable in one
// step from inside the loop. When the loop covers the whole region, the
// successor is looked up by climbing the parent-region chain.
func (s *Structurer) findLoopNodesAndSuccessors() (*graph.Graph[region.Node], []region.Node, error) {
	g := s.region.Graph
	head := s.region.Head

	var loopNodes mapset.Set[region.Node]
	for _, scc := range g.SCCs() {
		for _, n := range scc {
			if n == head {
				loopNodes = mapset.NewSet(scc...)
				break
			}
		}
		if loopNodes != nil {
			break
		}
	}
	if loopNodes == nil {
		// The head always belongs to some component, trivial or not.
		return nil, nil, fmt.Errorf("%w: head not in any component", ErrUnsupportedNode)
	}

	// Grow the loop: a successor all of whose predecessors are already in
	// the loop is an internal merge point, not an exit.
	for {
		grown := false
		for _, member := range g.Nodes() {
			if !loopNodes.Contains(member) {
				continue
			}
			for _, succ := range g.Successors(member) {
				if loopNodes.Contains(succ) {
					continue
				}
				allInside := true
				for _, pred := range g.Predecessors(succ) {
					if !loopNodes.Contains(pred) {
						allInside = false
						break
					}
				}
				if allInside {
					loopNodes.Add(succ)
					grown = true
				}
			}
		}
		if !grown {
			break
		}
	}

	loopSubgraph := g.Subgraph(loopNodes)

	// Successors found inside this region's own subgraph.
	var successors []region.Node
	seen := mapset.NewSet[region.Node]()
	for _, n := range g.BFSOrder(head) {
		if !loopNodes.Contains(n) {
			continue
		}
		for _, succ := range g.Successors(n) {
			if !loopSubgraph.HasNode(succ) && !seen.Contains(succ) {
				seen.Add(succ)
				successors = append(successors, succ)
			}
		}
	}

	// The loop may be the whole region; each enclosing region sees it as a
	// single node, so climb the parent chain until an external successor
	// shows up.
	if len(successors) == 0 && s.parentMap != nil {
		current := s.region
		parent := s.parentMap.Parent(current)
		for parent != nil && len(successors) == 0 {
			pg := parent.Graph
			for _, n := range pg.BFSOrder(parent.Head) {
				if n.Addr() != current.Addr() {
					continue
				}
				for _, succ := range pg.Successors(n) {
					if !loopSubgraph.HasNode(succ) && !seen.Contains(succ) {
						seen.Add(succ)
						successors = append(successors, succ)
					}
				}
			}
			current = parent
			parent = s.parentMap.Parent(current)
		}
	}

	return loopSubgraph, successors, nil
}

// refineLoopSuccessors rewires a loop with several successors so that
// exactly one remains: the successors' reaching conditions are chained into
// nested condition tests behind a synthetic sentinel node, and every exit
// edge is redirected at the sentinel.
func (s *Structurer) refineLoopSuccessors(successors []region.Node) error {
	if err := s.recoverReachingConditions(); err != nil {
		return err
	}

	chain := &ConditionNode{
		Address:  sentinelAddr,
		Cond:     sym(s.reachingConds[successors[0]]),
		TrueNode: successors[0],
	}
	for _, succ := range successors[1:] {
		chain = &ConditionNode{
			Address:   sentinelAddr,
			Cond:      sym(s.reachingConds[succ]),
			TrueNode:  succ,
			FalseNode: chain,
		}
	}

	g := s.region.Graph
	for _, succ := range successors {
		for _, src := range g.Predecessors(succ) {
			// Detach src's own predecessors while its terminator is
			// rewritten, so the graph is never mutated mid-iteration.
			srcPreds := g.Predecessors(src)
			for _, p := range srcPreds {
				g.RemoveEdge(p, src)
			}
			g.RemoveEdge(src, succ)

			last, err := s.lastStatement(src)
			if err != nil {
				return err
			}
			condJump, ok := last.(*ail.ConditionalJump)
			if !ok {
				return fmt.Errorf("%w: exit edge %#x -> %#x has no conditional transfer",
					ErrAmbiguousExit, src.Addr(), succ.Addr())
			}

			width := condJump.TrueTarget.Bits()
			var rewritten *ail.ConditionalJump
			switch {
			case targetsAddr(condJump.TrueTarget, succ.Addr()):
				rewritten = &ail.ConditionalJump{
					Condition:   condJump.Condition,
					TrueTarget:  &ail.Const{Value: sentinelAddr, Width: width},
					FalseTarget: condJump.FalseTarget,
				}
			case targetsAddr(condJump.FalseTarget, succ.Addr()):
				rewritten = &ail.ConditionalJump{
					Condition:   condJump.Condition,
					TrueTarget:  condJump.TrueTarget,
					FalseTarget: &ail.Const{Value: sentinelAddr, Width: width},
				}
			default:
				s.log.Warn("cannot tell which branch leaves the loop",
					"src", fmt.Sprintf("%#x", src.Addr()), "succ", fmt.Sprintf("%#x", succ.Addr()))
				return fmt.Errorf("%w: neither arm of %#x targets %#x",
					ErrAmbiguousExit, src.Addr(), succ.Addr())
			}
			if _, err := s.removeLastStatement(src); err != nil {
				return err
			}
			if err := s.appendStatement(src, rewritten); err != nil {
				return err
			}

			for _, p := range srcPreds {
				g.AddEdge(p, src)
			}
			g.AddEdge(src, chain)
		}
	}
	return nil
}

func targetsAddr(e ail.Expr, addr uint64) bool {
	c, ok := e.(*ail.Const)
	return ok && c.Value == addr
}

// toLoopBodySequence walks the loop subgraph breadth-first, converting exit
// transfers into break nodes, then structures the resulting body region
// recursively with the shared condition-variable mapping.
func (s *Structurer) toLoopBodySequence(loopSubgraph *graph.Graph[region.Node], successors []region.Node) (*SequenceNode, error) {
	g := s.region.Graph
	head := s.region.Head

	regionAddrs := mapset.NewSet[uint64]()
	for _, n := range g.Nodes() {
		regionAddrs.Add(n.Addr())
	}
	successorAddrs := mapset.NewSet[uint64]()
	successorSet := mapset.NewSet[region.Node]()
	for _, succ := range successors {
		successorAddrs.Add(succ.Addr())
		successorSet.Add(succ)
	}

	bodyGraph := graph.New[region.Node]()
	replaced := make(map[region.Node]region.Node)
	traversed := mapset.NewSet[region.Node]()
	queue := []region.Node{head}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		bodyGraph.AddNode(node)
		traversed.Add(node)

		succs := g.Successors(node)

		current := node
		last, err := s.lastStatement(node)
		if err != nil && !errors.Is(err, ail.ErrEmptyBlock) {
			return nil, err
		}
		if last != nil && exitsLoop(last, successorAddrs) {
			breakNode, err := s.makeBreakNode(node, last, regionAddrs, successorAddrs)
			if err != nil {
				return nil, err
			}
			if breakNode != nil {
				if block, ok := node.(*ail.Block); ok && len(block.Statements) == 0 {
					// Stripping the transfer left the block empty: splice
					// the break node into its place.
					replaced[node] = breakNode
					preds := bodyGraph.Predecessors(node)
					bodyGraph.RemoveNode(node)
					bodyGraph.AddNode(breakNode)
					for _, p := range preds {
						bodyGraph.AddEdge(p, breakNode)
					}
				} else {
					bodyGraph.AddEdge(node, breakNode)
				}
				current = breakNode
			}
		}

		for _, dst := range succs {
			if successorSet.Contains(dst) {
				continue
			}
			if !loopSubgraph.HasNode(dst) {
				// The upstream region identifier is not proven complete;
				// tolerate and skip.
				s.log.Error("node belongs to neither loop body nor successors",
					"node", fmt.Sprintf("%#x", dst.Addr()))
				continue
			}
			if dst != head {
				target := dst
				if r, ok := replaced[dst]; ok {
					target = r
				}
				bodyGraph.AddEdge(current, target)
			}
			if traversed.Contains(dst) || queueContains(queue, dst) {
				continue
			}
			queue = append(queue, dst)
		}
	}

	bodyHead := head
	if r, ok := replaced[head]; ok {
		bodyHead = r
	}
	bodyRegion := region.New(bodyHead, bodyGraph)

	inner := New(bodyRegion, WithCondVars(s.condVars), WithLogger(s.log))
	structured, err := inner.Structure()
	if err != nil {
		return nil, err
	}
	seq, ok := structured.(*SequenceNode)
	if !ok {
		seq = &SequenceNode{Nodes: []region.Node{structured}}
	}

	// The loop construct makes a trailing jump back to the head implicit.
	last, err := s.lastStatement(seq)
	if err != nil && !errors.Is(err, ail.ErrEmptyBlock) {
		return nil, err
	}
	if jump, ok := last.(*ail.Jump); ok {
		if !targetsAddr(jump.Target, head.Addr()) {
			return nil, fmt.Errorf("%w: jumps to %s", ErrBadLoopTail, jump.Target)
		}
		if _, err := s.removeLastStatement(seq); err != nil {
			return nil, err
		}
	}

	seq.RemoveEmptyNodes()
	return seq, nil
}

// exitsLoop reports whether stmt's recognized targets include a loop
// successor.
func exitsLoop(stmt ail.Stmt, successorAddrs mapset.Set[uint64]) bool {
	for _, target := range ail.JumpTargets(stmt) {
		if successorAddrs.Contains(target) {
			return true
		}
	}
	return false
}

// makeBreakNode strips node's exiting transfer and builds the matching
// break node. A two-way transfer keeps only the exiting arm's condition,
// negated when the false arm is the one that exits.
func (s *Structurer) makeBreakNode(node region.Node, last ail.Stmt, regionAddrs, successorAddrs mapset.Set[uint64]) (region.Node, error) {
	switch stmt := last.(type) {
	case *ail.Jump:
		target, ok := stmt.Target.(*ail.Const)
		if !ok {
			return nil, fmt.Errorf("%w: indirect exit transfer at %#x", ErrAmbiguousExit, node.Addr())
		}
		if _, err := s.removeLastStatement(node); err != nil {
			return nil, err
		}
		return &BreakNode{Address: node.Addr(), Target: target.Value}, nil

	case *ail.ConditionalJump:
		trueConst, trueOK := stmt.TrueTarget.(*ail.Const)
		falseConst, falseOK := stmt.FalseTarget.(*ail.Const)
		if !trueOK || !falseOK {
			return nil, fmt.Errorf("%w: non-constant conditional targets at %#x", ErrAmbiguousExit, node.Addr())
		}

		var cond ail.Expr
		var target uint64
		switch {
		case successorAddrs.Contains(trueConst.Value) && regionAddrs.Contains(falseConst.Value):
			cond = stmt.Condition
			target = trueConst.Value
		case successorAddrs.Contains(falseConst.Value) && regionAddrs.Contains(trueConst.Value):
			cond = ail.Negate(stmt.Condition)
			target = falseConst.Value
		default:
			s.log.Warn("cannot tell which branch leaves the loop", "node", fmt.Sprintf("%#x", node.Addr()))
			return nil, fmt.Errorf("%w: at %#x", ErrAmbiguousExit, node.Addr())
		}

		if _, err := s.removeLastStatement(node); err != nil {
			return nil, err
		}
		guard, err := s.fromNative(cond)
		if err != nil {
			return nil, err
		}
		return &ConditionalBreakNode{
			BreakNode: BreakNode{Address: node.Addr(), Target: target},
			Cond:      sym(guard),
		}, nil
	}
	return nil, nil
}

func queueContains(queue []region.Node, n region.Node) bool {
	for _, q := range queue {
		if q == n {
			return true
		}
	}
	return false
}

// refineLoop repeatedly peels leading and trailing conditional breaks off an
// endless loop body, reclassifying the loop as while or do-while. Each peel
// can expose a new candidate, so the rules re-run until neither fires.
func refineLoop(loop *LoopNode) *LoopNode {
	for {
		if refined, ok := refineLoopWhile(loop); ok {
			loop = refined
			continue
		}
		if refined, ok := refineLoopDoWhile(loop); ok {
			loop = refined
			continue
		}
		return loop
	}
}

// refineLoopWhile peels a leading conditional break:
// loop { if (X) break; ... } becomes while (!X) { ... }.
func refineLoopWhile(loop *LoopNode) (*LoopNode, bool) {
	if loop.Kind != LoopEndless || len(loop.Body.Nodes) == 0 {
		return nil, false
	}
	first := loop.Body.Nodes[0]
	if code, ok := first.(*CodeNode); ok {
		first = code.Node
	}
	cb, ok := first.(*ConditionalBreakNode)
	if !ok {
		return nil, false
	}
	body := loop.Body.Copy()
	body.Nodes = body.Nodes[1:]
	return &LoopNode{
		Kind:    LoopWhile,
		Cond:    negateCond(cb.Cond),
		Body:    body,
		Address: loop.Address,
	}, true
}

// refineLoopDoWhile peels a trailing conditional break:
// loop { ...; if (Y) break } becomes do { ... } while (!Y).
func refineLoopDoWhile(loop *LoopNode) (*LoopNode, bool) {
	if loop.Kind != LoopEndless || len(loop.Body.Nodes) == 0 {
		return nil, false
	}
	last := loop.Body.Nodes[len(loop.Body.Nodes)-1]
	if code, ok := last.(*CodeNode); ok {
		last = code.Node
	}
	cb, ok := last.(*ConditionalBreakNode)
	if !ok {
		return nil, false
	}
	body := loop.Body.Copy()
	body.Nodes = body.Nodes[:len(body.Nodes)-1]
	return &LoopNode{
		Kind: LoopDoWhile,
		Cond: negateCond(cb.Cond),
		Body: body,
	}, true
}

// negateCond negates a break guard, whichever side of condition translation
// it is on.
func negateCond(cond ail.Expr) ail.Expr {
	if inner, ok := unsym(cond); ok {
		return sym(logic.NewNot(inner))
	}
	return ail.Negate(cond)
}
