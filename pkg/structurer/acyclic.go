package structurer

import (
	"errors"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/logic"
	"github.com/harry1080/angr/pkg/region"
)

// structureAcyclic turns an acyclic region into nested sequence/condition
// nodes driven by per-node reaching conditions.
func (s *Structurer) structureAcyclic() (region.Node, error) {
	if err := s.recoverReachingConditions(); err != nil {
		return nil, err
	}

	seq := s.makeSequence()

	s.newSequences = append(s.newSequences, seq)
	for len(s.newSequences) > 0 {
		next := s.newSequences[0]
		s.newSequences = s.newSequences[1:]
		s.structureSequence(next)
	}

	if err := s.makeConditionNodes(seq); err != nil {
		return nil, err
	}

	merged := s.mergeConditionalBreaks(seq)

	out, err := s.toNativeTree(merged)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recoverReachingConditions labels every edge with its branch condition and
// then propagates reaching conditions through the region in
// quasi-topological order. The head is unconditionally reachable; any other
// node's condition is the disjunction over its predecessors of
// "reached the predecessor and took this edge".
func (s *Structurer) recoverReachingConditions() error {
	g := s.region.Graph

	s.edgeConds = make(map[regionEdge]logic.Expr)
	for _, src := range g.Nodes() {
		for _, dst := range g.Successors(src) {
			pred, err := s.extractPredicate(src, dst)
			if err != nil {
				return err
			}
			s.edgeConds[regionEdge{src, dst}] = pred
		}
	}

	s.reachingConds = make(map[region.Node]logic.Expr)
	for _, node := range g.QuasiTopologicalSort() {
		if node == s.region.Head {
			s.reachingConds[node] = logic.True
			continue
		}
		var reaching logic.Expr
		for _, pred := range g.Predecessors(node) {
			predCond, ok := s.reachingConds[pred]
			if !ok {
				predCond = logic.True
			}
			edgeCond, ok := s.edgeConds[regionEdge{pred, node}]
			if !ok {
				edgeCond = logic.True
			}
			term := logic.NewAnd(predCond, edgeCond)
			if reaching == nil {
				reaching = term
			} else {
				reaching = logic.NewOr(term, reaching)
			}
		}
		if reaching != nil {
			s.reachingConds[node] = s.simplifyCondition(reaching)
		}
	}
	return nil
}

// extractPredicate derives the condition labeling the edge src->dst from
// src's terminating transfer. Unrecognized or absent transfers yield true.
func (s *Structurer) extractPredicate(src, dst region.Node) (logic.Expr, error) {
	if cb, ok := src.(*ConditionalBreakNode); ok {
		cond, isSym := unsym(cb.Cond)
		if !isSym {
			var err error
			cond, err = s.fromNative(cb.Cond)
			if err != nil {
				return nil, err
			}
		}
		if cb.Target == dst.Addr() {
			return cond, nil
		}
		return logic.NewNot(cond), nil
	}
	if _, ok := src.(*region.Region); ok {
		return logic.True, nil
	}

	last, err := s.lastStatement(src)
	if err != nil {
		if errors.Is(err, ail.ErrEmptyBlock) {
			return logic.True, nil
		}
		return nil, err
	}
	condJump, ok := last.(*ail.ConditionalJump)
	if !ok {
		// Unconditional jumps, non-transfer statements, and indirect
		// transfers all label their edges with true.
		return logic.True, nil
	}

	cond, err := s.fromNative(condJump.Condition)
	if err != nil {
		return nil, err
	}
	if target, ok := condJump.TrueTarget.(*ail.Const); ok && target.Value == dst.Addr() {
		return cond, nil
	}
	return logic.NewNot(cond), nil
}

// makeSequence builds the initial sequence: every region node in
// quasi-topological order, wrapped with its reaching condition.
func (s *Structurer) makeSequence() *SequenceNode {
	seq := &SequenceNode{}
	for _, node := range s.region.Graph.QuasiTopologicalSort() {
		seq.AddNode(&CodeNode{Node: node, ReachingCond: sym(s.reachingConds[node])})
	}
	return seq
}

// structureSequence runs one restructuring pass over a sequence: merge
// equal-condition neighbors, synthesize if/else from complement pairs, then
// factor common conjuncts.
func (s *Structurer) structureSequence(seq *SequenceNode) {
	s.mergeSameConditionedNodes(seq)
	s.makeITEs(seq)
	s.structureCommonSubexprConditions(seq)
}

// mergeSameConditionedNodes fuses adjacent code nodes whose reaching
// conditions are provably equivalent into one code node over their
// concatenation.
func (s *Structurer) mergeSameConditionedNodes(seq *SequenceNode) {
	i := 0
	for i < len(seq.Nodes)-1 {
		code0, ok := seq.Nodes[i].(*CodeNode)
		if !ok {
			i++
			continue
		}
		rcond0, ok := unsym(code0.ReachingCond)
		if !ok {
			i++
			continue
		}
		code1, ok := seq.Nodes[i+1].(*CodeNode)
		if !ok {
			i++
			continue
		}
		rcond1, ok := unsym(code1.ReachingCond)
		if !ok {
			i++
			continue
		}
		if !plainCode(code0.Node) || !plainCode(code1.Node) {
			// Breaks and structured nodes keep their own slot so the
			// loop refinement passes can still see them.
			i++
			continue
		}
		if logic.Equivalent(rcond0, rcond1) {
			merged := &CodeNode{
				Node:         mergeNodes(code0.Node, code1.Node),
				ReachingCond: code0.ReachingCond,
			}
			seq.Nodes = append(seq.Nodes[:i], append([]region.Node{merged}, seq.Nodes[i+2:]...)...)
			continue
		}
		i++
	}
}

// plainCode reports whether a node is straight-line code with no structured
// control of its own.
func plainCode(n region.Node) bool {
	switch n.(type) {
	case *ail.Block, *ail.MultiNode, *SequenceNode:
		return true
	}
	return false
}

// makeITEs finds pairs of code nodes whose reaching conditions are logical
// complements and folds each pair, along with any other children guarded by
// either side, into one if/else condition node. The scan restarts after
// every fold since positions shift.
func (s *Structurer) makeITEs(seq *SequenceNode) {
	for {
		folded := false
	scan:
		for _, n0 := range seq.Nodes {
			code0, ok := n0.(*CodeNode)
			if !ok {
				continue
			}
			rcond0, ok := unsym(code0.ReachingCond)
			if !ok || logic.IsTrue(rcond0) {
				continue
			}
			for _, n1 := range seq.Nodes {
				code1, ok := n1.(*CodeNode)
				if !ok || code1 == code0 {
					continue
				}
				rcond1, ok := unsym(code1.ReachingCond)
				if !ok {
					continue
				}
				if logic.Equivalent(logic.NewNot(rcond0), rcond1) {
					s.makeITE(seq, code0, code1)
					folded = true
					break scan
				}
			}
		}
		if !folded {
			break
		}
	}
}

// guarded is one sequence child found to carry a given conjunct, remembered
// with its position and its full conjunct decomposition.
type guarded struct {
	idx      int
	code     *CodeNode
	subexprs []logic.Expr
}

// makeITE replaces the complement pair code0/code1 (and the children guarded
// by either side's condition) with a single if/else node. Both synthesized
// branch sequences are queued for further restructuring.
func (s *Structurer) makeITE(seq *SequenceNode, code0, code1 *CodeNode) {
	pos0 := seq.NodePosition(code0)
	pos1 := seq.NodePosition(code1)
	pos := pos0
	if pos1 > pos {
		pos = pos1
	}

	rcond0, _ := unsym(code0.ReachingCond)
	rcond1, _ := unsym(code1.ReachingCond)

	copy0 := code0.Copy()
	copy0.ReachingCond = nil
	copy1 := code1.Copy()
	copy1.ReachingCond = nil

	kids0 := s.nodesGuardedBy(seq, rcond0, pos0+1)
	kids0 = append([]guarded{{idx: pos0, code: copy0, subexprs: []logic.Expr{rcond0}}}, kids0...)
	kids1 := s.nodesGuardedBy(seq, rcond1, pos1+1)
	kids1 = append([]guarded{{idx: pos1, code: copy1, subexprs: []logic.Expr{rcond1}}}, kids1...)

	trueNode := s.makeGuardedSequence(rcond0, kids0)
	falseNode := s.makeGuardedSequence(rcond1, kids1)

	for _, k := range kids0 {
		seq.Nodes[k.idx] = nil
	}
	for _, k := range kids1 {
		seq.Nodes[k.idx] = nil
	}

	ite := &ConditionNode{
		Address:   code0.Addr(),
		Cond:      sym(rcond0),
		TrueNode:  trueNode,
		FalseNode: falseNode,
	}
	seq.InsertNode(pos, ite)
	dropNils(seq)
}

// dropNils removes children marked nil during a restructuring step.
func dropNils(seq *SequenceNode) {
	kept := seq.Nodes[:0]
	for _, n := range seq.Nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	seq.Nodes = kept
}

// nodesGuardedBy scans seq from startIdx for code nodes whose reaching
// condition contains the conjunct common.
func (s *Structurer) nodesGuardedBy(seq *SequenceNode, common logic.Expr, startIdx int) []guarded {
	if logic.IsTrue(common) {
		return nil
	}
	commonKey := logic.Key(common)
	var out []guarded
	for j := startIdx; j < len(seq.Nodes); j++ {
		code, ok := seq.Nodes[j].(*CodeNode)
		if !ok {
			continue
		}
		rcond, ok := unsym(code.ReachingCond)
		if !ok {
			continue
		}
		subexprs := conditionSubexprs(rcond)
		for _, sub := range subexprs {
			if logic.Key(sub) == commonKey {
				out = append(out, guarded{idx: j, code: code, subexprs: subexprs})
				break
			}
		}
	}
	return out
}

// makeGuardedSequence groups the guarded children under one code node
// carrying the shared conjunct, stripping that conjunct from each child's
// own condition. A single-child group collapses to the child itself.
func (s *Structurer) makeGuardedSequence(common logic.Expr, kids []guarded) region.Node {
	commonKey := logic.Key(common)
	inner := &SequenceNode{}
	for _, k := range kids {
		var rest []logic.Expr
		for _, sub := range k.subexprs {
			if logic.Key(sub) != commonKey {
				rest = append(rest, sub)
			}
		}
		var cond ail.Expr
		if len(rest) > 0 {
			cond = sym(logic.NewAnd(rest...))
		}
		inner.AddNode(&CodeNode{Node: k.code.Node, ReachingCond: cond})
	}
	if len(inner.Nodes) == 1 {
		return inner.Nodes[0]
	}
	s.newSequences = append(s.newSequences, inner)
	return inner
}

// structureCommonSubexprConditions factors conjuncts shared between a child
// and later children into a nested guarded sequence.
func (s *Structurer) structureCommonSubexprConditions(seq *SequenceNode) {
	i := 0
	for i < len(seq.Nodes)-1 {
		structured := false
		if code0, ok := seq.Nodes[i].(*CodeNode); ok {
			if rcond0, ok := unsym(code0.ReachingCond); ok {
				subexprs0 := conditionSubexprs(rcond0)
				for _, common := range subexprs0 {
					cands := s.nodesGuardedBy(seq, common, i+1)
					if len(cands) == 0 {
						continue
					}
					all := append([]guarded{{idx: i, code: code0, subexprs: subexprs0}}, cands...)
					grouped := s.makeGuardedSequence(common, all)
					wrapped := &CodeNode{Node: grouped, ReachingCond: sym(common)}

					for _, k := range all {
						seq.Nodes[k.idx] = nil
					}
					seq.Nodes[i] = wrapped
					dropNils(seq)
					structured = true
					break
				}
			}
		}
		if !structured {
			i++
		}
	}
}

// conditionSubexprs decomposes a condition into its conjunctive terms. For a
// disjunction, the terms shared by the first two operands are returned;
// operands beyond the first two are not examined.
func conditionSubexprs(e logic.Expr) []logic.Expr {
	var out []logic.Expr
	queue := []logic.Expr{e}
	for len(queue) > 0 {
		ast := queue[0]
		queue = queue[1:]
		switch x := ast.(type) {
		case *logic.And:
			if len(x.Args) > 0 {
				out = append(out, x.Args[0])
				queue = append(queue, x.Args[1:]...)
			}
		case *logic.Or:
			if len(x.Args) >= 2 {
				right := map[string]struct{}{}
				for _, sub := range conditionSubexprs(x.Args[1]) {
					right[logic.Key(sub)] = struct{}{}
				}
				for _, sub := range conditionSubexprs(x.Args[0]) {
					if _, shared := right[logic.Key(sub)]; shared {
						out = append(out, sub)
					}
				}
			}
		default:
			out = append(out, ast)
		}
	}
	return out
}

// makeConditionNodes wraps every remaining conditionally-reached child in a
// single-branch condition node. A conditional break keeps its own node kind:
// the reaching condition is conjoined with its guard instead.
func (s *Structurer) makeConditionNodes(seq *SequenceNode) error {
	for i, n := range seq.Nodes {
		switch node := n.(type) {
		case *CodeNode:
			if inner, ok := node.Node.(*SequenceNode); ok {
				if err := s.makeConditionNodes(inner); err != nil {
					return err
				}
			}
			rcond, isSym := unsym(node.ReachingCond)
			if !isSym || logic.IsTrue(rcond) {
				continue
			}
			if cb, ok := node.Node.(*ConditionalBreakNode); ok {
				guard, ok := unsym(cb.Cond)
				if !ok {
					var err error
					guard, err = s.fromNative(cb.Cond)
					if err != nil {
						return err
					}
				}
				combined := s.simplifyCondition(logic.NewAnd(rcond, guard))
				seq.Nodes[i] = &CodeNode{
					Node: &ConditionalBreakNode{
						BreakNode: BreakNode{Address: cb.Address, Target: cb.Target},
						Cond:      sym(combined),
					},
				}
				continue
			}
			seq.Nodes[i] = &ConditionNode{
				Address:  node.Addr(),
				Cond:     node.ReachingCond,
				TrueNode: &CodeNode{Node: node.Node},
			}
		case *ConditionNode:
			for _, branch := range []region.Node{node.TrueNode, node.FalseNode} {
				if inner, ok := branch.(*SequenceNode); ok {
					if err := s.makeConditionNodes(inner); err != nil {
						return err
					}
				}
				if code, ok := branch.(*CodeNode); ok {
					if inner, ok := code.Node.(*SequenceNode); ok {
						if err := s.makeConditionNodes(inner); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

// mergeConditionalBreaks rebuilds a sequence, merging neighboring
// conditional breaks by or-ing their guards. Such neighbors arise from
// multi-successor loop refinement.
func (s *Structurer) mergeConditionalBreaks(seq *SequenceNode) *SequenceNode {
	var newNodes []region.Node
	for i, n := range seq.Nodes {
		node := n
		if code, ok := node.(*CodeNode); ok {
			node = code.Node
		}

		if inner, ok := node.(*SequenceNode); ok {
			node = s.mergeConditionalBreaks(inner)
		} else if cb, ok := node.(*ConditionalBreakNode); ok && i > 0 {
			// The pair test reads the original neighbor, not the merge
			// result, so a run of three breaks keeps only the last two
			// guards.
			prev := seq.Nodes[i-1]
			if code, ok := prev.(*CodeNode); ok {
				prev = code.Node
			}
			if prevCB, ok := prev.(*ConditionalBreakNode); ok {
				cond0, ok0 := unsym(prevCB.Cond)
				cond1, ok1 := unsym(cb.Cond)
				if ok0 && ok1 {
					if len(newNodes) > 0 {
						newNodes = newNodes[:len(newNodes)-1]
					}
					merged := s.simplifyCondition(logic.NewOr(cond1, cond0))
					node = &ConditionalBreakNode{
						BreakNode: BreakNode{Address: cb.Address, Target: cb.Target},
						Cond:      sym(merged),
					}
				}
			}
		}

		newNodes = append(newNodes, node)
	}
	return &SequenceNode{Nodes: newNodes}
}

// toNativeTree rebuilds a structured tree with every algebra condition
// translated back to a native expression. Nodes are replaced wholesale,
// never mutated.
func (s *Structurer) toNativeTree(n region.Node) (region.Node, error) {
	switch node := n.(type) {
	case *SequenceNode:
		out := &SequenceNode{Nodes: make([]region.Node, 0, len(node.Nodes))}
		for _, child := range node.Nodes {
			converted, err := s.toNativeTree(child)
			if err != nil {
				return nil, err
			}
			out.AddNode(converted)
		}
		return out, nil

	case *CodeNode:
		inner, err := s.toNativeTree(node.Node)
		if err != nil {
			return nil, err
		}
		cond, err := s.convertCond(node.ReachingCond)
		if err != nil {
			return nil, err
		}
		return &CodeNode{Node: inner, ReachingCond: cond}, nil

	case *ConditionalBreakNode:
		cond, err := s.convertCond(node.Cond)
		if err != nil {
			return nil, err
		}
		return &ConditionalBreakNode{
			BreakNode: BreakNode{Address: node.Address, Target: node.Target},
			Cond:      cond,
		}, nil

	case *ConditionNode:
		reaching, err := s.convertCond(node.ReachingCond)
		if err != nil {
			return nil, err
		}
		cond, err := s.convertCond(node.Cond)
		if err != nil {
			return nil, err
		}
		out := &ConditionNode{Address: node.Address, ReachingCond: reaching, Cond: cond}
		if node.TrueNode != nil {
			if out.TrueNode, err = s.toNativeTree(node.TrueNode); err != nil {
				return nil, err
			}
		}
		if node.FalseNode != nil {
			if out.FalseNode, err = s.toNativeTree(node.FalseNode); err != nil {
				return nil, err
			}
		}
		return out, nil

	case *LoopNode:
		body, err := s.toNativeTree(node.Body)
		if err != nil {
			return nil, err
		}
		cond, err := s.convertCond(node.Cond)
		if err != nil {
			return nil, err
		}
		return &LoopNode{Kind: node.Kind, Cond: cond, Body: body.(*SequenceNode), Address: node.Address}, nil
	}

	return n, nil
}
