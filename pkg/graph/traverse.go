package graph

// HasCycle reports whether the graph contains a directed cycle. Iterative
// three-color DFS so deep graphs cannot overflow the goroutine stack.
func (g *Graph[N]) HasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[N]int, len(g.nodes))

	type frame struct {
		node N
		next int
	}

	for _, root := range g.nodes {
		if color[root] != white {
			continue
		}
		stack := []frame{{node: root}}
		color[root] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succs := g.succs[top.node]
			if top.next < len(succs) {
				child := succs[top.next]
				top.next++
				switch color[child] {
				case gray:
					return true
				case white:
					color[child] = gray
					stack = append(stack, frame{node: child})
				}
				continue
			}
			color[top.node] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}

// PostOrder returns a DFS postorder over all nodes, starting new searches
// at unvisited nodes in insertion order.
func (g *Graph[N]) PostOrder() []N {
	seen := make(map[N]struct{}, len(g.nodes))
	order := make([]N, 0, len(g.nodes))

	type frame struct {
		node N
		next int
	}

	for _, root := range g.nodes {
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succs := g.succs[top.node]
			if top.next < len(succs) {
				child := succs[top.next]
				top.next++
				if _, ok := seen[child]; !ok {
					seen[child] = struct{}{}
					stack = append(stack, frame{node: child})
				}
				continue
			}
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order
}

// PostOrderFrom returns the DFS postorder of nodes reachable from start.
func (g *Graph[N]) PostOrderFrom(start N) []N {
	if !g.HasNode(start) {
		return nil
	}
	seen := map[N]struct{}{start: {}}
	var order []N

	type frame struct {
		node N
		next int
	}
	stack := []frame{{node: start}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.succs[top.node]
		if top.next < len(succs) {
			child := succs[top.next]
			top.next++
			if _, ok := seen[child]; !ok {
				seen[child] = struct{}{}
				stack = append(stack, frame{node: child})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// QuasiTopologicalSort returns the nodes in reverse DFS postorder. For an
// acyclic graph this is a topological order; with cycles it degrades
// gracefully, keeping back edges as the only order violations. The DFS
// walks successors last to first so that reversing the postorder lists
// siblings in edge insertion order.
func (g *Graph[N]) QuasiTopologicalSort() []N {
	seen := make(map[N]struct{}, len(g.nodes))
	order := make([]N, 0, len(g.nodes))

	type frame struct {
		node N
		next int
	}

	for _, root := range g.nodes {
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		stack := []frame{{node: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succs := g.succs[top.node]
			if top.next < len(succs) {
				child := succs[len(succs)-1-top.next]
				top.next++
				if _, ok := seen[child]; !ok {
					seen[child] = struct{}{}
					stack = append(stack, frame{node: child})
				}
				continue
			}
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// SCCs partitions the graph into strongly connected components using
// Kosaraju-Sharir: one postorder pass over the original edges, then
// breadth-first sweeps over reversed edges in reverse postorder.
func (g *Graph[N]) SCCs() [][]N {
	po := g.PostOrder()
	seen := make(map[N]struct{}, len(po))
	var comps [][]N

	for i := len(po) - 1; i >= 0; i-- {
		leader := po[i]
		if _, ok := seen[leader]; ok {
			continue
		}
		seen[leader] = struct{}{}
		scc := []N{leader}
		queue := []N{leader}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, p := range g.preds[n] {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				scc = append(scc, p)
				queue = append(queue, p)
			}
		}
		comps = append(comps, scc)
	}
	return comps
}

// BFSOrder returns the nodes reachable from start in breadth-first order.
func (g *Graph[N]) BFSOrder(start N) []N {
	if !g.HasNode(start) {
		return nil
	}
	seen := map[N]struct{}{start: {}}
	order := []N{start}
	queue := []N{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, s := range g.succs[n] {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			order = append(order, s)
			queue = append(queue, s)
		}
	}
	return order
}
