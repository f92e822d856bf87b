package structurer

import (
	"fmt"
	"strings"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/region"
)

// Render pretty-prints a structured tree as indented pseudo code. It is
// meant for debugging and CLI output, not for consumption by a code
// generator.
func Render(n region.Node) string {
	var b strings.Builder
	render(&b, n, 0)
	return b.String()
}

func render(b *strings.Builder, n region.Node, depth int) {
	indent := strings.Repeat("    ", depth)

	switch node := n.(type) {
	case nil:

	case *SequenceNode:
		for _, child := range node.Nodes {
			render(b, child, depth)
		}

	case *CodeNode:
		render(b, node.Node, depth)

	case *ConditionNode:
		fmt.Fprintf(b, "%sif (%s) {\n", indent, exprString(node.Cond))
		render(b, node.TrueNode, depth+1)
		if node.FalseNode != nil {
			fmt.Fprintf(b, "%s} else {\n", indent)
			render(b, node.FalseNode, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", indent)

	case *LoopNode:
		switch node.Kind {
		case LoopWhile:
			fmt.Fprintf(b, "%swhile (%s) {\n", indent, exprString(node.Cond))
			render(b, node.Body, depth+1)
			fmt.Fprintf(b, "%s}\n", indent)
		case LoopDoWhile:
			fmt.Fprintf(b, "%sdo {\n", indent)
			render(b, node.Body, depth+1)
			fmt.Fprintf(b, "%s} while (%s)\n", indent, exprString(node.Cond))
		default:
			fmt.Fprintf(b, "%sfor (;;) {\n", indent)
			render(b, node.Body, depth+1)
			fmt.Fprintf(b, "%s}\n", indent)
		}

	case *BreakNode:
		fmt.Fprintf(b, "%sbreak;\n", indent)

	case *ConditionalBreakNode:
		fmt.Fprintf(b, "%sif (%s) break;\n", indent, exprString(node.Cond))

	case *ail.Block:
		fmt.Fprintf(b, "%s// block %#x\n", indent, node.Address)
		for _, stmt := range node.Statements {
			fmt.Fprintf(b, "%s%s\n", indent, stmt)
		}

	case *ail.MultiNode:
		for _, block := range node.Blocks {
			render(b, block, depth)
		}

	case *region.Region:
		fmt.Fprintf(b, "%s// unstructured region %#x\n", indent, node.Addr())

	default:
		fmt.Fprintf(b, "%s// %v\n", indent, node)
	}
}

func exprString(e ail.Expr) string {
	if e == nil {
		return "true"
	}
	return e.String()
}
