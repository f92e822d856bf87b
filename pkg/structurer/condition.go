package structurer

import (
	"errors"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/logic"
)

// ErrUnsupportedExpr is returned when an expression kind or operator reaches
// condition translation that the algebra cannot represent.
var ErrUnsupportedExpr = errors.New("structurer: unsupported expression in condition translation")

// ErrUnmappedVariable is returned when an algebra variable has no native
// expression recorded in the condition-variable mapping. It indicates an
// implementation error, not bad input.
var ErrUnmappedVariable = errors.New("structurer: algebra variable not present in condition mapping")

// CondVars maps opaque algebra variable names to the native expressions they
// stand for. One mapping is owned by the outermost structuring call for a
// region tree and shared by reference with every recursive sub-call, so
// identical native sub-expressions always reuse the same variable.
type CondVars map[string]ail.Expr

// NewCondVars creates an empty condition-variable mapping.
func NewCondVars() CondVars { return make(CondVars) }

// symCond carries a boolean-algebra condition through fields typed as native
// expressions while a region is still being structured. The final translation
// pass replaces every symCond with the native expression it denotes.
type symCond struct {
	expr logic.Expr
}

func (s *symCond) Bits() int      { return 1 }
func (s *symCond) String() string { return s.expr.String() }

// sym wraps an algebra condition for storage on a control node.
func sym(e logic.Expr) ail.Expr {
	if e == nil {
		return nil
	}
	return &symCond{expr: e}
}

// unsym extracts the algebra condition from a node field, if it still holds
// one.
func unsym(e ail.Expr) (logic.Expr, bool) {
	if e == nil {
		return nil, false
	}
	sc, ok := e.(*symCond)
	if !ok {
		return nil, false
	}
	return sc.expr, true
}

// varName derives a stable signature-based variable name for a native
// expression. Structurally identical expressions, in any recursive call
// sharing the mapping, produce the same name.
func varName(prefix string, e ail.Expr) string {
	h, err := hashstructure.Hash(e, hashstructure.FormatV2, nil)
	if err != nil {
		// Fall back to the rendered form; still deterministic.
		return fmt.Sprintf("%s_%s", prefix, e)
	}
	return fmt.Sprintf("%s_%016x", prefix, h)
}

var binOpToLogic = map[ail.BinOp]logic.Op{
	ail.CmpEQ:  logic.OpEq,
	ail.CmpNE:  logic.OpNe,
	ail.CmpLT:  logic.OpSLt,
	ail.CmpLE:  logic.OpSLe,
	ail.CmpGT:  logic.OpSGt,
	ail.CmpGE:  logic.OpSGe,
	ail.CmpULE: logic.OpULe,
	ail.CmpUGT: logic.OpUGt,
	ail.Add:    logic.OpAdd,
	ail.Sub:    logic.OpSub,
	ail.Xor:    logic.OpXor,
	ail.And:    logic.OpAnd,
	ail.Shr:    logic.OpShr,
}

var logicOpToBin = map[logic.Op]ail.BinOp{
	logic.OpEq:  ail.CmpEQ,
	logic.OpNe:  ail.CmpNE,
	logic.OpSLt: ail.CmpLT,
	logic.OpSLe: ail.CmpLE,
	logic.OpSGt: ail.CmpGT,
	logic.OpSGe: ail.CmpGE,
	logic.OpULe: ail.CmpULE,
	logic.OpUGt: ail.CmpUGT,
	logic.OpAdd: ail.Add,
	logic.OpSub: ail.Sub,
	logic.OpXor: ail.Xor,
	logic.OpAnd: ail.And,
	logic.OpShr: ail.Shr,
}

// fromNative translates a native condition into the boolean algebra,
// registering opaque leaves in the condition-variable mapping.
func (s *Structurer) fromNative(cond ail.Expr) (logic.Expr, error) {
	switch e := cond.(type) {
	case *symCond:
		return e.expr, nil

	case *ail.Load:
		v := &logic.Var{Name: varName("ailexpr_load", e), Width: e.Width}
		s.condVars[v.Name] = e
		return v, nil

	case *ail.Register:
		v := &logic.Var{Name: varName("ailexpr_reg", e), Width: e.Width}
		s.condVars[v.Name] = e
		return v, nil

	case *ail.Convert:
		// Translate the operand first so its own leaves get registered in
		// the shared mapping.
		if _, err := s.fromNative(e.Operand); err != nil {
			return nil, err
		}
		// A conversion to one bit is a boolean; any other width stays an
		// opaque bitvector variable over the converted operand.
		width := 0
		if e.ToBits != 1 {
			width = e.ToBits
		}
		name := fmt.Sprintf("%s_%d_%d", varName("ailexpr_conv", e), e.FromBits, e.ToBits)
		v := &logic.Var{Name: name, Width: width}
		s.condVars[v.Name] = e
		return v, nil

	case *ail.Const:
		return &logic.Const{Value: e.Value, Width: e.Width}, nil

	case *ail.Tmp:
		s.log.Warn("left-over temporary in condition", "tmp", e.String())
		width := 0
		if e.Width != 1 {
			width = e.Width
		}
		v := &logic.Var{Name: varName("ailtmp", e), Width: width}
		s.condVars[v.Name] = e
		return v, nil

	case *ail.UnaryOp:
		if e.Op != ail.Not {
			return nil, fmt.Errorf("%w: unary operator %s", ErrUnsupportedExpr, e.Op)
		}
		inner, err := s.fromNative(e.Operand)
		if err != nil {
			return nil, err
		}
		return logic.NewNot(inner), nil

	case *ail.BinaryOp:
		left, err := s.fromNative(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.fromNative(e.Right)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case ail.LogicalAnd:
			return logic.NewAnd(left, right), nil
		case ail.LogicalOr:
			return logic.NewOr(left, right), nil
		}
		if op, ok := binOpToLogic[e.Op]; ok {
			return &logic.Bin{Op: op, Left: left, Right: right}, nil
		}
		return nil, fmt.Errorf("%w: binary operator %s", ErrUnsupportedExpr, e.Op)
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedExpr, cond)
}

// toNative translates an algebra condition back into a native expression by
// resolving variables through the condition-variable mapping.
func (s *Structurer) toNative(cond logic.Expr) (ail.Expr, error) {
	switch e := cond.(type) {
	case *logic.Lit:
		if e.Value {
			return &ail.Const{Value: 1, Width: 1}, nil
		}
		return &ail.Const{Value: 0, Width: 1}, nil

	case *logic.Var:
		native, ok := s.condVars[e.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnmappedVariable, e.Name)
		}
		return native, nil

	case *logic.Const:
		return &ail.Const{Value: e.Value, Width: e.Width}, nil

	case *logic.Not:
		inner, err := s.toNative(e.Arg)
		if err != nil {
			return nil, err
		}
		return ail.Negate(inner), nil

	case *logic.And:
		return s.foldToNative(e.Args, ail.LogicalAnd)

	case *logic.Or:
		return s.foldToNative(e.Args, ail.LogicalOr)

	case *logic.Bin:
		op, ok := logicOpToBin[e.Op]
		if !ok {
			return nil, fmt.Errorf("%w: algebra operator %s", ErrUnsupportedExpr, e.Op)
		}
		left, err := s.toNative(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.toNative(e.Right)
		if err != nil {
			return nil, err
		}
		return &ail.BinaryOp{Op: op, Left: left, Right: right}, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedExpr, cond)
}

// foldToNative rebuilds an n-ary connective as a left-leaning tree of binary
// native operations.
func (s *Structurer) foldToNative(args []logic.Expr, op ail.BinOp) (ail.Expr, error) {
	if len(args) == 0 {
		return &ail.Const{Value: 1, Width: 1}, nil
	}
	acc, err := s.toNative(args[0])
	if err != nil {
		return nil, err
	}
	for _, arg := range args[1:] {
		next, err := s.toNative(arg)
		if err != nil {
			return nil, err
		}
		acc = &ail.BinaryOp{Op: op, Left: acc, Right: next}
	}
	return acc, nil
}

// convertCond translates a node condition field: symbolic conditions resolve
// through the mapping, already-native conditions pass through untouched.
func (s *Structurer) convertCond(cond ail.Expr) (ail.Expr, error) {
	if cond == nil {
		return nil, nil
	}
	if sc, ok := cond.(*symCond); ok {
		return s.toNative(sc.expr)
	}
	return cond, nil
}

// simplifyCondition canonicalizes a recovered condition and then tries the
// short-circuit idiom rewrite !A || (A && !B) -> !(A && B).
func (s *Structurer) simplifyCondition(cond logic.Expr) logic.Expr {
	simplified := logic.Simplify(cond)
	if _, isLit := simplified.(*logic.Lit); isLit {
		return simplified
	}
	if rewritten, ok := revertShortCircuit(simplified); ok {
		return rewritten
	}
	return simplified
}

// revertShortCircuit matches a two-term disjunction where one side is a
// conjunction whose first terms contain the other side's counterpart, and
// rewrites !A || (A && !B) into !(A && B). The match is proved through the
// satisfiability oracle: !A can never be true together with A. Extra
// disjuncts beyond the first two are carried through unexamined.
func revertShortCircuit(cond logic.Expr) (logic.Expr, bool) {
	or, ok := cond.(*logic.Or)
	if !ok || len(or.Args) < 2 {
		return nil, false
	}

	arg0, arg1 := or.Args[0], or.Args[1]
	if _, isAnd := arg1.(*logic.And); !isAnd {
		if _, isAnd0 := arg0.(*logic.And); isAnd0 {
			arg0, arg1 = arg1, arg0
		} else {
			return nil, false
		}
	}
	notA := arg0
	and := arg1.(*logic.And)
	if len(and.Args) < 2 {
		return nil, false
	}

	var notB logic.Expr
	switch {
	case sameAtoms(notA, and.Args[0]):
		if logic.Satisfiable(logic.Iff(notA, and.Args[0])) {
			return nil, false
		}
		notB = and.Args[1]
	case sameAtoms(notA, and.Args[1]):
		if logic.Satisfiable(logic.Iff(notA, and.Args[1])) {
			return nil, false
		}
		notB = and.Args[0]
	default:
		return nil, false
	}

	a := logic.NewNot(notA)
	b := logic.NewNot(notB)
	merged := logic.NewNot(logic.NewAnd(a, b))
	if len(or.Args) <= 2 {
		return merged, true
	}
	rest := append([]logic.Expr{merged}, or.Args[2:]...)
	return logic.NewOr(rest...), true
}

// sameAtoms reports whether two conditions range over exactly the same set
// of atomic terms.
func sameAtoms(a, b logic.Expr) bool {
	atomsA := map[string]struct{}{}
	atomsB := map[string]struct{}{}
	logic.CollectAtoms(a, atomsA)
	logic.CollectAtoms(b, atomsB)
	if len(atomsA) != len(atomsB) {
		return false
	}
	for k := range atomsA {
		if _, ok := atomsB[k]; !ok {
			return false
		}
	}
	return true
}
