// Package logic implements the small boolean algebra the structurer reasons
// with: literals, opaque variables, n-ary And/Or, Not, and uninterpreted
// comparison/arithmetic operators. Conditions recovered from the control flow
// graph live in this algebra until structuring is done, then get translated
// back to native expressions.
package logic

import (
	"fmt"
	"sort"
	"strings"
)

// Op identifies an uninterpreted binary operator. The algebra keeps these
// opaque; only the boolean connectives are interpreted.
type Op string

const (
	OpEq  Op = "Eq"
	OpNe  Op = "Ne"
	OpSLt Op = "SLt"
	OpSLe Op = "SLe"
	OpSGt Op = "SGt"
	OpSGe Op = "SGe"
	OpULe Op = "ULe"
	OpUGt Op = "UGt"
	OpAdd Op = "Add"
	OpSub Op = "Sub"
	OpXor Op = "Xor"
	OpAnd Op = "BVAnd"
	OpShr Op = "Shr"
)

// Expr is a node in a boolean-algebra expression.
type Expr interface {
	String() string
}

// Lit is a boolean literal.
type Lit struct {
	Value bool
}

// True and False are the universal literals. Always use these instead of
// allocating new Lit values so identity checks stay cheap.
var (
	True  = &Lit{Value: true}
	False = &Lit{Value: false}
)

func (l *Lit) String() string {
	if l.Value {
		return "true"
	}
	return "false"
}

// Var is an opaque variable standing in for a native expression. Width is
// zero for boolean variables and the bit width otherwise.
type Var struct {
	Name  string
	Width int
}

func (v *Var) String() string { return v.Name }

// Const is an opaque bitvector constant.
type Const struct {
	Value uint64
	Width int
}

func (c *Const) String() string { return fmt.Sprintf("%#x", c.Value) }

// Not is logical negation.
type Not struct {
	Arg Expr
}

func (n *Not) String() string { return fmt.Sprintf("!%s", n.Arg) }

// And is an n-ary conjunction.
type And struct {
	Args []Expr
}

func (a *And) String() string { return joinArgs(a.Args, " && ") }

// Or is an n-ary disjunction.
type Or struct {
	Args []Expr
}

func (o *Or) String() string { return joinArgs(o.Args, " || ") }

// Bin is an uninterpreted binary operation, typically a comparison whose
// operands are bitvector terms.
type Bin struct {
	Op    Op
	Left  Expr
	Right Expr
}

func (b *Bin) String() string { return fmt.Sprintf("%s(%s, %s)", b.Op, b.Left, b.Right) }

func joinArgs(args []Expr, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// NewAnd builds a conjunction, collapsing the trivial arities.
func NewAnd(args ...Expr) Expr {
	switch len(args) {
	case 0:
		return True
	case 1:
		return args[0]
	}
	return &And{Args: args}
}

// NewOr builds a disjunction, collapsing the trivial arities.
func NewOr(args ...Expr) Expr {
	switch len(args) {
	case 0:
		return False
	case 1:
		return args[0]
	}
	return &Or{Args: args}
}

// NewNot negates an expression, unpacking a double negation.
func NewNot(arg Expr) Expr {
	if n, ok := arg.(*Not); ok {
		return n.Arg
	}
	if l, ok := arg.(*Lit); ok {
		if l.Value {
			return False
		}
		return True
	}
	return &Not{Arg: arg}
}

// Iff is boolean equivalence, expanded over the interpreted connectives so
// the satisfiability oracle can evaluate it.
func Iff(a, b Expr) Expr {
	return NewOr(NewAnd(a, b), NewAnd(NewNot(a), NewNot(b)))
}

// IsTrue reports whether e is the literal true.
func IsTrue(e Expr) bool {
	l, ok := e.(*Lit)
	return ok && l.Value
}

// IsFalse reports whether e is the literal false.
func IsFalse(e Expr) bool {
	l, ok := e.(*Lit)
	return ok && !l.Value
}

// Key returns a canonical string identity for e. Two structurally equal
// expressions always share a key; commutative connectives are keyed with
// sorted arguments.
func Key(e Expr) string {
	switch x := e.(type) {
	case *Lit:
		return x.String()
	case *Var:
		return "v:" + x.Name
	case *Const:
		return fmt.Sprintf("c:%d:%d", x.Value, x.Width)
	case *Not:
		return "!(" + Key(x.Arg) + ")"
	case *And:
		return connectiveKey("&", x.Args)
	case *Or:
		return connectiveKey("|", x.Args)
	case *Bin:
		return fmt.Sprintf("%s(%s,%s)", x.Op, Key(x.Left), Key(x.Right))
	}
	return fmt.Sprintf("?%T", e)
}

func connectiveKey(op string, args []Expr) string {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = Key(a)
	}
	sort.Strings(keys)
	return op + "(" + strings.Join(keys, ",") + ")"
}
