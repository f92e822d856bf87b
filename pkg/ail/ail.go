// Package ail defines the lifted intermediate representation consumed by the
// structurer: expressions, statements, and basic blocks. It mirrors the shape
// of a decompiler's IL after lifting, before any structuring has happened.
package ail

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyBlock is returned when a block has no statements to inspect.
// Callers scanning compound nodes catch it and continue with earlier siblings.
var ErrEmptyBlock = errors.New("ail: block has no statements")

// BinOp identifies a binary operator.
type BinOp string

const (
	LogicalAnd BinOp = "LogicalAnd"
	LogicalOr  BinOp = "LogicalOr"
	CmpEQ      BinOp = "CmpEQ"
	CmpNE      BinOp = "CmpNE"
	CmpLT      BinOp = "CmpLT"
	CmpLE      BinOp = "CmpLE"
	CmpGT      BinOp = "CmpGT"
	CmpGE      BinOp = "CmpGE"
	CmpULE     BinOp = "CmpULE"
	CmpUGT     BinOp = "CmpUGT"
	Add        BinOp = "Add"
	Sub        BinOp = "Sub"
	Xor        BinOp = "Xor"
	And        BinOp = "And"
	Shr        BinOp = "Shr"
)

// UnOp identifies a unary operator.
type UnOp string

const (
	Not UnOp = "Not"
)

// Expr is a node in an expression tree.
type Expr interface {
	// Bits is the width of the value this expression produces.
	Bits() int
	String() string
}

// Const is a constant value of a known width.
type Const struct {
	Value uint64
	Width int
}

func (c *Const) Bits() int      { return c.Width }
func (c *Const) String() string { return fmt.Sprintf("%#x", c.Value) }

// Tmp is a leftover temporary that survived lifting.
type Tmp struct {
	Index int
	Width int
}

func (t *Tmp) Bits() int      { return t.Width }
func (t *Tmp) String() string { return fmt.Sprintf("t%d", t.Index) }

// Register reads a machine register.
type Register struct {
	Offset int
	Index  int
	Width  int
}

func (r *Register) Bits() int      { return r.Width }
func (r *Register) String() string { return fmt.Sprintf("reg%d<%d>", r.Offset, r.Width/8) }

// Load reads memory at Addr.
type Load struct {
	Addr  Expr
	Width int
}

func (l *Load) Bits() int      { return l.Width }
func (l *Load) String() string { return fmt.Sprintf("load(%s)", l.Addr) }

// Convert changes the width of its operand.
type Convert struct {
	FromBits int
	ToBits   int
	Operand  Expr
}

func (c *Convert) Bits() int      { return c.ToBits }
func (c *Convert) String() string { return fmt.Sprintf("conv(%d->%d, %s)", c.FromBits, c.ToBits, c.Operand) }

// UnaryOp applies Op to a single operand.
type UnaryOp struct {
	Op      UnOp
	Operand Expr
}

func (u *UnaryOp) Bits() int { return u.Operand.Bits() }

func (u *UnaryOp) String() string {
	if u.Op == Not {
		return fmt.Sprintf("!(%s)", u.Operand)
	}
	return fmt.Sprintf("%s(%s)", u.Op, u.Operand)
}

// BinaryOp applies Op to two operands.
type BinaryOp struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (b *BinaryOp) Bits() int {
	switch b.Op {
	case LogicalAnd, LogicalOr, CmpEQ, CmpNE, CmpLT, CmpLE, CmpGT, CmpGE, CmpULE, CmpUGT:
		return 1
	}
	return b.Left.Bits()
}

var binOpSymbols = map[BinOp]string{
	LogicalAnd: "&&",
	LogicalOr:  "||",
	CmpEQ:      "==",
	CmpNE:      "!=",
	CmpLT:      "<",
	CmpLE:      "<=",
	CmpGT:      ">",
	CmpGE:      ">=",
	CmpULE:     "<=u",
	CmpUGT:     ">u",
	Add:        "+",
	Sub:        "-",
	Xor:        "^",
	And:        "&",
	Shr:        ">>",
}

func (b *BinaryOp) String() string {
	if sym, ok := binOpSymbols[b.Op]; ok {
		return fmt.Sprintf("(%s %s %s)", b.Left, sym, b.Right)
	}
	return fmt.Sprintf("%s(%s, %s)", b.Op, b.Left, b.Right)
}

// Negate returns the logical negation of cond. A double negation is unpacked
// instead of wrapped.
func Negate(cond Expr) Expr {
	if u, ok := cond.(*UnaryOp); ok && u.Op == Not {
		return u.Operand
	}
	return &UnaryOp{Op: Not, Operand: cond}
}

// Stmt is a statement inside a basic block.
type Stmt interface {
	String() string
}

// Assignment stores Src into Dst.
type Assignment struct {
	Dst Expr
	Src Expr
}

func (a *Assignment) String() string { return fmt.Sprintf("%s = %s", a.Dst, a.Src) }

// Store writes Data to memory at Addr.
type Store struct {
	Addr Expr
	Data Expr
}

func (s *Store) String() string { return fmt.Sprintf("*(%s) = %s", s.Addr, s.Data) }

// Jump is an unconditional control transfer to a (concrete) target.
type Jump struct {
	Target Expr
}

func (j *Jump) String() string { return fmt.Sprintf("goto %s", j.Target) }

// ConditionalJump transfers control to TrueTarget when Condition holds and to
// FalseTarget otherwise.
type ConditionalJump struct {
	Condition   Expr
	TrueTarget  Expr
	FalseTarget Expr
}

func (c *ConditionalJump) String() string {
	return fmt.Sprintf("if (%s) goto %s else goto %s", c.Condition, c.TrueTarget, c.FalseTarget)
}

// Call invokes Target. The structurer treats it as "no recognized exit".
type Call struct {
	Target Expr
}

func (c *Call) String() string { return fmt.Sprintf("call %s", c.Target) }

// Return leaves the function. Also "no recognized exit" for structuring.
type Return struct{}

func (r *Return) String() string { return "return" }

// JumpTargets extracts the concrete targets of a Jump or ConditionalJump.
// Any other statement kind has no recognized targets.
func JumpTargets(stmt Stmt) []uint64 {
	var targets []uint64
	switch s := stmt.(type) {
	case *Jump:
		if c, ok := s.Target.(*Const); ok {
			targets = append(targets, c.Value)
		}
	case *ConditionalJump:
		if c, ok := s.TrueTarget.(*Const); ok {
			targets = append(targets, c.Value)
		}
		if c, ok := s.FalseTarget.(*Const); ok {
			targets = append(targets, c.Value)
		}
	}
	return targets
}

// Block is a basic block: an ordered statement list at an address, with an
// optional trailing control transfer.
type Block struct {
	Address    uint64
	Statements []Stmt
}

// Addr returns the block's address.
func (b *Block) Addr() uint64 { return b.Address }

// LastStatement returns the trailing statement, or ErrEmptyBlock when the
// block is empty.
func (b *Block) LastStatement() (Stmt, error) {
	if len(b.Statements) == 0 {
		return nil, ErrEmptyBlock
	}
	return b.Statements[len(b.Statements)-1], nil
}

// RemoveLastStatement strips the trailing statement in place. This is a
// one-way mutation: callers must not rely on the transfer afterwards.
func (b *Block) RemoveLastStatement() (Stmt, error) {
	if len(b.Statements) == 0 {
		return nil, ErrEmptyBlock
	}
	stmt := b.Statements[len(b.Statements)-1]
	b.Statements = b.Statements[:len(b.Statements)-1]
	return stmt, nil
}

// AppendStatement adds a statement at the end of the block.
func (b *Block) AppendStatement(stmt Stmt) {
	b.Statements = append(b.Statements, stmt)
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %#x:", b.Address)
	for _, stmt := range b.Statements {
		sb.WriteString("\n  ")
		sb.WriteString(stmt.String())
	}
	return sb.String()
}

// MultiNode is a compound unit of several blocks that the region identifier
// decided to treat as one node.
type MultiNode struct {
	Blocks []*Block
}

// Addr returns the address of the first block.
func (m *MultiNode) Addr() uint64 {
	if len(m.Blocks) == 0 {
		return 0
	}
	return m.Blocks[0].Address
}

// LastStatement scans the member blocks back to front, skipping empty ones.
func (m *MultiNode) LastStatement() (Stmt, error) {
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		stmt, err := m.Blocks[i].LastStatement()
		if err == nil {
			return stmt, nil
		}
	}
	return nil, ErrEmptyBlock
}

func (m *MultiNode) String() string {
	parts := make([]string, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}
