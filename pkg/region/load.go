package region

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/graph"
)

// Document is the on-disk description of a function's region tree: a flat
// list of basic blocks plus a recursive region declaration whose node
// references resolve by address. JSON documents parse through the same
// decoder since JSON is a YAML subset.
type Document struct {
	Function string     `yaml:"function" json:"function"`
	Blocks   []BlockDoc `yaml:"blocks" json:"blocks"`
	Region   *RegionDoc `yaml:"region" json:"region"`
}

// BlockDoc is one basic block.
type BlockDoc struct {
	Address    uint64    `yaml:"address" json:"address"`
	Statements []StmtDoc `yaml:"statements" json:"statements"`
}

// RegionDoc declares a region: its head address, member nodes, and edges
// between members. Members are either block addresses or nested regions;
// edge endpoints name members by address (a nested region is named by its
// head address).
type RegionDoc struct {
	Head  uint64    `yaml:"head" json:"head"`
	Nodes []NodeRef `yaml:"nodes" json:"nodes"`
	Edges []EdgeDoc `yaml:"edges" json:"edges"`
}

// NodeRef is one member of a region: exactly one of Block or Region is set.
type NodeRef struct {
	Block  *uint64    `yaml:"block,omitempty" json:"block,omitempty"`
	Region *RegionDoc `yaml:"region,omitempty" json:"region,omitempty"`
}

// EdgeDoc is a directed edge between two region members.
type EdgeDoc struct {
	From uint64 `yaml:"from" json:"from"`
	To   uint64 `yaml:"to" json:"to"`
}

// StmtDoc is one statement; exactly one field is set.
type StmtDoc struct {
	Assign   *AssignDoc   `yaml:"assign,omitempty" json:"assign,omitempty"`
	Store    *StoreDoc    `yaml:"store,omitempty" json:"store,omitempty"`
	Jump     *JumpDoc     `yaml:"jump,omitempty" json:"jump,omitempty"`
	CondJump *CondJumpDoc `yaml:"cond_jump,omitempty" json:"cond_jump,omitempty"`
	Call     *CallDoc     `yaml:"call,omitempty" json:"call,omitempty"`
	Return   *ReturnDoc   `yaml:"return,omitempty" json:"return,omitempty"`
}

// AssignDoc writes an expression into a destination.
type AssignDoc struct {
	Dst ExprDoc `yaml:"dst" json:"dst"`
	Src ExprDoc `yaml:"src" json:"src"`
}

// StoreDoc writes a value through a memory address.
type StoreDoc struct {
	Addr  ExprDoc `yaml:"addr" json:"addr"`
	Value ExprDoc `yaml:"value" json:"value"`
}

// JumpDoc is an unconditional transfer to a block address.
type JumpDoc struct {
	Target uint64 `yaml:"target" json:"target"`
}

// CondJumpDoc is a two-way transfer guarded by a condition.
type CondJumpDoc struct {
	Condition ExprDoc `yaml:"condition" json:"condition"`
	True      uint64  `yaml:"true" json:"true"`
	False     uint64  `yaml:"false" json:"false"`
}

// CallDoc is a call to a target address.
type CallDoc struct {
	Target uint64 `yaml:"target" json:"target"`
}

// ReturnDoc ends the function.
type ReturnDoc struct{}

// ExprDoc is one expression; exactly one field is set.
type ExprDoc struct {
	Const   *ConstDoc   `yaml:"const,omitempty" json:"const,omitempty"`
	Reg     *RegDoc     `yaml:"reg,omitempty" json:"reg,omitempty"`
	Tmp     *TmpDoc     `yaml:"tmp,omitempty" json:"tmp,omitempty"`
	Load    *LoadDoc    `yaml:"load,omitempty" json:"load,omitempty"`
	Convert *ConvertDoc `yaml:"convert,omitempty" json:"convert,omitempty"`
	Not     *ExprDoc    `yaml:"not,omitempty" json:"not,omitempty"`
	BinOp   *BinOpDoc   `yaml:"binop,omitempty" json:"binop,omitempty"`
}

// ConstDoc is an integer literal.
type ConstDoc struct {
	Value uint64 `yaml:"value" json:"value"`
	Width int    `yaml:"width" json:"width"`
}

// RegDoc is a register read.
type RegDoc struct {
	Offset int `yaml:"offset" json:"offset"`
	Index  int `yaml:"index" json:"index"`
	Width  int `yaml:"width" json:"width"`
}

// TmpDoc is a temporary read.
type TmpDoc struct {
	Index int `yaml:"index" json:"index"`
	Width int `yaml:"width" json:"width"`
}

// LoadDoc is a memory read.
type LoadDoc struct {
	Addr  ExprDoc `yaml:"addr" json:"addr"`
	Width int     `yaml:"width" json:"width"`
}

// ConvertDoc is a width change.
type ConvertDoc struct {
	From    int     `yaml:"from" json:"from"`
	To      int     `yaml:"to" json:"to"`
	Operand ExprDoc `yaml:"operand" json:"operand"`
}

// BinOpDoc is a binary operation; Op uses the mnemonics from the ail
// package (CmpEQ, CmpNE, LogicalAnd, Add, ...).
type BinOpDoc struct {
	Op    string  `yaml:"op" json:"op"`
	Left  ExprDoc `yaml:"left" json:"left"`
	Right ExprDoc `yaml:"right" json:"right"`
}

// LoadDocument parses a region document from r.
func LoadDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading region document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing region document: %w", err)
	}
	return &doc, nil
}

// LoadFile parses a region document from path and builds the region tree.
func LoadFile(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening region document: %w", err)
	}
	defer f.Close()

	doc, err := LoadDocument(f)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// Build materializes the document into blocks and a region tree.
func (d *Document) Build() (*Region, error) {
	if d.Region == nil {
		return nil, fmt.Errorf("region document %q has no region declaration", d.Function)
	}

	blocks := make(map[uint64]*ail.Block, len(d.Blocks))
	for _, bd := range d.Blocks {
		if _, dup := blocks[bd.Address]; dup {
			return nil, fmt.Errorf("duplicate block %#x", bd.Address)
		}
		block := &ail.Block{Address: bd.Address}
		for i, sd := range bd.Statements {
			stmt, err := sd.build()
			if err != nil {
				return nil, fmt.Errorf("block %#x statement %d: %w", bd.Address, i, err)
			}
			block.Statements = append(block.Statements, stmt)
		}
		blocks[bd.Address] = block
	}

	return d.Region.build(blocks)
}

func (rd *RegionDoc) build(blocks map[uint64]*ail.Block) (*Region, error) {
	g := graph.New[Node]()
	members := make(map[uint64]Node, len(rd.Nodes))

	for _, ref := range rd.Nodes {
		switch {
		case ref.Block != nil && ref.Region != nil:
			return nil, fmt.Errorf("region %#x: node declares both block and region", rd.Head)
		case ref.Block != nil:
			block, ok := blocks[*ref.Block]
			if !ok {
				return nil, fmt.Errorf("region %#x references unknown block %#x", rd.Head, *ref.Block)
			}
			members[block.Address] = block
			g.AddNode(block)
		case ref.Region != nil:
			sub, err := ref.Region.build(blocks)
			if err != nil {
				return nil, err
			}
			members[sub.Addr()] = sub
			g.AddNode(sub)
		default:
			return nil, fmt.Errorf("region %#x: empty node reference", rd.Head)
		}
	}

	for _, e := range rd.Edges {
		src, ok := members[e.From]
		if !ok {
			return nil, fmt.Errorf("region %#x: edge source %#x is not a member", rd.Head, e.From)
		}
		dst, ok := members[e.To]
		if !ok {
			return nil, fmt.Errorf("region %#x: edge target %#x is not a member", rd.Head, e.To)
		}
		g.AddEdge(src, dst)
	}

	head, ok := members[rd.Head]
	if !ok {
		return nil, fmt.Errorf("region head %#x is not a member", rd.Head)
	}
	return New(head, g), nil
}

func (sd *StmtDoc) build() (ail.Stmt, error) {
	switch {
	case sd.Assign != nil:
		dst, err := sd.Assign.Dst.build()
		if err != nil {
			return nil, err
		}
		src, err := sd.Assign.Src.build()
		if err != nil {
			return nil, err
		}
		return &ail.Assignment{Dst: dst, Src: src}, nil

	case sd.Store != nil:
		addr, err := sd.Store.Addr.build()
		if err != nil {
			return nil, err
		}
		value, err := sd.Store.Value.build()
		if err != nil {
			return nil, err
		}
		return &ail.Store{Addr: addr, Data: value}, nil

	case sd.Jump != nil:
		return &ail.Jump{Target: &ail.Const{Value: sd.Jump.Target, Width: 64}}, nil

	case sd.CondJump != nil:
		cond, err := sd.CondJump.Condition.build()
		if err != nil {
			return nil, err
		}
		return &ail.ConditionalJump{
			Condition:   cond,
			TrueTarget:  &ail.Const{Value: sd.CondJump.True, Width: 64},
			FalseTarget: &ail.Const{Value: sd.CondJump.False, Width: 64},
		}, nil

	case sd.Call != nil:
		return &ail.Call{Target: &ail.Const{Value: sd.Call.Target, Width: 64}}, nil

	case sd.Return != nil:
		return &ail.Return{}, nil
	}
	return nil, fmt.Errorf("statement is empty")
}

func (ed *ExprDoc) build() (ail.Expr, error) {
	switch {
	case ed.Const != nil:
		return &ail.Const{Value: ed.Const.Value, Width: ed.Const.Width}, nil

	case ed.Reg != nil:
		return &ail.Register{Offset: ed.Reg.Offset, Index: ed.Reg.Index, Width: ed.Reg.Width}, nil

	case ed.Tmp != nil:
		return &ail.Tmp{Index: ed.Tmp.Index, Width: ed.Tmp.Width}, nil

	case ed.Load != nil:
		addr, err := ed.Load.Addr.build()
		if err != nil {
			return nil, err
		}
		return &ail.Load{Addr: addr, Width: ed.Load.Width}, nil

	case ed.Convert != nil:
		operand, err := ed.Convert.Operand.build()
		if err != nil {
			return nil, err
		}
		return &ail.Convert{FromBits: ed.Convert.From, ToBits: ed.Convert.To, Operand: operand}, nil

	case ed.Not != nil:
		arg, err := ed.Not.build()
		if err != nil {
			return nil, err
		}
		return &ail.UnaryOp{Op: ail.Not, Operand: arg}, nil

	case ed.BinOp != nil:
		op, err := parseBinOp(ed.BinOp.Op)
		if err != nil {
			return nil, err
		}
		left, err := ed.BinOp.Left.build()
		if err != nil {
			return nil, err
		}
		right, err := ed.BinOp.Right.build()
		if err != nil {
			return nil, err
		}
		return &ail.BinaryOp{Op: op, Left: left, Right: right}, nil
	}
	return nil, fmt.Errorf("expression is empty")
}

func parseBinOp(s string) (ail.BinOp, error) {
	ops := map[string]ail.BinOp{
		"LogicalAnd": ail.LogicalAnd,
		"LogicalOr":  ail.LogicalOr,
		"CmpEQ":      ail.CmpEQ,
		"CmpNE":      ail.CmpNE,
		"CmpLT":      ail.CmpLT,
		"CmpLE":      ail.CmpLE,
		"CmpGT":      ail.CmpGT,
		"CmpGE":      ail.CmpGE,
		"CmpULE":     ail.CmpULE,
		"CmpUGT":     ail.CmpUGT,
		"Add":        ail.Add,
		"Sub":        ail.Sub,
		"Xor":        ail.Xor,
		"And":        ail.And,
		"Shr":        ail.Shr,
	}
	op, ok := ops[s]
	if !ok {
		return "", fmt.Errorf("unknown binary operator %q", s)
	}
	return op, nil
}
