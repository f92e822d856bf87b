package region

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry1080/angr/pkg/ail"
)

const diamondDoc = `
function: check
blocks:
  - address: 0x400000
    statements:
      - assign:
          dst: {tmp: {index: 0, width: 64}}
          src: {reg: {offset: 16, width: 64}}
      - cond_jump:
          condition:
            binop:
              op: CmpEQ
              left: {tmp: {index: 0, width: 64}}
              right: {const: {value: 0, width: 64}}
          true: 0x400010
          false: 0x400020
  - address: 0x400010
    statements:
      - jump: {target: 0x400030}
  - address: 0x400020
    statements:
      - jump: {target: 0x400030}
  - address: 0x400030
    statements:
      - return: {}
region:
  head: 0x400000
  nodes:
    - {block: 0x400000}
    - {block: 0x400010}
    - {block: 0x400020}
    - {block: 0x400030}
  edges:
    - {from: 0x400000, to: 0x400010}
    - {from: 0x400000, to: 0x400020}
    - {from: 0x400010, to: 0x400030}
    - {from: 0x400020, to: 0x400030}
`

func TestBuildDiamondDocument(t *testing.T) {
	doc, err := LoadDocument(strings.NewReader(diamondDoc))
	require.NoError(t, err)
	assert.Equal(t, "check", doc.Function)

	r, err := doc.Build()
	require.NoError(t, err)

	assert.Equal(t, uint64(0x400000), r.Addr())
	assert.Equal(t, 4, r.Graph.Len())

	head, ok := r.Head.(*ail.Block)
	require.True(t, ok)
	require.Len(t, head.Statements, 2)

	cj, ok := head.Statements[1].(*ail.ConditionalJump)
	require.True(t, ok)
	assert.Equal(t, []uint64{0x400010, 0x400020}, ail.JumpTargets(cj))

	cond, ok := cj.Condition.(*ail.BinaryOp)
	require.True(t, ok)
	assert.Equal(t, ail.CmpEQ, cond.Op)

	succs := r.Graph.Successors(r.Head)
	require.Len(t, succs, 2)
	assert.Equal(t, uint64(0x400010), succs[0].Addr())
	assert.Equal(t, uint64(0x400020), succs[1].Addr())
}

func TestBuildNestedRegion(t *testing.T) {
	const doc = `
blocks:
  - address: 0x400000
    statements:
      - jump: {target: 0x400010}
  - address: 0x400010
    statements:
      - cond_jump:
          condition: {reg: {offset: 16, width: 1}}
          true: 0x400010
          false: 0x400020
  - address: 0x400020
    statements:
      - return: {}
region:
  head: 0x400000
  nodes:
    - {block: 0x400000}
    - region:
        head: 0x400010
        nodes:
          - {block: 0x400010}
        edges:
          - {from: 0x400010, to: 0x400010}
    - {block: 0x400020}
  edges:
    - {from: 0x400000, to: 0x400010}
    - {from: 0x400010, to: 0x400020}
`
	parsed, err := LoadDocument(strings.NewReader(doc))
	require.NoError(t, err)

	r, err := parsed.Build()
	require.NoError(t, err)

	// The loop block sits inside a nested region addressed by its head.
	succs := r.Graph.Successors(r.Head)
	require.Len(t, succs, 1)
	sub, ok := succs[0].(*Region)
	require.True(t, ok)
	assert.Equal(t, uint64(0x400010), sub.Addr())
	assert.Equal(t, []Node{sub.Head}, sub.Graph.Successors(sub.Head))
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no region",
			doc:     "function: f\nblocks: []\n",
			wantErr: "no region declaration",
		},
		{
			name: "duplicate block",
			doc: `
blocks:
  - {address: 0x400000, statements: []}
  - {address: 0x400000, statements: []}
region:
  head: 0x400000
  nodes: [{block: 0x400000}]
`,
			wantErr: "duplicate block",
		},
		{
			name: "unknown block reference",
			doc: `
blocks:
  - {address: 0x400000, statements: []}
region:
  head: 0x400000
  nodes: [{block: 0x400099}]
`,
			wantErr: "unknown block",
		},
		{
			name: "head not a member",
			doc: `
blocks:
  - {address: 0x400000, statements: []}
region:
  head: 0x400099
  nodes: [{block: 0x400000}]
`,
			wantErr: "head",
		},
		{
			name: "edge endpoint not a member",
			doc: `
blocks:
  - {address: 0x400000, statements: []}
region:
  head: 0x400000
  nodes: [{block: 0x400000}]
  edges: [{from: 0x400000, to: 0x400099}]
`,
			wantErr: "edge target",
		},
		{
			name: "empty node reference",
			doc: `
blocks:
  - {address: 0x400000, statements: []}
region:
  head: 0x400000
  nodes: [{}]
`,
			wantErr: "empty node reference",
		},
		{
			name: "empty statement",
			doc: `
blocks:
  - address: 0x400000
    statements: [{}]
region:
  head: 0x400000
  nodes: [{block: 0x400000}]
`,
			wantErr: "statement is empty",
		},
		{
			name: "unknown binary operator",
			doc: `
blocks:
  - address: 0x400000
    statements:
      - assign:
          dst: {tmp: {index: 0, width: 64}}
          src:
            binop:
              op: Mystery
              left: {const: {value: 1, width: 64}}
              right: {const: {value: 2, width: 64}}
region:
  head: 0x400000
  nodes: [{block: 0x400000}]
`,
			wantErr: "unknown binary operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := LoadDocument(strings.NewReader(tt.doc))
			require.NoError(t, err)
			_, err = doc.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDocumentRejectsMalformedYAML(t *testing.T) {
	_, err := LoadDocument(strings.NewReader("blocks: [oops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing region document")
}

func TestExprBuilders(t *testing.T) {
	const doc = `
blocks:
  - address: 0x400000
    statements:
      - store:
          addr:
            binop:
              op: Add
              left: {reg: {offset: 48, width: 64}}
              right: {const: {value: 8, width: 64}}
          value:
            convert:
              from: 64
              to: 32
              operand: {load: {addr: {reg: {offset: 16, width: 64}}, width: 64}}
      - cond_jump:
          condition:
            not: {tmp: {index: 3, width: 1}}
          true: 0x400000
          false: 0x400000
region:
  head: 0x400000
  nodes: [{block: 0x400000}]
`
	parsed, err := LoadDocument(strings.NewReader(doc))
	require.NoError(t, err)
	r, err := parsed.Build()
	require.NoError(t, err)

	head := r.Head.(*ail.Block)
	require.Len(t, head.Statements, 2)

	store, ok := head.Statements[0].(*ail.Store)
	require.True(t, ok)
	assert.Equal(t, "(reg48<8> + 0x8)", store.Addr.String())
	assert.Equal(t, "conv(64->32, load(reg16<8>))", store.Data.String())

	cj := head.Statements[1].(*ail.ConditionalJump)
	assert.Equal(t, "!(t3)", cj.Condition.String())
}
