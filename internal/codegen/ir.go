// Package codegen turns a syntax tree into an executable render program.
//
// Generation happens in two stages. Lowering walks the tree once and emits a
// flat, JSON-serialisable instruction list (Op), folding everything whose
// output is statically known. Linking turns the instruction list into a tree
// of closures. A Program keeps both, so a precompiled program can be written
// to disk and revived with Link, skipping lexing and parsing entirely.
package codegen

import "github.com/conneroisu/quill/internal/syntax"

// OpCode identifies an instruction.
type OpCode string

const (
	// OpText emits Text verbatim. Literal output is escaped before it is
	// stored here.
	OpText OpCode = "text"
	// OpOutput evaluates Value and emits it, HTML-escaped unless Raw.
	OpOutput OpCode = "output"
	// OpIf runs the body of the first branch whose condition is truthy,
	// or Else.
	OpIf OpCode = "if"
	// OpEach runs Body once per element of Value, or Else when there are
	// none.
	OpEach OpCode = "each"
	// OpPartial renders the template Name, narrowed to With when set.
	OpPartial OpCode = "partial"
)

// Op is one instruction of a lowered program.
type Op struct {
	Code       OpCode   `json:"op"`
	Offset     int      `json:"offset,omitempty"`
	Text       string   `json:"text,omitempty"`
	Raw        bool     `json:"raw,omitempty"`
	Value      *Operand `json:"value,omitempty"`
	Branches   []Branch `json:"branches,omitempty"`
	Body       []Op     `json:"body,omitempty"`
	Else       []Op     `json:"else,omitempty"`
	Alias      string   `json:"alias,omitempty"`
	IndexAlias string   `json:"index_alias,omitempty"`
	Name       string   `json:"name,omitempty"`
	With       *Path    `json:"with,omitempty"`
}

// Branch is one guarded arm of an OpIf.
type Branch struct {
	Cond *Operand `json:"cond"`
	Body []Op     `json:"body,omitempty"`
}

// OperandKind identifies the shape of an Operand.
type OperandKind string

const (
	OperandPath    OperandKind = "path"
	OperandLiteral OperandKind = "literal"
	OperandHelper  OperandKind = "helper"
	OperandNot     OperandKind = "not"
)

// Operand is a serialisable expression.
type Operand struct {
	Kind    OperandKind `json:"kind"`
	Path    *Path       `json:"path,omitempty"`
	Literal string      `json:"literal,omitempty"`
	Helper  string      `json:"helper,omitempty"`
	Args    []*Operand  `json:"args,omitempty"`
	Operand *Operand    `json:"operand,omitempty"`
}

// Path is a serialisable variable path.
type Path struct {
	Segments []string `json:"segments,omitempty"`
	Root     bool     `json:"root,omitempty"`
	Current  bool     `json:"current,omitempty"`
	Up       int      `json:"up,omitempty"`
	Keyword  string   `json:"keyword,omitempty"`
}

func lowerPath(p *syntax.PathExpr) *Path {
	if p == nil {
		return nil
	}

	return &Path{
		Segments: p.Segments,
		Root:     p.Root,
		Current:  p.Current,
		Up:       p.Up,
		Keyword:  p.Keyword,
	}
}

func (p *Path) relative() bool {
	return !p.Root && !p.Current && p.Up == 0 && p.Keyword == ""
}

func lowerOperand(e syntax.Expr) *Operand {
	switch e := e.(type) {
	case *syntax.PathExpr:
		return &Operand{Kind: OperandPath, Path: lowerPath(e)}
	case *syntax.LiteralExpr:
		return &Operand{Kind: OperandLiteral, Literal: e.Value}
	case *syntax.NotExpr:
		return &Operand{Kind: OperandNot, Operand: lowerOperand(e.Expr)}
	case *syntax.HelperExpr:
		args := make([]*Operand, len(e.Args))
		for i, a := range e.Args {
			args[i] = lowerOperand(a)
		}
		return &Operand{Kind: OperandHelper, Helper: e.Name, Args: args}
	}

	return nil
}
