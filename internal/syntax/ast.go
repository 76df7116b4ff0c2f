package syntax

// Node is an element of a template's syntax tree.
type Node interface {
	// Pos returns the byte offset of the node in the template source.
	Pos() int
	node()
}

// Text is literal output.
type Text struct {
	Value  string
	Offset int
}

// Variable interpolates the value at a path.
type Variable struct {
	Path   *PathExpr
	Raw    bool
	Offset int
}

// HelperCall interpolates the result of a helper.
type HelperCall struct {
	Name   string
	Args   []Expr
	Raw    bool
	Legacy bool
	Offset int
}

// Expression interpolates any other expression (a string literal or a
// negation).
type Expression struct {
	Expr   Expr
	Raw    bool
	Offset int
}

// ElseIfBranch is one "else if" arm of a Conditional.
type ElseIfBranch struct {
	Cond   Expr
	Body   []Node
	Offset int
}

// Conditional renders exactly one of Then, an ElseIfs body, or Else.
type Conditional struct {
	Cond    Expr
	Then    []Node
	ElseIfs []*ElseIfBranch
	Else    []Node
	HasElse bool
	Offset  int
}

// Iteration renders Body once per element of Collection, or Empty when the
// collection has no elements.
type Iteration struct {
	Collection Expr
	Alias      string
	IndexAlias string
	Body       []Node
	Empty      []Node
	HasEmpty   bool
	Offset     int
}

// Partial includes another template by name, optionally narrowing the
// context to the value at With.
type Partial struct {
	Name   string
	With   *PathExpr
	Offset int
}

// Root is a parsed template.
type Root struct {
	Nodes []Node
}

func (n *Text) Pos() int        { return n.Offset }
func (n *Variable) Pos() int    { return n.Offset }
func (n *HelperCall) Pos() int  { return n.Offset }
func (n *Expression) Pos() int  { return n.Offset }
func (n *Conditional) Pos() int { return n.Offset }
func (n *Iteration) Pos() int   { return n.Offset }
func (n *Partial) Pos() int     { return n.Offset }

func (*Text) node()        {}
func (*Variable) node()    {}
func (*HelperCall) node()  {}
func (*Expression) node()  {}
func (*Conditional) node() {}
func (*Iteration) node()   {}
func (*Partial) node()     {}

// Walk calls fn for every node of the tree in document order, descending
// into block bodies.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)
		switch n := n.(type) {
		case *Conditional:
			Walk(n.Then, fn)
			for _, br := range n.ElseIfs {
				Walk(br.Body, fn)
			}
			Walk(n.Else, fn)
		case *Iteration:
			Walk(n.Body, fn)
			Walk(n.Empty, fn)
		}
	}
}

// Imports returns the names of the partials referenced by root, in document
// order and without duplicates.
func Imports(root *Root) []string {
	var names []string
	seen := make(map[string]bool)
	Walk(root.Nodes, func(n Node) {
		if p, ok := n.(*Partial); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	})

	return names
}
