package codegen

import (
	"fmt"

	"golang.org/x/net/html"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/syntax"
	"github.com/conneroisu/quill/internal/value"
)

// Options configures generation.
type Options struct {
	// Helpers, when set, is consulted to check the arity of helper calls at
	// generation time. Helpers it does not know are left to render time.
	Helpers helpers.Lookup
}

// Generate lowers and links root into a Program.
func Generate(root *syntax.Root, opts Options) (*Program, error) {
	g := &generator{opts: opts}
	ops, err := g.lower(root.Nodes)
	if err != nil {
		return nil, err
	}

	return Link(ops)
}

type generator struct {
	opts Options
}

func (g *generator) lower(nodes []syntax.Node) ([]Op, error) {
	var ops []Op
	for _, n := range nodes {
		var err error
		switch n := n.(type) {
		case *syntax.Text:
			ops = appendText(ops, n.Value, n.Offset)

		case *syntax.Variable:
			ops = append(ops, Op{
				Code:   OpOutput,
				Offset: n.Offset,
				Raw:    n.Raw,
				Value:  &Operand{Kind: OperandPath, Path: lowerPath(n.Path)},
			})

		case *syntax.HelperCall:
			call := &syntax.HelperExpr{Name: n.Name, Args: n.Args, Legacy: n.Legacy}
			if err = g.checkHelpers(call, n.Offset); err != nil {
				return nil, err
			}
			ops = append(ops, Op{Code: OpOutput, Offset: n.Offset, Raw: n.Raw, Value: lowerOperand(call)})

		case *syntax.Expression:
			if v, ok := static(n.Expr); ok {
				ops = appendText(ops, render(v, n.Raw), n.Offset)
				continue
			}
			if err = g.checkHelpers(n.Expr, n.Offset); err != nil {
				return nil, err
			}
			ops = append(ops, Op{Code: OpOutput, Offset: n.Offset, Raw: n.Raw, Value: lowerOperand(n.Expr)})

		case *syntax.Conditional:
			ops, err = g.lowerConditional(ops, n)

		case *syntax.Iteration:
			ops, err = g.lowerIteration(ops, n)

		case *syntax.Partial:
			ops = append(ops, Op{Code: OpPartial, Offset: n.Offset, Name: n.Name, With: lowerPath(n.With)})

		default:
			return nil, qerrors.NewInternalError("unknown_node", fmt.Sprintf("unknown node %T", n), nil)
		}
		if err != nil {
			return nil, err
		}
	}

	return ops, nil
}

// lowerConditional folds statically decided branches away. Leading branches
// with a literal false condition are dropped; a literal true condition ends
// the chain and becomes the else branch. When no dynamic branch remains the
// chosen body is spliced into the surrounding output.
func (g *generator) lowerConditional(ops []Op, n *syntax.Conditional) ([]Op, error) {
	type arm struct {
		cond   syntax.Expr
		body   []syntax.Node
		offset int
	}
	arms := []arm{{cond: n.Cond, body: n.Then, offset: n.Offset}}
	for _, br := range n.ElseIfs {
		arms = append(arms, arm{cond: br.Cond, body: br.Body, offset: br.Offset})
	}

	var branches []Branch
	elseNodes := n.Else
	for _, a := range arms {
		if v, ok := static(a.cond); ok {
			if value.Truthy(v) {
				elseNodes = a.body
				break
			}
			continue
		}
		if err := g.checkHelpers(a.cond, a.offset); err != nil {
			return nil, err
		}
		body, err := g.lower(a.body)
		if err != nil {
			return nil, err
		}
		branches = append(branches, Branch{Cond: lowerOperand(a.cond), Body: body})
	}

	elseOps, err := g.lower(elseNodes)
	if err != nil {
		return nil, err
	}
	if len(branches) == 0 {
		return appendOps(ops, elseOps), nil
	}

	return append(ops, Op{Code: OpIf, Offset: n.Offset, Branches: branches, Else: elseOps}), nil
}

func (g *generator) lowerIteration(ops []Op, n *syntax.Iteration) ([]Op, error) {
	if err := g.checkHelpers(n.Collection, n.Offset); err != nil {
		return nil, err
	}
	body, err := g.lower(n.Body)
	if err != nil {
		return nil, err
	}
	empty, err := g.lower(n.Empty)
	if err != nil {
		return nil, err
	}

	return append(ops, Op{
		Code:       OpEach,
		Offset:     n.Offset,
		Value:      lowerOperand(n.Collection),
		Alias:      n.Alias,
		IndexAlias: n.IndexAlias,
		Body:       body,
		Else:       empty,
	}), nil
}

// checkHelpers validates the arity of every helper call in e that the
// configured helper set knows about.
func (g *generator) checkHelpers(e syntax.Expr, offset int) error {
	switch e := e.(type) {
	case *syntax.NotExpr:
		return g.checkHelpers(e.Expr, offset)
	case *syntax.HelperExpr:
		if g.opts.Helpers != nil {
			if h, ok := g.opts.Helpers.Lookup(e.Name); ok && !h.AcceptsArity(len(e.Args)) {
				err := qerrors.NewCompileError(qerrors.ErrCodeHelperArity,
					fmt.Sprintf("helper %q takes %s arguments, called with %d", e.Name, h.ArityString(), len(e.Args)))
				err.Offset = offset
				return err.WithContext("helper", e.Name)
			}
		}
		for _, a := range e.Args {
			if err := g.checkHelpers(a, offset); err != nil {
				return err
			}
		}
	}

	return nil
}

// static returns the value of an expression that does not depend on the
// context or on helpers.
func static(e syntax.Expr) (any, bool) {
	switch e := e.(type) {
	case *syntax.LiteralExpr:
		return e.Value, true
	case *syntax.NotExpr:
		if v, ok := static(e.Expr); ok {
			return !value.Truthy(v), true
		}
	}

	return nil, false
}

func render(v any, raw bool) string {
	s := value.ToString(v)
	if raw {
		return s
	}

	return html.EscapeString(s)
}

func appendText(ops []Op, text string, offset int) []Op {
	if text == "" {
		return ops
	}
	if n := len(ops); n > 0 && ops[n-1].Code == OpText {
		ops[n-1].Text += text
		return ops
	}

	return append(ops, Op{Code: OpText, Offset: offset, Text: text})
}

func appendOps(ops, more []Op) []Op {
	for _, op := range more {
		if op.Code == OpText {
			ops = appendText(ops, op.Text, op.Offset)
			continue
		}
		ops = append(ops, op)
	}

	return ops
}
