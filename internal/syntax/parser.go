package syntax

import (
	"fmt"
	"strings"

	qerrors "github.com/conneroisu/quill/internal/errors"
)

// Parse folds a token stream into a syntax tree. Every block must be closed
// by a matching end marker; partial references are recorded but not
// resolved.
func Parse(tokens []Token) (*Root, error) {
	p := &parser{tokens: tokens}
	nodes, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}

	return &Root{Nodes: nodes}, nil
}

// ParseString scans and parses src.
func ParseString(src string) (*Root, error) {
	tokens, err := Scan(src)
	if err != nil {
		return nil, err
	}

	return Parse(tokens)
}

type frameKind int

const (
	frameConditional frameKind = iota
	frameIteration
)

func (k frameKind) String() string {
	if k == frameIteration {
		return "each"
	}
	return "if"
}

// frame is one open block.
type frame struct {
	kind    frameKind
	subject string
	offset  int
	parent  *frame
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) eof() bool { return p.pos >= len(p.tokens) }

func (p *parser) next() Token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// parseNodes parses a body until a token that ends it. Inside a block the
// terminating else/else-if/end token is left unconsumed for the caller.
func (p *parser) parseNodes(f *frame) ([]Node, error) {
	var nodes []Node
	for !p.eof() {
		tok := p.tokens[p.pos]

		switch tok.Kind {
		case TokenElse, TokenElseIf:
			if f == nil {
				return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedElse, tok.Offset,
					"else outside of a block")
			}
			return nodes, nil

		case TokenEnd:
			if f == nil {
				return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedClose, tok.Offset,
					"end without an open block")
			}
			return nodes, nil

		case TokenDirective:
			return nil, qerrors.NewParseError(qerrors.ErrCodeUnknownDirective, tok.Offset,
				fmt.Sprintf("unknown directive %q", tok.Value))
		}

		p.pos++
		n, err := p.parseToken(tok, f)
		if err != nil {
			return nil, err
		}
		if t, ok := n.(*Text); ok && len(nodes) > 0 {
			if prev, ok := nodes[len(nodes)-1].(*Text); ok {
				prev.Value += t.Value
				continue
			}
		}
		nodes = append(nodes, n)
	}

	if f != nil {
		return nil, qerrors.NewParseError(qerrors.ErrCodeUnclosedBlock, f.offset,
			fmt.Sprintf("%s block is never closed", f.kind))
	}

	return nodes, nil
}

func (p *parser) parseToken(tok Token, f *frame) (Node, error) {
	switch tok.Kind {
	case TokenText:
		return &Text{Value: tok.Value, Offset: tok.Offset}, nil
	case TokenInterp, TokenHelper:
		return interpolation(tok)
	case TokenIf:
		return p.parseConditional(tok, f)
	case TokenEach:
		return p.parseIteration(tok, f)
	case TokenImport:
		return parseImport(tok)
	}

	return nil, qerrors.NewParseError(qerrors.ErrCodeUnknownDirective, tok.Offset,
		fmt.Sprintf("unexpected %s token", tok.Kind))
}

func interpolation(tok Token) (Node, error) {
	e, ok := ParseExpression(tok.Value)
	if !ok {
		return nil, qerrors.NewParseError(qerrors.ErrCodeInvalidSubject, tok.Offset,
			fmt.Sprintf("invalid expression %q", tok.Value))
	}

	switch e := e.(type) {
	case *PathExpr:
		return &Variable{Path: e, Raw: tok.Raw, Offset: tok.Offset}, nil
	case *HelperExpr:
		return &HelperCall{Name: e.Name, Args: e.Args, Legacy: e.Legacy, Raw: tok.Raw, Offset: tok.Offset}, nil
	default:
		return &Expression{Expr: e, Raw: tok.Raw, Offset: tok.Offset}, nil
	}
}

func condition(tok Token) (Expr, error) {
	if tok.Value == "" {
		return nil, qerrors.NewParseError(qerrors.ErrCodeInvalidSubject, tok.Offset,
			"condition is missing")
	}
	e, ok := ParseExpression(tok.Value)
	if !ok {
		return nil, qerrors.NewParseError(qerrors.ErrCodeInvalidSubject, tok.Offset,
			fmt.Sprintf("invalid condition %q", tok.Value))
	}
	// Comment-style conditions pass the root context to legacy helpers.
	if h, isHelper := e.(*HelperExpr); isHelper && h.Legacy && tok.Legacy {
		h.Args = append([]Expr{&PathExpr{Root: true}}, h.Args...)
	}

	return e, nil
}

func (p *parser) parseConditional(open Token, parent *frame) (Node, error) {
	cond, err := condition(open)
	if err != nil {
		return nil, err
	}
	f := &frame{kind: frameConditional, subject: open.Value, offset: open.Offset, parent: parent}
	n := &Conditional{Cond: cond, Offset: open.Offset}

	body, err := p.parseNodes(f)
	if err != nil {
		return nil, err
	}
	n.Then = body

	for {
		tok := p.next()
		switch tok.Kind {
		case TokenElseIf:
			if n.HasElse {
				return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedElse, tok.Offset,
					"else if after else")
			}
			c, err := condition(tok)
			if err != nil {
				return nil, err
			}
			branch := &ElseIfBranch{Cond: c, Offset: tok.Offset}
			if branch.Body, err = p.parseNodes(f); err != nil {
				return nil, err
			}
			n.ElseIfs = append(n.ElseIfs, branch)

		case TokenElse:
			if n.HasElse {
				return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedElse, tok.Offset,
					"duplicate else")
			}
			n.HasElse = true
			if n.Else, err = p.parseNodes(f); err != nil {
				return nil, err
			}

		case TokenEnd:
			if err := closes(tok, f); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
}

func (p *parser) parseIteration(open Token, parent *frame) (Node, error) {
	n, err := iterationHeader(open)
	if err != nil {
		return nil, err
	}
	f := &frame{kind: frameIteration, subject: n.Collection.String(), offset: open.Offset, parent: parent}

	if n.Body, err = p.parseNodes(f); err != nil {
		return nil, err
	}

	for {
		tok := p.next()
		switch tok.Kind {
		case TokenElseIf:
			return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedElse, tok.Offset,
				"else if inside each")

		case TokenElse:
			if n.HasEmpty {
				return nil, qerrors.NewParseError(qerrors.ErrCodeUnexpectedElse, tok.Offset,
					"duplicate else")
			}
			n.HasEmpty = true
			if n.Empty, err = p.parseNodes(f); err != nil {
				return nil, err
			}

		case TokenEnd:
			if err := closes(tok, f); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
}

// iterationHeader parses "expr", "expr as item" and "expr as item, index".
func iterationHeader(tok Token) (*Iteration, error) {
	invalid := func() error {
		return qerrors.NewParseError(qerrors.ErrCodeInvalidSubject, tok.Offset,
			fmt.Sprintf("invalid each subject %q", tok.Value))
	}

	source, aliases := tok.Value, ""
	if i := strings.LastIndex(tok.Value, " as "); i >= 0 && !tok.Legacy {
		source, aliases = tok.Value[:i], strings.TrimSpace(tok.Value[i+len(" as "):])
		if aliases == "" {
			return nil, invalid()
		}
	}
	if strings.TrimSpace(source) == "" {
		return nil, invalid()
	}

	coll, ok := ParseExpression(source)
	if !ok {
		return nil, invalid()
	}
	n := &Iteration{Collection: coll, Offset: tok.Offset}

	if aliases != "" {
		item, index, hasIndex := strings.Cut(aliases, ",")
		n.Alias = strings.TrimSpace(item)
		if !validAlias(n.Alias) {
			return nil, invalid()
		}
		if hasIndex {
			n.IndexAlias = strings.TrimSpace(index)
			if !validAlias(n.IndexAlias) || n.IndexAlias == n.Alias {
				return nil, invalid()
			}
		}
	}

	return n, nil
}

func validAlias(name string) bool {
	if name == "" || name[0] == '@' || keywords[name] {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i]) || name[i] == '@' {
			return false
		}
	}

	return true
}

// closes checks that an end token matches the frame it pops.
func closes(tok Token, f *frame) error {
	if tok.Legacy && tok.Name == "endif" && f.kind != frameConditional {
		return qerrors.NewParseError(qerrors.ErrCodeMismatchedBlock, tok.Offset,
			fmt.Sprintf("ENDIF closes an %s block opened at offset %d", f.kind, f.offset))
	}
	if tok.Value != "" && normalizeSubject(tok.Value) != normalizeSubject(f.subject) {
		return qerrors.NewParseError(qerrors.ErrCodeMismatchedBlock, tok.Offset,
			fmt.Sprintf("end %q does not match %s %q opened at offset %d",
				tok.Value, f.kind, f.subject, f.offset))
	}

	return nil
}

func normalizeSubject(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseImport(tok Token) (Node, error) {
	invalid := func() error {
		return qerrors.NewParseError(qerrors.ErrCodeInvalidSubject, tok.Offset,
			fmt.Sprintf("invalid import %q", tok.Value))
	}

	rest := tok.Value
	var name string
	if strings.HasPrefix(rest, `"`) {
		e, end, ok := scanExpression(rest, 0)
		lit, isLit := e.(*LiteralExpr)
		if !ok || !isLit || lit.Value == "" {
			return nil, invalid()
		}
		name, rest = lit.Value, rest[end:]
	} else {
		end := strings.IndexFunc(rest, func(r rune) bool { return r < 0x80 && isSpace(byte(r)) })
		if end < 0 {
			end = len(rest)
		}
		name, rest = rest[:end], rest[end:]
	}
	if name == "" {
		return nil, invalid()
	}

	n := &Partial{Name: name, Offset: tok.Offset}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return n, nil
	}

	kw, target := splitKeyword(rest)
	if kw != "with" || target == "" {
		return nil, invalid()
	}
	e, ok := ParseExpression(target)
	path, isPath := e.(*PathExpr)
	if !ok || !isPath {
		return nil, invalid()
	}
	n.With = path

	return n, nil
}
