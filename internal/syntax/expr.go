package syntax

import (
	"strings"
)

// Expr is a template expression: a path, a string literal, a helper call or
// a negation.
type Expr interface {
	String() string
	expr()
}

// Iteration keywords usable as the first path segment.
const (
	KeywordRoot   = "@root"
	KeywordValue  = "@value"
	KeywordKey    = "@key"
	KeywordIndex  = "@index"
	KeywordFirst  = "@first"
	KeywordLast   = "@last"
	KeywordLength = "@length"
)

var keywords = map[string]bool{
	KeywordRoot:   true,
	KeywordValue:  true,
	KeywordKey:    true,
	KeywordIndex:  true,
	KeywordFirst:  true,
	KeywordLast:   true,
	KeywordLength: true,
}

// PathExpr is a variable lookup. Segments never include the anchor.
type PathExpr struct {
	Segments []string
	// Root anchors the path at the template's root context (@root).
	Root bool
	// Current anchors the path at the innermost scope (./).
	Current bool
	// Up anchors the path at the Up-th enclosing scope (../).
	Up int
	// Keyword is an iteration keyword such as @index, or empty.
	Keyword string
}

// Relative reports whether the path is resolved by searching the scope
// chain. Anchored and keyword paths are absolute.
func (p *PathExpr) Relative() bool {
	return !p.Root && !p.Current && p.Up == 0 && p.Keyword == ""
}

func (p *PathExpr) String() string {
	var b strings.Builder
	if p.Current {
		b.WriteString("./")
	}
	for i := 0; i < p.Up; i++ {
		b.WriteString("../")
	}
	parts := p.Segments
	if p.Root {
		parts = append([]string{KeywordRoot}, parts...)
	} else if p.Keyword != "" {
		parts = append([]string{p.Keyword}, parts...)
	}
	b.WriteString(strings.Join(parts, "."))

	return b.String()
}

func (*PathExpr) expr() {}

// LiteralExpr is a double-quoted string literal, stored unescaped.
type LiteralExpr struct {
	Value string
}

func (l *LiteralExpr) String() string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(l.Value) + `"`
}

func (*LiteralExpr) expr() {}

// HelperExpr calls a named helper with ordered arguments.
type HelperExpr struct {
	Name string
	Args []Expr
	// Legacy marks the "function.name, a, b" form.
	Legacy bool
}

func (h *HelperExpr) String() string {
	args := make([]string, len(h.Args))
	for i, a := range h.Args {
		args[i] = a.String()
	}
	if h.Legacy {
		return strings.Join(append([]string{"function." + h.Name}, args...), ", ")
	}

	return h.Name + "(" + strings.Join(args, ", ") + ")"
}

func (*HelperExpr) expr() {}

// NotExpr negates the truthiness of its operand.
type NotExpr struct {
	Expr Expr
}

func (n *NotExpr) String() string { return "!" + n.Expr.String() }

func (*NotExpr) expr() {}

// ParseExpression parses src as a single expression. Surrounding
// whitespace is ignored; anything else left over is an error.
func ParseExpression(src string) (Expr, bool) {
	p := &exprParser{src: src}
	p.ws()
	e, ok := p.expr()
	if !ok {
		return nil, false
	}
	p.ws()
	if p.pos != len(p.src) {
		return nil, false
	}

	return e, true
}

// scanExpression parses the longest expression starting at start and
// returns the offset just past it.
func scanExpression(src string, start int) (Expr, int, bool) {
	p := &exprParser{src: src, pos: start}
	e, ok := p.expr()
	if !ok {
		return nil, start, false
	}

	return e, p.pos, true
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) rest() string { return p.src[p.pos:] }

func (p *exprParser) eof() bool { return p.pos >= len(p.src) }

func (p *exprParser) peek(c byte) bool { return !p.eof() && p.src[p.pos] == c }

func (p *exprParser) ws() {
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

// expr tries the alternatives in a fixed order: negation, legacy helper,
// helper, string literal, path.
func (p *exprParser) expr() (Expr, bool) {
	start := p.pos

	if p.peek('!') {
		p.pos++
		p.ws()
		inner, ok := p.expr()
		if !ok {
			p.pos = start
			return nil, false
		}
		return &NotExpr{Expr: inner}, true
	}

	if strings.HasPrefix(p.rest(), "function.") {
		if e, ok := p.legacyHelper(); ok {
			return e, true
		}
		p.pos = start
	}

	if e, ok := p.helper(); ok {
		return e, true
	}
	p.pos = start

	if p.peek('"') {
		return p.stringLiteral()
	}

	return p.path()
}

func (p *exprParser) legacyHelper() (Expr, bool) {
	p.pos += len("function.")
	name, ok := p.ident()
	if !ok {
		return nil, false
	}
	h := &HelperExpr{Name: name, Legacy: true}

	for {
		save := p.pos
		p.ws()
		if !p.peek(',') {
			p.pos = save
			break
		}
		p.pos++
		p.ws()
		arg, ok := p.expr()
		if !ok {
			p.pos = save
			break
		}
		h.Args = append(h.Args, arg)
	}

	if len(h.Args) == 0 {
		// Without arguments a legacy helper receives the current value.
		h.Args = []Expr{&PathExpr{Keyword: KeywordValue}}
	}

	return h, true
}

func (p *exprParser) helper() (Expr, bool) {
	name, ok := p.ident()
	if !ok || !p.peek('(') {
		return nil, false
	}
	p.pos++
	h := &HelperExpr{Name: name}

	p.ws()
	if p.peek(')') {
		p.pos++
		return h, true
	}

	for {
		p.ws()
		arg, ok := p.expr()
		if !ok {
			return nil, false
		}
		h.Args = append(h.Args, arg)
		p.ws()
		switch {
		case p.peek(','):
			p.pos++
		case p.peek(')'):
			p.pos++
			return h, true
		default:
			return nil, false
		}
	}
}

func (p *exprParser) stringLiteral() (Expr, bool) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				p.pos = start
				return nil, false
			}
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case '"':
			p.pos++
			return &LiteralExpr{Value: b.String()}, true
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.pos = start

	return nil, false
}

func (p *exprParser) path() (Expr, bool) {
	start := p.pos
	path := &PathExpr{}

	for {
		switch {
		case strings.HasPrefix(p.rest(), "./"):
			path.Current = true
			p.pos += 2
			continue
		case strings.HasPrefix(p.rest(), "../"):
			path.Up++
			p.pos += 3
			continue
		}
		break
	}

	for {
		seg, ok := p.ident()
		if !ok {
			p.pos = start
			return nil, false
		}
		path.Segments = append(path.Segments, seg)
		if !p.peek('.') || p.pos+1 >= len(p.src) || !isIdentByte(p.src[p.pos+1]) {
			break
		}
		p.pos++
	}

	if first := path.Segments[0]; keywords[first] {
		if len(path.Segments) == 1 {
			path.Segments = nil
		} else {
			path.Segments = path.Segments[1:]
		}
		if first == KeywordRoot {
			path.Root = true
		} else {
			path.Keyword = first
		}
	}
	if path.Root && (path.Current || path.Up > 0) {
		p.pos = start
		return nil, false
	}

	return path, true
}

func (p *exprParser) ident() (string, bool) {
	start := p.pos
	for !p.eof() && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	// "-->" closes a comment-style marker and is not part of a name.
	if p.pos-start >= 2 && strings.HasSuffix(p.src[start:p.pos], "--") && p.peek('>') {
		p.pos -= 2
	}
	if p.pos == start {
		return "", false
	}

	return p.src[start:p.pos], true
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == ':' || c == '@'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
