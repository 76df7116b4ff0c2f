package codegen

import (
	"github.com/conneroisu/quill/internal/syntax"
	"github.com/conneroisu/quill/internal/value"
)

// Scope is one frame of the variable resolution chain. The root frame holds
// the render context; every iteration pushes a frame for the current
// element. Frames are immutable, so a chain can be shared freely.
type Scope struct {
	parent *Scope
	value  any
	iter   *iteration
}

type iteration struct {
	key        any
	index      int
	length     int
	alias      string
	indexAlias string
}

// NewScope returns a root scope over data.
func NewScope(data any) *Scope {
	return &Scope{value: data}
}

// Push returns a child scope for one element of an iteration.
func (s *Scope) Push(item value.Item, index, length int, alias, indexAlias string) *Scope {
	return &Scope{
		parent: s,
		value:  item.Value,
		iter: &iteration{
			key:        item.Key,
			index:      index,
			length:     length,
			alias:      alias,
			indexAlias: indexAlias,
		},
	}
}

// Value returns the frame's own value: the context for a root scope, the
// element for an iteration scope.
func (s *Scope) Value() any { return s.value }

// Root returns the outermost frame of the chain.
func (s *Scope) Root() *Scope {
	for s.parent != nil {
		s = s.parent
	}

	return s
}

// Resolve looks up p. Relative paths search the chain innermost first and
// return the first frame in which the whole path exists. "./" reads only the
// innermost frame, each "../" moves one frame out, and "@root" reads the
// root frame. Keywords read the nearest iteration frame.
func (s *Scope) Resolve(p *Path) (any, bool) {
	if p.Root {
		return value.Lookup(s.Root().value, p.Segments)
	}

	target := s
	for i := 0; i < p.Up; i++ {
		if target.parent == nil {
			return nil, false
		}
		target = target.parent
	}

	if p.Keyword != "" {
		return target.keyword(p.Keyword, p.Segments)
	}
	if !p.relative() {
		v, ok, _ := target.lookup(p.Segments)
		return v, ok
	}

	for f := s; f != nil; f = f.parent {
		if v, ok, bound := f.lookup(p.Segments); ok || bound {
			return v, ok
		}
	}

	return nil, false
}

// lookup resolves segments against this frame. bound reports that the first
// segment named a loop alias, which shadows every outer frame even when the
// rest of the path is missing.
func (s *Scope) lookup(segments []string) (v any, ok, bound bool) {
	if len(segments) == 0 {
		return s.value, true, false
	}
	if it := s.iter; it != nil {
		switch {
		case it.alias != "" && segments[0] == it.alias:
			v, ok = value.Lookup(s.value, segments[1:])
			return v, ok, true
		case it.indexAlias != "" && segments[0] == it.indexAlias:
			v, ok = value.Lookup(it.key, segments[1:])
			return v, ok, true
		}
	}

	v, ok = value.Lookup(s.value, segments)
	return v, ok, false
}

func (s *Scope) keyword(kw string, segments []string) (any, bool) {
	f := s
	for f != nil && f.iter == nil {
		f = f.parent
	}
	if f == nil {
		if kw == syntax.KeywordValue {
			return value.Lookup(s.value, segments)
		}
		return nil, false
	}

	var base any
	switch kw {
	case syntax.KeywordValue:
		base = f.value
	case syntax.KeywordKey:
		base = f.iter.key
	case syntax.KeywordIndex:
		base = f.iter.index
	case syntax.KeywordFirst:
		base = f.iter.index == 0
	case syntax.KeywordLast:
		base = f.iter.index == f.iter.length-1
	case syntax.KeywordLength:
		base = f.iter.length
	default:
		return nil, false
	}

	return value.Lookup(base, segments)
}
