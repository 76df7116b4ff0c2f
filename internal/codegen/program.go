package codegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/value"
)

// MaxIncludeDepth bounds nested partial inclusion during one render.
const MaxIncludeDepth = 64

// PartialSource resolves partial templates during execution. Lookups must
// not block; callers resolve partials before executing.
type PartialSource interface {
	Partial(name string) (*Program, bool)
}

// PartialMap is a PartialSource over a fixed set of programs.
type PartialMap map[string]*Program

// Partial implements PartialSource.
func (m PartialMap) Partial(name string) (*Program, bool) {
	p, ok := m[name]
	return p, ok && p != nil
}

// Program is a linked, executable template. It is immutable and safe for
// concurrent use.
type Program struct {
	ops []Op
	run step
}

type state struct {
	out      *strings.Builder
	helpers  helpers.Lookup
	partials PartialSource
	depth    int
}

type step func(st *state, s *Scope) error

type evaluator func(st *state, s *Scope) (any, error)

// Link turns a lowered instruction list into a Program.
func Link(ops []Op) (*Program, error) {
	run, err := linkOps(ops)
	if err != nil {
		return nil, err
	}

	return &Program{ops: ops, run: run}, nil
}

// Ops returns the lowered instruction list.
func (p *Program) Ops() []Op { return p.ops }

// Partials returns the names of the partials the program can include, in
// order of first appearance.
func (p *Program) Partials() []string {
	var names []string
	seen := make(map[string]bool)
	var walk func([]Op)
	walk = func(ops []Op) {
		for _, op := range ops {
			if op.Code == OpPartial && !seen[op.Name] {
				seen[op.Name] = true
				names = append(names, op.Name)
			}
			for _, br := range op.Branches {
				walk(br.Body)
			}
			walk(op.Body)
			walk(op.Else)
		}
	}
	walk(p.ops)

	return names
}

// Execute renders the program against data. Helper calls resolve against
// hs and partial inclusions against ps; either may be nil.
func (p *Program) Execute(data any, hs helpers.Lookup, ps PartialSource) (string, error) {
	st := &state{out: &strings.Builder{}, helpers: hs, partials: ps}
	if err := p.run(st, NewScope(data)); err != nil {
		return "", err
	}

	return st.out.String(), nil
}

// MarshalJSON encodes the lowered instruction list.
func (p *Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ops)
}

// UnmarshalJSON decodes and links an instruction list.
func (p *Program) UnmarshalJSON(data []byte) error {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	linked, err := Link(ops)
	if err != nil {
		return err
	}
	*p = *linked

	return nil
}

func invalidOp(format string, args ...any) error {
	return qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid, fmt.Sprintf(format, args...), nil)
}

func linkOps(ops []Op) (step, error) {
	steps := make([]step, 0, len(ops))
	for i := range ops {
		s, err := linkOp(&ops[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}

	switch len(steps) {
	case 0:
		return func(*state, *Scope) error { return nil }, nil
	case 1:
		return steps[0], nil
	}

	return func(st *state, s *Scope) error {
		for _, fn := range steps {
			if err := fn(st, s); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func linkOp(op *Op) (step, error) {
	switch op.Code {
	case OpText:
		text := op.Text
		return func(st *state, _ *Scope) error {
			st.out.WriteString(text)
			return nil
		}, nil

	case OpOutput:
		eval, err := linkOperand(op.Value, op.Offset)
		if err != nil {
			return nil, err
		}
		raw := op.Raw
		return func(st *state, s *Scope) error {
			v, err := eval(st, s)
			if err != nil {
				return err
			}
			st.out.WriteString(render(v, raw))
			return nil
		}, nil

	case OpIf:
		return linkIf(op)

	case OpEach:
		return linkEach(op)

	case OpPartial:
		return linkPartial(op)
	}

	return nil, invalidOp("unknown op %q at offset %d", op.Code, op.Offset)
}

func linkIf(op *Op) (step, error) {
	if len(op.Branches) == 0 {
		return nil, invalidOp("if at offset %d has no branches", op.Offset)
	}
	conds := make([]evaluator, len(op.Branches))
	bodies := make([]step, len(op.Branches))
	for i, br := range op.Branches {
		var err error
		if conds[i], err = linkOperand(br.Cond, op.Offset); err != nil {
			return nil, err
		}
		if bodies[i], err = linkOps(br.Body); err != nil {
			return nil, err
		}
	}
	otherwise, err := linkOps(op.Else)
	if err != nil {
		return nil, err
	}

	return func(st *state, s *Scope) error {
		for i, cond := range conds {
			v, err := cond(st, s)
			if err != nil {
				return err
			}
			if value.Truthy(v) {
				return bodies[i](st, s)
			}
		}
		return otherwise(st, s)
	}, nil
}

func linkEach(op *Op) (step, error) {
	collection, err := linkOperand(op.Value, op.Offset)
	if err != nil {
		return nil, err
	}
	body, err := linkOps(op.Body)
	if err != nil {
		return nil, err
	}
	empty, err := linkOps(op.Else)
	if err != nil {
		return nil, err
	}
	alias, indexAlias := op.Alias, op.IndexAlias

	return func(st *state, s *Scope) error {
		v, err := collection(st, s)
		if err != nil {
			return err
		}
		items := value.Iterate(v)
		if len(items) == 0 {
			return empty(st, s)
		}
		for i, item := range items {
			if err := body(st, s.Push(item, i, len(items), alias, indexAlias)); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func linkPartial(op *Op) (step, error) {
	if op.Name == "" {
		return nil, invalidOp("partial at offset %d has no name", op.Offset)
	}
	name, with, offset := op.Name, op.With, op.Offset

	return func(st *state, s *Scope) error {
		var prog *Program
		ok := false
		if st.partials != nil {
			prog, ok = st.partials.Partial(name)
		}
		if !ok {
			err := qerrors.NewPartialNotFoundError(name)
			err.Offset = offset
			return err
		}
		if st.depth >= MaxIncludeDepth {
			err := qerrors.NewRenderError(qerrors.ErrCodeIncludeDepth,
				fmt.Sprintf("partial %q exceeds the include depth of %d", name, MaxIncludeDepth), nil)
			err.Offset = offset
			return err
		}

		scope := s
		if with != nil {
			v, _ := s.Resolve(with)
			scope = NewScope(v)
		}

		st.depth++
		err := prog.run(st, scope)
		st.depth--
		var qe *qerrors.QuillError
		if errors.As(err, &qe) {
			return qe.WithTemplate(name)
		}
		return err
	}, nil
}

func linkOperand(o *Operand, offset int) (evaluator, error) {
	if o == nil {
		return nil, invalidOp("missing operand at offset %d", offset)
	}

	switch o.Kind {
	case OperandPath:
		if o.Path == nil {
			return nil, invalidOp("path operand at offset %d has no path", offset)
		}
		p := o.Path
		return func(_ *state, s *Scope) (any, error) {
			v, _ := s.Resolve(p)
			return v, nil
		}, nil

	case OperandLiteral:
		lit := o.Literal
		return func(*state, *Scope) (any, error) { return lit, nil }, nil

	case OperandNot:
		inner, err := linkOperand(o.Operand, offset)
		if err != nil {
			return nil, err
		}
		return func(st *state, s *Scope) (any, error) {
			v, err := inner(st, s)
			if err != nil {
				return nil, err
			}
			return !value.Truthy(v), nil
		}, nil

	case OperandHelper:
		return linkHelper(o, offset)
	}

	return nil, invalidOp("unknown operand %q at offset %d", o.Kind, offset)
}

func linkHelper(o *Operand, offset int) (evaluator, error) {
	if o.Helper == "" {
		return nil, invalidOp("helper operand at offset %d has no name", offset)
	}
	args := make([]evaluator, len(o.Args))
	for i, a := range o.Args {
		var err error
		if args[i], err = linkOperand(a, offset); err != nil {
			return nil, err
		}
	}
	name := o.Helper

	return func(st *state, s *Scope) (any, error) {
		var h *helpers.Helper
		ok := false
		if st.helpers != nil {
			h, ok = st.helpers.Lookup(name)
		}
		if !ok {
			err := qerrors.NewHelperNotFoundError(name)
			err.Offset = offset
			return nil, err
		}
		if !h.AcceptsArity(len(args)) {
			err := qerrors.NewRenderError(qerrors.ErrCodeHelperArity,
				fmt.Sprintf("helper %q takes %s arguments, called with %d", name, h.ArityString(), len(args)), nil)
			err.Offset = offset
			return nil, err
		}

		vals := make([]any, len(args))
		for i, arg := range args {
			v, err := arg(st, s)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}

		out, err := h.Call(vals...)
		if err != nil {
			rerr := qerrors.NewRenderError(qerrors.ErrCodeHelperFailed,
				fmt.Sprintf("helper %q failed", name), err)
			rerr.Offset = offset
			return nil, rerr.WithContext("helper", name)
		}
		return out, nil
	}, nil
}
