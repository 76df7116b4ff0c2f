package helpers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/conneroisu/quill/internal/value"
)

var ugcPolicy = sync.OnceValue(bluemonday.UGCPolicy)

// Builtins returns a registry holding the builtin helper set, with casing
// and number formatting bound to tag.
func Builtins(tag language.Tag) *Registry {
	r := NewRegistry()

	r.MustRegister("upper", caser(func() cases.Caser { return cases.Upper(tag) }), WithArity(1, 1))
	r.MustRegister("lower", caser(func() cases.Caser { return cases.Lower(tag) }), WithArity(1, 1))
	r.MustRegister("title", caser(func() cases.Caser { return cases.Title(tag) }), WithArity(1, 1))
	r.MustRegister("formatNumber", formatNumber(tag), WithArity(1, 2))
	r.MustRegister("escape", escape, WithArity(1, 1))
	r.MustRegister("stripTags", stripTags, WithArity(1, 1))
	r.MustRegister("sanitize", sanitize, WithArity(1, 1))
	r.MustRegister("join", join, WithArity(1, 2))
	r.MustRegister("default", defaultValue, WithArity(1, -1))
	r.MustRegister("eq", equal, WithArity(2, 2))
	r.MustRegister("ne", notEqual, WithArity(2, 2))
	r.MustRegister("truncate", truncate, WithArity(2, 3))
	r.MustRegister("length", length, WithArity(1, 1))

	return r
}

// caser builds a casing helper. Casers are stateful, so each call gets a
// fresh one.
func caser(newCaser func() cases.Caser) Func {
	return func(args ...any) (any, error) {
		c := newCaser()
		return c.String(value.ToString(args[0])), nil
	}
}

// maxDecimals bounds the fraction digits formatNumber will print.
const maxDecimals = 20

func formatNumber(tag language.Tag) Func {
	return func(args ...any) (any, error) {
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("formatNumber: %q is not a number", value.ToString(args[0]))
		}

		decimals := 0
		if f != math.Trunc(f) {
			decimals = 2
		}
		if len(args) > 1 {
			d, ok := toNumber(args[1])
			if !ok || d < 0 || d > maxDecimals {
				return nil, fmt.Errorf("formatNumber: invalid decimals %q", value.ToString(args[1]))
			}
			decimals = int(d)
		}

		p := message.NewPrinter(tag)
		return p.Sprintf("%v", number.Decimal(f,
			number.MinFractionDigits(decimals), number.MaxFractionDigits(decimals))), nil
	}
}

// toNumber accepts finite numeric values and numeric strings.
func toNumber(v any) (float64, bool) {
	f, ok := value.Float(v)
	if !ok && value.Classify(v) == value.String {
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(value.ToString(v)), 64)
		ok = err == nil
	}
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

func escape(args ...any) (any, error) {
	return html.EscapeString(value.ToString(args[0])), nil
}

// stripTags returns the text content of an HTML fragment.
func stripTags(args ...any) (any, error) {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(value.ToString(args[0])))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String(), nil
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

func sanitize(args ...any) (any, error) {
	return ugcPolicy().Sanitize(value.ToString(args[0])), nil
}

func join(args ...any) (any, error) {
	sep := ","
	if len(args) > 1 {
		sep = value.ToString(args[1])
	}
	items := value.Iterate(args[0])
	if items == nil {
		return value.ToString(args[0]), nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = value.ToString(it.Value)
	}

	return strings.Join(parts, sep), nil
}

// defaultValue returns the first truthy argument, or the last one.
func defaultValue(args ...any) (any, error) {
	for _, a := range args {
		if value.Truthy(a) {
			return a, nil
		}
	}

	return args[len(args)-1], nil
}

func equal(args ...any) (any, error) {
	return value.ToString(args[0]) == value.ToString(args[1]), nil
}

func notEqual(args ...any) (any, error) {
	return value.ToString(args[0]) != value.ToString(args[1]), nil
}

func truncate(args ...any) (any, error) {
	s := value.ToString(args[0])
	n, ok := toNumber(args[1])
	if !ok || n < 0 {
		return nil, fmt.Errorf("truncate: invalid length %q", value.ToString(args[1]))
	}
	suffix := "…"
	if len(args) > 2 {
		suffix = value.ToString(args[2])
	}

	if n >= float64(utf8.RuneCountInString(s)) {
		return s, nil
	}
	runes := []rune(s)

	return string(runes[:int(n)]) + suffix, nil
}

func length(args ...any) (any, error) {
	if value.Classify(args[0]) == value.String {
		return utf8.RuneCountInString(value.ToString(args[0])), nil
	}

	return value.Len(args[0]), nil
}
