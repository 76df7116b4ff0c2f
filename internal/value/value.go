// Package value classifies arbitrary Go data into the small set of shapes a
// template can observe (null, bool, number, string, sequence, mapping,
// scalar) and implements the lookup, truthiness, iteration and
// stringification rules over them.
//
// Everything here is total: no input panics, and a lookup that cannot be
// satisfied reports found == false instead of failing.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind is the shape of a value as seen by templates.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Sequence
	Mapping
	// Scalar is any other value; it stringifies via fmt.Stringer when
	// available and is otherwise opaque.
	Scalar
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "scalar"
	}
}

// Item is one element produced by Iterate.
type Item struct {
	// Key is the int index for sequences and the string key for mappings.
	Key   any
	Value any
}

// indirect strips pointers and interfaces. A nil pointer is reported as
// invalid.
func indirect(v any) reflect.Value {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}

	return rv
}

// Classify returns the Kind of v.
func Classify(v any) Kind {
	switch v.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case string, []byte:
		return String
	case json.Number:
		return Number
	case map[string]any:
		return Mapping
	case []any:
		return Sequence
	}

	rv := indirect(v)
	if !rv.IsValid() {
		return Null
	}
	switch rv.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.String:
		return String
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return String
		}
		if rv.IsNil() {
			return Null
		}
		return Sequence
	case reflect.Array:
		return Sequence
	case reflect.Map:
		if rv.IsNil() {
			return Null
		}
		return Mapping
	case reflect.Struct:
		return Mapping
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return Null
		}
	}

	return Scalar
}

// Get returns the child of v named by segment. Mappings are indexed by key
// (structs by field name or json tag), sequences by decimal index.
func Get(v any, segment string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		child, ok := m[segment]
		return child, ok
	case []any:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(m) {
			return nil, false
		}
		return m[i], true
	}

	rv := indirect(v)
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		child := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !child.IsValid() {
			return nil, false
		}
		return child.Interface(), true

	case reflect.Struct:
		if f, ok := field(rv, segment); ok {
			return f.Interface(), true
		}
		return nil, false

	case reflect.Slice, reflect.Array:
		if Classify(v) != Sequence {
			return nil, false
		}
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}

	return nil, false
}

// Lookup walks segments from v. An empty path returns v itself.
func Lookup(v any, segments []string) (any, bool) {
	for _, seg := range segments {
		var ok bool
		if v, ok = Get(v, seg); !ok {
			return nil, false
		}
	}

	return v, true
}

func field(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if fieldName(sf) == name || sf.Name == name {
			return rv.Field(i), true
		}
	}

	return reflect.Value{}, false
}

func fieldName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}

	return sf.Name
}

// Len returns the number of elements of a sequence or mapping, or the byte
// length of a string. Other kinds report 0.
func Len(v any) int {
	switch Classify(v) {
	case String:
		return len(ToString(v))
	case Sequence, Mapping:
		rv := indirect(v)
		if rv.Kind() == reflect.Struct {
			return len(structItems(rv))
		}
		return rv.Len()
	}

	return 0
}

// Truthy reports whether v selects the consequent of a conditional. Null,
// false, numeric zero, the empty string and the empty sequence are falsy;
// everything else, including an empty mapping, is truthy.
func Truthy(v any) bool {
	switch Classify(v) {
	case Null:
		return false
	case Bool:
		return indirect(v).Bool()
	case Number:
		f, ok := Float(v)
		return ok && f != 0
	case String:
		return ToString(v) != ""
	case Sequence:
		return indirect(v).Len() > 0
	}

	return true
}

// Float converts a number to float64.
func Float(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := indirect(v)
	if !rv.IsValid() {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}

	return 0, false
}

// Iterate returns the elements of a sequence in order, or the entries of a
// mapping in sorted key order (structs in field order). Any other value has
// no elements.
func Iterate(v any) []Item {
	switch Classify(v) {
	case Sequence:
		rv := indirect(v)
		items := make([]Item, rv.Len())
		for i := range items {
			items[i] = Item{Key: i, Value: rv.Index(i).Interface()}
		}
		return items

	case Mapping:
		rv := indirect(v)
		if rv.Kind() == reflect.Struct {
			return structItems(rv)
		}
		keys := rv.MapKeys()
		items := make([]Item, len(keys))
		for i, k := range keys {
			items[i] = Item{Key: ToString(k.Interface()), Value: rv.MapIndex(k).Interface()}
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].Key.(string) < items[j].Key.(string)
		})
		return items
	}

	return nil
}

func structItems(rv reflect.Value) []Item {
	t := rv.Type()
	items := make([]Item, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if tag := sf.Tag.Get("json"); tag == "-" {
			continue
		}
		items = append(items, Item{Key: fieldName(sf), Value: rv.Field(i).Interface()})
	}

	return items
}

// ToString renders v for output: null as "", booleans as true/false,
// integers in decimal, floats in their shortest form, sequences joined
// with ",", and mappings as "".
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return ""
		}
		return t.String()
	case error:
		return t.Error()
	}

	rv := indirect(v)
	if !rv.IsValid() {
		return ""
	}
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
	}

	switch Classify(v) {
	case Sequence:
		items := Iterate(v)
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = ToString(it.Value)
		}
		return strings.Join(parts, ",")
	case Mapping:
		return ""
	}

	return fmt.Sprint(v)
}

// formatFloat prints f the way JavaScript numbers print: shortest digits,
// plain notation between 1e-6 and 1e21, exponent form outside it.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	if abs := math.Abs(f); abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(f, 'e', -1, bits)
		s = strings.Replace(s, "e-0", "e-", 1)
		return strings.Replace(s, "e+0", "e+", 1)
	}

	return strconv.FormatFloat(f, 'f', -1, bits)
}
