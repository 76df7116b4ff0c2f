package value

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type label string

type point struct {
	X      int `json:"x"`
	Y      int
	Hidden string `json:"-"`
	inner  int
}

func TestClassify(t *testing.T) {
	var nilMap map[string]int
	var nilPtr *point
	var nilSlice []int

	tests := []struct {
		name string
		v    any
		want Kind
	}{
		{"nil", nil, Null},
		{"nil pointer", nilPtr, Null},
		{"nil map", nilMap, Null},
		{"nil slice", nilSlice, Null},
		{"bool", true, Bool},
		{"int", 3, Number},
		{"uint8", uint8(3), Number},
		{"float", 1.5, Number},
		{"json number", json.Number("12"), Number},
		{"string", "x", String},
		{"named string", label("x"), String},
		{"bytes", []byte("x"), String},
		{"sequence", []any{1}, Sequence},
		{"typed slice", []string{"a"}, Sequence},
		{"array", [2]int{1, 2}, Sequence},
		{"mapping", map[string]any{}, Mapping},
		{"typed map", map[string]int{"a": 1}, Mapping},
		{"struct", point{}, Mapping},
		{"struct pointer", &point{}, Mapping},
		{"func", func() {}, Scalar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.v))
		})
	}
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"point": &point{X: 1, Y: 2, Hidden: "h", inner: 3},
		"list":  []string{"a", "b"},
		"typed": map[label]int{"k": 7},
		"int":   map[int]string{1: "one"},
	}

	tests := []struct {
		path  []string
		want  any
		found bool
	}{
		{nil, data, true},
		{[]string{"point", "x"}, 1, true},
		{[]string{"point", "X"}, 1, true},
		{[]string{"point", "Y"}, 2, true},
		{[]string{"point", "inner"}, nil, false},
		{[]string{"list", "1"}, "b", true},
		{[]string{"list", "2"}, nil, false},
		{[]string{"list", "-1"}, nil, false},
		{[]string{"typed", "k"}, 7, true},
		{[]string{"int", "1"}, nil, false},
		{[]string{"missing", "deeper"}, nil, false},
		{[]string{"list", "0", "x"}, nil, false},
	}

	for _, tt := range tests {
		got, found := Lookup(data, tt.path)
		assert.Equal(t, tt.found, found, "%v", tt.path)
		if tt.found && len(tt.path) > 0 {
			assert.Equal(t, tt.want, got, "%v", tt.path)
		}
	}
}

func TestIterate(t *testing.T) {
	items := Iterate(map[string]int{"b": 2, "a": 1})
	require.Len(t, items, 2)
	assert.Equal(t, Item{Key: "a", Value: 1}, items[0])
	assert.Equal(t, Item{Key: "b", Value: 2}, items[1])

	items = Iterate([]string{"x", "y"})
	assert.Equal(t, []Item{{Key: 0, Value: "x"}, {Key: 1, Value: "y"}}, items)

	items = Iterate(point{X: 1, Y: 2})
	assert.Equal(t, []Item{{Key: "x", Value: 1}, {Key: "Y", Value: 2}}, items)

	assert.Nil(t, Iterate("abc"))
	assert.Nil(t, Iterate(42))
	assert.Nil(t, Iterate(nil))
}

func TestTruthyAndLen(t *testing.T) {
	assert.False(t, Truthy(json.Number("0")))
	assert.True(t, Truthy(json.Number("0.5")))
	assert.False(t, Truthy([0]int{}))
	assert.True(t, Truthy(point{}))
	assert.False(t, Truthy((*point)(nil)))

	assert.Equal(t, 2, Len(point{}))
	assert.Equal(t, 3, Len("abc"))
	assert.Equal(t, 2, Len(map[string]int{"a": 1, "b": 2}))
	assert.Equal(t, 0, Len(12))
}

func TestToString(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "x", ToString(label("x")))
	assert.Equal(t, "bytes", ToString([]byte("bytes")))
	assert.Equal(t, "18446744073709551615", ToString(uint64(18446744073709551615)))
	assert.Equal(t, "0.1", ToString(float32(0.1)))
	assert.Equal(t, "1e-07", ToString(json.Number("1e-07")))
	assert.Equal(t, "1e-7", ToString(1e-7))
	assert.Equal(t, "0.000001", ToString(1e-6))
	assert.Equal(t, "123456789012345680000", ToString(1.2345678901234568e20))
	assert.Equal(t, "1e+21", ToString(1e21))
	assert.Equal(t, "-1.5e+300", ToString(-1.5e300))
	assert.Equal(t, "NaN", ToString(math.NaN()))
	assert.Equal(t, "-Infinity", ToString(math.Inf(-1)))
	assert.Equal(t, ts.String(), ToString(ts))
	assert.Equal(t, "a,1,", ToString([]any{"a", 1, nil}))
	assert.Equal(t, "", ToString(point{}))
}
