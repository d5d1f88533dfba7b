package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a": IRInt(1), "A": IRInt(2), "aa": IRInt(3),
		"aA": IRInt(4), "Aa": IRInt(5), "AA": IRInt(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
	assert.Empty(t, IRObject{}.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		sign int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"aa", "a", 1},
		{"", "a", -1},
		{"\U00010000", "", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got := compareKeysRFC8785(tt.a, tt.b)
			switch {
			case tt.sign < 0:
				assert.Less(t, got, 0)
			case tt.sign > 0:
				assert.Greater(t, got, 0)
			default:
				assert.Equal(t, 0, got)
			}
		})
	}
}

func TestUnmarshalIRValueRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"float", `1.5`, "float"},
		{"exponent", `1e3`, "float"},
		{"nested float", `{"a":[1,2.0]}`, "float"},
		{"null", `null`, "null"},
		{"null in object", `{"a":null}`, "null"},
		{"overflow", `99999999999999999999`, "range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalIRValue([]byte(tt.json))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"s":"x","n":-3,"b":true,"a":[1,"y"]}`))
	require.NoError(t, err)

	want := IRObject{
		"s": IRString("x"),
		"n": IRInt(-3),
		"b": IRBool(true),
		"a": IRArray{IRInt(1), IRString("y")},
	}
	assert.Equal(t, want, v)
}

func TestIRObjectJSON(t *testing.T) {
	obj := IRObject{"z": IRInt(1), "a": IRArray{IRString("q")}}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["q"],"z":1}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obj, back)

	require.Error(t, json.Unmarshal([]byte(`[1]`), &back))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, IRArray{IRString("a"), IRString("b")}, Strings([]string{"a", "b"}))
	assert.Equal(t, IRArray{}, Strings(nil))
	assert.Equal(t, IRObject{"x": IRInt(7)}, Ints(map[string]int64{"x": 7}))

	exprs := Canonicals([]Expr{Var("a"), Const(2)})
	require.Len(t, exprs, 2)
	assert.Equal(t, IRObject{"op": IRString("var"), "name": IRString("a")}, exprs[0])
}
