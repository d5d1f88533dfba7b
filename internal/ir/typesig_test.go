package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeRange(t *testing.T) {
	tests := []struct {
		typ    Type
		lo, hi int64
	}{
		{Int(8, true), -128, 127},
		{Int(8, false), 0, 255},
		{Int(32, true), math.MinInt32, math.MaxInt32},
		{Int(0, true), math.MinInt64, math.MaxInt64},
		{Int(64, false), 0, math.MaxInt64},
		{Type{Base: BaseBool}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			lo, hi, ok := tt.typ.Range()
			assert.True(t, ok)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}

	_, _, ok := Type{Base: BaseBytes}.Range()
	assert.False(t, ok)
}

func TestTypeCompatible(t *testing.T) {
	u8 := Int(8, false)
	arr := func(n int64, e Type) Type { return Type{Base: BaseArray, Len: n, Elem: &e} }

	assert.True(t, u8.Compatible(u8.Refined(MustParseExpr("value < 10"))))
	assert.False(t, u8.Compatible(Int(8, true)))
	assert.False(t, u8.Compatible(Int(16, false)))
	assert.True(t, u8.Compatible(Type{Base: BaseGeneric}))
	assert.True(t, arr(4, u8).Compatible(arr(0, u8)))
	assert.False(t, arr(4, u8).Compatible(arr(5, u8)))
	assert.False(t, arr(4, u8).Compatible(arr(4, Int(8, true))))
	assert.True(t, Type{Base: BaseBytes, Len: 16}.Compatible(Type{Base: BaseBytes}))
}

func TestTypeSize(t *testing.T) {
	e := Int(16, false)
	assert.Equal(t, int64(2), e.SizeBytes(4))
	assert.Equal(t, int64(40), Type{Base: BaseArray, Len: 20, Elem: &e}.SizeBytes(4))
	assert.Equal(t, int64(8), Type{Base: BaseGeneric}.SizeBytes(8))
	assert.Equal(t, int64(0), Type{Base: BaseUnit}.SizeBytes(8))

	assert.False(t, Type{Base: BaseArray, Elem: &e}.Concrete())
	assert.True(t, Type{Base: BaseArray, Len: 3, Elem: &e}.Concrete())
}

func TestTypeString(t *testing.T) {
	ty := Int(32, true).Refined(MustParseExpr("value >= 0")).WithLinearity(Linear)
	assert.Equal(t, "linear i32 where value >= 0", ty.String())

	shape := ty.Shape()
	assert.Nil(t, shape.Refinement)
	assert.Equal(t, Unrestricted, shape.Linearity)
	assert.NotEqual(t, MustHash(DomainNode, ty), MustHash(DomainNode, shape))
}
