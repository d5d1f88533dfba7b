package ir

import (
	"fmt"
	"math"
	"strings"
)

// Base is the shape of a value type.
type Base string

const (
	BaseInt     Base = "int"
	BaseBool    Base = "bool"
	BaseUnit    Base = "unit"
	BaseBytes   Base = "bytes"
	BaseArray   Base = "array"
	BaseGeneric Base = "generic"
)

// Linearity restricts how many consumers a value may have.
type Linearity string

const (
	Unrestricted Linearity = ""
	Linear       Linearity = "linear" // exactly one consumer
	Affine       Linearity = "affine" // at most one consumer
	Unique       Linearity = "unique" // exactly one consumer, no aliasing
)

// Type is a value type. Width is in bits for ints (0 means 64). Len is the
// element count for arrays and the byte count for bytes; 0 means "any"
// until specialization fixes it.
type Type struct {
	Base       Base      `json:"base" yaml:"base"`
	Width      int       `json:"width,omitempty" yaml:"width,omitempty"`
	Signed     bool      `json:"signed,omitempty" yaml:"signed,omitempty"`
	Len        int64     `json:"len,omitempty" yaml:"len,omitempty"`
	Elem       *Type     `json:"elem,omitempty" yaml:"elem,omitempty"`
	Refinement *Expr     `json:"refinement,omitempty" yaml:"refinement,omitempty"`
	Linearity  Linearity `json:"linearity,omitempty" yaml:"linearity,omitempty"`
}

// Int returns a signed or unsigned integer type.
func Int(width int, signed bool) Type {
	return Type{Base: BaseInt, Width: width, Signed: signed}
}

// Refined returns t with a refinement predicate over "value".
func (t Type) Refined(pred Expr) Type {
	t.Refinement = &pred
	return t
}

// WithLinearity returns t with the given linearity.
func (t Type) WithLinearity(l Linearity) Type {
	t.Linearity = l
	return t
}

// BitWidth returns the effective width of an int type.
func (t Type) BitWidth() int {
	if t.Width == 0 {
		return 64
	}
	return t.Width
}

// Range returns the representable range of an int or bool type.
func (t Type) Range() (lo, hi int64, ok bool) {
	switch t.Base {
	case BaseBool:
		return 0, 1, true
	case BaseInt:
		w := t.BitWidth()
		if t.Signed {
			if w >= 64 {
				return math.MinInt64, math.MaxInt64, true
			}
			return -(int64(1) << (w - 1)), int64(1)<<(w-1) - 1, true
		}
		if w >= 63 {
			return 0, math.MaxInt64, true
		}
		return 0, int64(1)<<w - 1, true
	}
	return 0, 0, false
}

// SizeBytes returns the storage size of a value of type t.
func (t Type) SizeBytes(wordBytes int64) int64 {
	switch t.Base {
	case BaseInt:
		return int64((t.BitWidth() + 7) / 8)
	case BaseBool:
		return 1
	case BaseUnit:
		return 0
	case BaseBytes:
		return t.Len
	case BaseArray:
		if t.Elem == nil {
			return 0
		}
		return t.Len * t.Elem.SizeBytes(wordBytes)
	}
	return wordBytes
}

// Shape returns t without refinement and linearity. Edge type consistency
// compares shapes.
func (t Type) Shape() Type {
	s := Type{Base: t.Base, Width: t.Width, Signed: t.Signed, Len: t.Len}
	if t.Elem != nil {
		e := t.Elem.Shape()
		s.Elem = &e
	}
	return s
}

// Compatible reports whether a value of type t may flow into a port of
// type u. Generic ports accept anything; unfixed lengths accept any length.
func (t Type) Compatible(u Type) bool {
	if t.Base == BaseGeneric || u.Base == BaseGeneric {
		return true
	}
	if t.Base != u.Base {
		return false
	}
	switch t.Base {
	case BaseInt:
		return t.BitWidth() == u.BitWidth() && t.Signed == u.Signed
	case BaseBytes:
		return t.Len == 0 || u.Len == 0 || t.Len == u.Len
	case BaseArray:
		if t.Len != 0 && u.Len != 0 && t.Len != u.Len {
			return false
		}
		if t.Elem == nil || u.Elem == nil {
			return t.Elem == u.Elem
		}
		return t.Elem.Compatible(*u.Elem)
	}
	return true
}

// Concrete reports whether t needs no specialization.
func (t Type) Concrete() bool {
	switch t.Base {
	case BaseGeneric:
		return false
	case BaseBytes:
		return t.Len > 0
	case BaseArray:
		return t.Len > 0 && t.Elem != nil && t.Elem.Concrete()
	}
	return true
}

// Canonical returns the hashed form of t.
func (t Type) Canonical() IRValue {
	obj := IRObject{"base": IRString(t.Base)}
	if t.Base == BaseInt {
		obj["width"] = IRInt(t.BitWidth())
		obj["signed"] = IRBool(t.Signed)
	}
	if t.Len != 0 {
		obj["len"] = IRInt(t.Len)
	}
	if t.Elem != nil {
		obj["elem"] = t.Elem.Canonical()
	}
	if t.Refinement != nil {
		obj["refinement"] = t.Refinement.Canonical()
	}
	if t.Linearity != Unrestricted {
		obj["linearity"] = IRString(t.Linearity)
	}
	return obj
}

// String renders t, for example "linear i32 where value >= 0".
func (t Type) String() string {
	var b strings.Builder
	if t.Linearity != Unrestricted {
		b.WriteString(string(t.Linearity) + " ")
	}
	switch t.Base {
	case BaseInt:
		if t.Signed {
			fmt.Fprintf(&b, "i%d", t.BitWidth())
		} else {
			fmt.Fprintf(&b, "u%d", t.BitWidth())
		}
	case BaseArray:
		elem := "?"
		if t.Elem != nil {
			elem = t.Elem.String()
		}
		fmt.Fprintf(&b, "[%d]%s", t.Len, elem)
	case BaseBytes:
		fmt.Fprintf(&b, "bytes[%d]", t.Len)
	default:
		b.WriteString(string(t.Base))
	}
	if t.Refinement != nil {
		b.WriteString(" where " + t.Refinement.String())
	}
	return b.String()
}

// Signature is a node's type signature: one type per input port and the
// output type.
type Signature struct {
	Inputs []Type `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output Type   `json:"output" yaml:"output"`
}

// Canonical returns the hashed form of the signature.
func (s Signature) Canonical() IRValue {
	return IRObject{
		"inputs": Canonicals(s.Inputs),
		"output": s.Output.Canonical(),
	}
}
