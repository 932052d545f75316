package algebra

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the closed sum of algebraic types a column or argument
// can take. There are no cyclic types and no references at the storage
// layer: every AlgebraicType is a finite tree of these kinds.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindI256
	KindU256
	KindF32
	KindF64
	KindString
	KindProduct
	KindSum
	KindArray
)

// Type is a single node in an algebraic type tree.
type Type struct {
	Kind    Kind
	Product ProductType // valid when Kind == KindProduct
	Sum     SumType     // valid when Kind == KindSum
	Elem    *Type       // valid when Kind == KindArray
}

// Field is one named, typed column of a ProductType.
type Field struct {
	Name string
	Type Type
}

// ProductType is an ordered list of named, typed columns — a table's row
// shape, or a reducer's argument list.
type ProductType struct {
	Fields []Field
}

// ColumnIndex returns the position of a field by name, or -1.
func (p ProductType) ColumnIndex(name string) int {
	for i, f := range p.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Variant is one tagged alternative of a SumType.
type Variant struct {
	Name string
	Type Type
}

// SumType is a tagged union: a 1-byte tag selects one of its Variants.
type SumType struct {
	Variants []Variant
}

func Bool() Type   { return Type{Kind: KindBool} }
func I8() Type     { return Type{Kind: KindI8} }
func U8() Type     { return Type{Kind: KindU8} }
func I16() Type    { return Type{Kind: KindI16} }
func U16() Type    { return Type{Kind: KindU16} }
func I32() Type    { return Type{Kind: KindI32} }
func U32() Type    { return Type{Kind: KindU32} }
func I64() Type    { return Type{Kind: KindI64} }
func U64() Type    { return Type{Kind: KindU64} }
func I128() Type   { return Type{Kind: KindI128} }
func U128() Type   { return Type{Kind: KindU128} }
func F32() Type    { return Type{Kind: KindF32} }
func F64() Type    { return Type{Kind: KindF64} }
func String() Type { return Type{Kind: KindString} }

func Product(fields ...Field) Type {
	return Type{Kind: KindProduct, Product: ProductType{Fields: fields}}
}

func Sum(variants ...Variant) Type {
	return Type{Kind: KindSum, Sum: SumType{Variants: variants}}
}

func Array(elem Type) Type {
	e := elem
	return Type{Kind: KindArray, Elem: &e}
}

// FixedSize reports the encoded width of a scalar type in a page's fixed
// region, or ok=false for var-len kinds (String, Array, nested Product/Sum
// with var-len members) which are stored as a granule reference instead.
func (t Type) FixedSize() (size int, ok bool) {
	switch t.Kind {
	case KindBool, KindI8, KindU8:
		return 1, true
	case KindI16, KindU16:
		return 2, true
	case KindI32, KindU32, KindF32:
		return 4, true
	case KindI64, KindU64, KindF64:
		return 8, true
	case KindI128, KindU128:
		return 16, true
	case KindI256, KindU256:
		return 32, true
	case KindString, KindArray:
		return 0, false
	case KindProduct:
		total := 0
		for _, f := range t.Product.Fields {
			sz, ok := f.Type.FixedSize()
			if !ok {
				return 0, false
			}
			total += sz
		}
		return total, true
	case KindSum:
		// 1-byte tag plus the widest variant, if all variants are fixed.
		max := 0
		for _, v := range t.Sum.Variants {
			sz, ok := v.Type.FixedSize()
			if !ok {
				return 0, false
			}
			if sz > max {
				max = sz
			}
		}
		return 1 + max, true
	default:
		return 0, false
	}
}

// Value is a decoded instance of a Type. Exactly one of the fields below is
// meaningful, selected by the accompanying Type's Kind.
type Value struct {
	Bool    bool
	I64     int64
	U64     uint64
	Big     []byte // big-endian two's complement / unsigned payload for 128/256-bit ints
	F64     float64
	Str     string
	Product ProductValue
	Sum     SumValue
	Array   []Value
}

// ProductValue is an ordered tuple of field values matching a ProductType.
type ProductValue struct {
	Elems []Value
}

// SumValue is a tagged variant payload matching a SumType.
type SumValue struct {
	Tag     uint8
	Payload *Value
}

func BoolValue(b bool) Value    { return Value{Bool: b} }
func I64Value(v int64) Value    { return Value{I64: v} }
func U64Value(v uint64) Value   { return Value{U64: v} }
func F64Value(v float64) Value  { return Value{F64: v} }
func StringValue(s string) Value { return Value{Str: s} }

// Project extracts the sub-tuple of v named by cols, in the order given.
// This backs index key extraction and BTree range composition.
func (v ProductValue) Project(cols []int) ProductValue {
	out := ProductValue{Elems: make([]Value, len(cols))}
	for i, c := range cols {
		out.Elems[i] = v.Elems[c]
	}
	return out
}

// Equal performs a structural, type-directed comparison. Two values compared
// under different types are never equal.
func Equal(t Type, a, b Value) bool {
	switch t.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindI8, KindI16, KindI32, KindI64:
		return a.I64 == b.I64
	case KindU8, KindU16, KindU32, KindU64:
		return a.U64 == b.U64
	case KindI128, KindU128, KindI256, KindU256:
		return string(a.Big) == string(b.Big)
	case KindF32, KindF64:
		return a.F64 == b.F64
	case KindString:
		return a.Str == b.Str
	case KindProduct:
		if len(a.Product.Elems) != len(b.Product.Elems) {
			return false
		}
		for i, f := range t.Product.Fields {
			if !Equal(f.Type, a.Product.Elems[i], b.Product.Elems[i]) {
				return false
			}
		}
		return true
	case KindSum:
		if a.Sum.Tag != b.Sum.Tag {
			return false
		}
		return Equal(t.Sum.Variants[a.Sum.Tag].Type, *a.Sum.Payload, *b.Sum.Payload)
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(*t.Elem, a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare provides a total order over values of the same type, used by the
// BTree index to order keys. The ordering of sum types is by tag first, then
// by payload.
func Compare(t Type, a, b Value) int {
	switch t.Kind {
	case KindBool:
		return boolCompare(a.Bool, b.Bool)
	case KindI8, KindI16, KindI32, KindI64:
		return int64Compare(a.I64, b.I64)
	case KindU8, KindU16, KindU32, KindU64:
		return uint64Compare(a.U64, b.U64)
	case KindI128, KindU128, KindI256, KindU256:
		return strings.Compare(string(a.Big), string(b.Big))
	case KindF32, KindF64:
		return float64Compare(a.F64, b.F64)
	case KindString:
		return strings.Compare(a.Str, b.Str)
	case KindProduct:
		for i, f := range t.Product.Fields {
			if c := Compare(f.Type, a.Product.Elems[i], b.Product.Elems[i]); c != 0 {
				return c
			}
		}
		return 0
	case KindSum:
		if a.Sum.Tag != b.Sum.Tag {
			return int(a.Sum.Tag) - int(b.Sum.Tag)
		}
		return Compare(t.Sum.Variants[a.Sum.Tag].Type, *a.Sum.Payload, *b.Sum.Payload)
	case KindArray:
		n := len(a.Array)
		if len(b.Array) < n {
			n = len(b.Array)
		}
		for i := 0; i < n; i++ {
			if c := Compare(*t.Elem, a.Array[i], b.Array[i]); c != 0 {
				return c
			}
		}
		return len(a.Array) - len(b.Array)
	default:
		return 0
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func uint64Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64Compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// KeyString renders a value as a sortable/hashable string, used as the
// BTree index's hash key and by constraint-error formatting.
func (v Value) KeyString(t Type) string {
	switch t.Kind {
	case KindString:
		return v.Str
	case KindU8, KindU16, KindU32, KindU64:
		return fmt.Sprintf("%020d", v.U64)
	case KindI8, KindI16, KindI32, KindI64:
		return fmt.Sprintf("%020d", v.I64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SortFieldNames returns field names in sorted order.
func (p ProductType) SortFieldNames() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}
