package bsatn

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/cuemby/spacetimed/pkg/algebra"
)

// ErrLengthOverflow is returned when encoding a sequence whose length cannot
// be represented in 32 bits.
var ErrLengthOverflow = fmt.Errorf("bsatn: sequence length exceeds u32")

// Writer accumulates a BSATN encoding into an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with cap bytes of pre-allocated capacity.
func NewWriter(cap int) *Writer {
	return &Writer{buf: make([]byte, 0, cap)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) putBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) putU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) putI8(v int8)    { w.buf = append(w.buf, uint8(v)) }

func (w *Writer) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putBytes(raw []byte) error {
	if len(raw) > math.MaxUint32 {
		return ErrLengthOverflow
	}
	w.putU32(uint32(len(raw)))
	w.buf = append(w.buf, raw...)
	return nil
}

// Encode serializes v, which must conform to t, into BSATN bytes.
func Encode(t algebra.Type, v algebra.Value) ([]byte, error) {
	w := NewWriter(64)
	if err := w.encodeValue(t, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (w *Writer) encodeValue(t algebra.Type, v algebra.Value) error {
	switch t.Kind {
	case algebra.KindBool:
		w.putBool(v.Bool)
	case algebra.KindI8:
		w.putI8(int8(v.I64))
	case algebra.KindU8:
		w.putU8(uint8(v.U64))
	case algebra.KindI16:
		w.putU16(uint16(int16(v.I64)))
	case algebra.KindU16:
		w.putU16(uint16(v.U64))
	case algebra.KindI32:
		w.putU32(uint32(int32(v.I64)))
	case algebra.KindU32:
		w.putU32(uint32(v.U64))
	case algebra.KindI64:
		w.putU64(uint64(v.I64))
	case algebra.KindU64:
		w.putU64(v.U64)
	case algebra.KindI128, algebra.KindU128:
		if err := w.putFixedBig(v.Big, 16); err != nil {
			return err
		}
	case algebra.KindI256, algebra.KindU256:
		if err := w.putFixedBig(v.Big, 32); err != nil {
			return err
		}
	case algebra.KindF32:
		w.putU32(math.Float32bits(float32(v.F64)))
	case algebra.KindF64:
		w.putU64(math.Float64bits(v.F64))
	case algebra.KindString:
		if !utf8.ValidString(v.Str) {
			return fmt.Errorf("bsatn: invalid utf-8 string")
		}
		return w.putBytes([]byte(v.Str))
	case algebra.KindProduct:
		for i, f := range t.Product.Fields {
			if err := w.encodeValue(f.Type, v.Product.Elems[i]); err != nil {
				return err
			}
		}
	case algebra.KindSum:
		if int(v.Sum.Tag) >= len(t.Sum.Variants) {
			return fmt.Errorf("bsatn: sum tag %d out of range", v.Sum.Tag)
		}
		w.putU8(v.Sum.Tag)
		return w.encodeValue(t.Sum.Variants[v.Sum.Tag].Type, *v.Sum.Payload)
	case algebra.KindArray:
		if len(v.Array) > math.MaxUint32 {
			return ErrLengthOverflow
		}
		w.putU32(uint32(len(v.Array)))
		for _, elem := range v.Array {
			if err := w.encodeValue(*t.Elem, elem); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("bsatn: unknown kind %v", t.Kind)
	}
	return nil
}

func (w *Writer) putFixedBig(b []byte, width int) error {
	buf := make([]byte, width)
	// b is stored big-endian; BSATN wants little-endian fixed width.
	n := len(b)
	if n > width {
		return fmt.Errorf("bsatn: big value wider than %d bytes", width)
	}
	for i := 0; i < n; i++ {
		buf[i] = b[n-1-i]
	}
	w.buf = append(w.buf, buf...)
	return nil
}

// Reader decodes a BSATN byte stream sequentially.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps raw for sequential BSATN decoding.
func NewReader(raw []byte) *Reader {
	return &Reader{buf: raw}
}

// ErrTruncated is returned when the buffer runs out before a value or length
// prefix could be fully read.
var ErrTruncated = fmt.Errorf("bsatn: truncated input")

func (r *Reader) need(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) getBool() (bool, error) {
	b, err := r.need(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) getU8() (uint8, error) {
	b, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) getU16() (uint16, error) {
	b, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) getU32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) getU64() (uint64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) getBytes() ([]byte, error) {
	n, err := r.getU32()
	if err != nil {
		return nil, err
	}
	return r.need(int(n))
}

func (r *Reader) getFixedBig(width int) ([]byte, error) {
	b, err := r.need(width)
	if err != nil {
		return nil, err
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = b[width-1-i]
	}
	return out, nil
}

// Decode parses BSATN bytes into a Value conforming to t. It returns the
// value and the number of bytes consumed.
func Decode(t algebra.Type, raw []byte) (algebra.Value, int, error) {
	r := NewReader(raw)
	v, err := r.decodeValue(t)
	if err != nil {
		return algebra.Value{}, 0, err
	}
	return v, r.pos, nil
}

func (r *Reader) decodeValue(t algebra.Type) (algebra.Value, error) {
	switch t.Kind {
	case algebra.KindBool:
		b, err := r.getBool()
		return algebra.Value{Bool: b}, err
	case algebra.KindI8:
		b, err := r.getU8()
		return algebra.Value{I64: int64(int8(b))}, err
	case algebra.KindU8:
		b, err := r.getU8()
		return algebra.Value{U64: uint64(b)}, err
	case algebra.KindI16:
		b, err := r.getU16()
		return algebra.Value{I64: int64(int16(b))}, err
	case algebra.KindU16:
		b, err := r.getU16()
		return algebra.Value{U64: uint64(b)}, err
	case algebra.KindI32:
		b, err := r.getU32()
		return algebra.Value{I64: int64(int32(b))}, err
	case algebra.KindU32:
		b, err := r.getU32()
		return algebra.Value{U64: uint64(b)}, err
	case algebra.KindI64:
		b, err := r.getU64()
		return algebra.Value{I64: int64(b)}, err
	case algebra.KindU64:
		b, err := r.getU64()
		return algebra.Value{U64: b}, err
	case algebra.KindI128, algebra.KindU128:
		b, err := r.getFixedBig(16)
		return algebra.Value{Big: b}, err
	case algebra.KindI256, algebra.KindU256:
		b, err := r.getFixedBig(32)
		return algebra.Value{Big: b}, err
	case algebra.KindF32:
		b, err := r.getU32()
		return algebra.Value{F64: float64(math.Float32frombits(b))}, err
	case algebra.KindF64:
		b, err := r.getU64()
		return algebra.Value{F64: math.Float64frombits(b)}, err
	case algebra.KindString:
		b, err := r.getBytes()
		if err != nil {
			return algebra.Value{}, err
		}
		if !utf8.Valid(b) {
			return algebra.Value{}, fmt.Errorf("bsatn: invalid utf-8 string")
		}
		return algebra.Value{Str: string(b)}, nil
	case algebra.KindProduct:
		elems := make([]algebra.Value, len(t.Product.Fields))
		for i, f := range t.Product.Fields {
			ev, err := r.decodeValue(f.Type)
			if err != nil {
				return algebra.Value{}, err
			}
			elems[i] = ev
		}
		return algebra.Value{Product: algebra.ProductValue{Elems: elems}}, nil
	case algebra.KindSum:
		tag, err := r.getU8()
		if err != nil {
			return algebra.Value{}, err
		}
		if int(tag) >= len(t.Sum.Variants) {
			return algebra.Value{}, fmt.Errorf("bsatn: sum tag %d out of range", tag)
		}
		payload, err := r.decodeValue(t.Sum.Variants[tag].Type)
		if err != nil {
			return algebra.Value{}, err
		}
		return algebra.Value{Sum: algebra.SumValue{Tag: tag, Payload: &payload}}, nil
	case algebra.KindArray:
		n, err := r.getU32()
		if err != nil {
			return algebra.Value{}, err
		}
		elems := make([]algebra.Value, n)
		for i := range elems {
			ev, err := r.decodeValue(*t.Elem)
			if err != nil {
				return algebra.Value{}, err
			}
			elems[i] = ev
		}
		return algebra.Value{Array: elems}, nil
	default:
		return algebra.Value{}, fmt.Errorf("bsatn: unknown kind %v", t.Kind)
	}
}

// EncodeProduct is a convenience wrapper for the common case of encoding a
// ProductValue against its ProductType, used for rows and TxData entries.
func EncodeProduct(pt algebra.ProductType, v algebra.ProductValue) ([]byte, error) {
	return Encode(algebra.Type{Kind: algebra.KindProduct, Product: pt}, algebra.Value{Product: v})
}

// DecodeProduct is the inverse of EncodeProduct.
func DecodeProduct(pt algebra.ProductType, raw []byte) (algebra.ProductValue, int, error) {
	v, n, err := Decode(algebra.Type{Kind: algebra.KindProduct, Product: pt}, raw)
	return v.Product, n, err
}
