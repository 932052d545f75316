package bsatn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
)

func TestRoundTripScalars(t *testing.T) {
	cases := []struct {
		name string
		typ  algebra.Type
		val  algebra.Value
	}{
		{"bool-true", algebra.Bool(), algebra.BoolValue(true)},
		{"bool-false", algebra.Bool(), algebra.BoolValue(false)},
		{"i32-neg", algebra.I32(), algebra.I64Value(-12345)},
		{"u64-max", algebra.U64(), algebra.U64Value(^uint64(0))},
		{"f64", algebra.F64(), algebra.F64Value(3.14159)},
		{"string", algebra.String(), algebra.StringValue("Hello, World!")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := Encode(tc.typ, tc.val)
			require.NoError(t, err)

			dec, n, err := Decode(tc.typ, enc)
			require.NoError(t, err)
			require.Equal(t, len(enc), n)
			require.True(t, algebra.Equal(tc.typ, tc.val, dec))
		})
	}
}

func TestRoundTripProduct(t *testing.T) {
	pt := algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}
	row := algebra.ProductValue{Elems: []algebra.Value{
		algebra.I64Value(1),
		algebra.StringValue("Robert"),
	}}

	enc, err := EncodeProduct(pt, row)
	require.NoError(t, err)

	dec, n, err := DecodeProduct(pt, enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.True(t, algebra.Equal(algebra.Type{Kind: algebra.KindProduct, Product: pt}, algebra.Value{Product: row}, algebra.Value{Product: dec}))
}

func TestRoundTripSum(t *testing.T) {
	st := algebra.Sum(
		algebra.Variant{Name: "Time", Type: algebra.I64()},
		algebra.Variant{Name: "Interval", Type: algebra.I64()},
	)
	payload := algebra.I64Value(100000)
	v := algebra.Value{Sum: algebra.SumValue{Tag: 1, Payload: &payload}}

	enc, err := Encode(st, v)
	require.NoError(t, err)
	require.Equal(t, byte(1), enc[0], "sum tag is the first byte")

	dec, _, err := Decode(st, enc)
	require.NoError(t, err)
	require.True(t, algebra.Equal(st, v, dec))
}

func TestDecodeTruncatedIsError(t *testing.T) {
	_, _, err := Decode(algebra.String(), []byte{5, 0, 0}) // input ends inside the u32 length prefix
	require.Error(t, err)
}

func TestDecodeInvalidUTF8(t *testing.T) {
	w := NewWriter(8)
	require.NoError(t, w.putBytes([]byte{0xff, 0xfe}))
	_, _, err := Decode(algebra.String(), w.Bytes())
	require.Error(t, err)
}

func TestArrayRoundTrip(t *testing.T) {
	at := algebra.Array(algebra.I32())
	v := algebra.Value{Array: []algebra.Value{algebra.I64Value(1), algebra.I64Value(2), algebra.I64Value(3)}}

	enc, err := Encode(at, v)
	require.NoError(t, err)

	dec, _, err := Decode(at, enc)
	require.NoError(t, err)
	require.True(t, algebra.Equal(at, v, dec))
}
