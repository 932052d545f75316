package table

import (
	"fmt"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// encodeRow writes row's columns into a fixed buffer, storing any
// variable-length column's bytes in pg's granule heap via PutVarLen and
// embedding the resulting VarLenRef at that column's offset.
func encodeRow(l layout, pg *page.Page, row algebra.ProductValue) ([]byte, error) {
	buf := make([]byte, l.rowWidth)
	for i, f := range l.schema.Fields {
		off := l.offsets[i]
		if l.isVarLen[i] {
			enc, err := bsatn.Encode(f.Type, row.Elems[i])
			if err != nil {
				return nil, fmt.Errorf("table: encoding column %s: %w", f.Name, err)
			}
			ref, err := pg.PutVarLen(enc)
			if err != nil {
				return nil, err
			}
			refBytes := page.EncodeVarLenRef(ref)
			copy(buf[off:off+8], refBytes[:])
			continue
		}
		enc, err := bsatn.Encode(f.Type, row.Elems[i])
		if err != nil {
			return nil, fmt.Errorf("table: encoding column %s: %w", f.Name, err)
		}
		copy(buf[off:off+len(enc)], enc)
	}
	return buf, nil
}

// decodeRow reassembles a ProductValue from a row's fixed buffer, resolving
// any VarLenRef against pg's granule heap.
func decodeRow(l layout, pg *page.Page, fixed []byte) (algebra.ProductValue, error) {
	elems := make([]algebra.Value, len(l.schema.Fields))
	for i, f := range l.schema.Fields {
		off := l.offsets[i]
		if l.isVarLen[i] {
			var refBytes [8]byte
			copy(refBytes[:], fixed[off:off+8])
			ref := decodeRef(refBytes)
			raw, err := pg.GetVarLen(ref)
			if err != nil {
				return algebra.ProductValue{}, err
			}
			v, _, err := bsatn.Decode(f.Type, raw)
			if err != nil {
				return algebra.ProductValue{}, fmt.Errorf("table: decoding column %s: %w", f.Name, err)
			}
			elems[i] = v
			continue
		}
		sz, _ := f.Type.FixedSize()
		v, _, err := bsatn.Decode(f.Type, fixed[off:off+sz])
		if err != nil {
			return algebra.ProductValue{}, fmt.Errorf("table: decoding column %s: %w", f.Name, err)
		}
		elems[i] = v
	}
	return algebra.ProductValue{Elems: elems}, nil
}

// freeRowVarLen releases every var-len column's granule chain for a row
// about to be deleted or overwritten.
func freeRowVarLen(l layout, pg *page.Page, fixed []byte) {
	for i := range l.schema.Fields {
		if !l.isVarLen[i] {
			continue
		}
		off := l.offsets[i]
		var refBytes [8]byte
		copy(refBytes[:], fixed[off:off+8])
		pg.FreeVarLen(decodeRef(refBytes))
	}
}

func decodeRef(b [8]byte) page.VarLenRef {
	head := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	length := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	return page.VarLenRef{Head: head, Length: length}
}
