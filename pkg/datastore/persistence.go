package datastore

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
)

// EncodeTxData serializes a transaction's changes for the commitlog: a u32
// count followed by, per change, a u32 table id, a 1-byte op, and the row
// BSATN-encoded against its table's registered schema.
func EncodeTxData(schemas map[TableId]algebra.ProductType, txd TxData) ([]byte, error) {
	w := bsatnHeader(len(txd.Changes))
	for _, ch := range txd.Changes {
		schema, ok := schemas[ch.Table]
		if !ok {
			return nil, fmt.Errorf("datastore: no schema registered for table %d", ch.Table)
		}
		var hdr [5]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(ch.Table))
		hdr[4] = byte(ch.Op)
		w = append(w, hdr[:]...)
		enc, err := bsatn.EncodeProduct(schema, ch.Row)
		if err != nil {
			return nil, fmt.Errorf("datastore: encode row for table %d: %w", ch.Table, err)
		}
		w = append(w, enc...)
	}
	return w, nil
}

func bsatnHeader(count int) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(count))
	return b[:]
}

// DecodeTxData is the inverse of EncodeTxData.
func DecodeTxData(schemas map[TableId]algebra.ProductType, raw []byte) (TxData, error) {
	if len(raw) < 4 {
		return TxData{}, fmt.Errorf("datastore: tx payload too short")
	}
	count := binary.LittleEndian.Uint32(raw[0:4])
	pos := 4
	changes := make([]RowChange, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+5 > len(raw) {
			return TxData{}, fmt.Errorf("datastore: truncated change header")
		}
		tableId := TableId(binary.LittleEndian.Uint32(raw[pos : pos+4]))
		op := Op(raw[pos+4])
		pos += 5
		schema, ok := schemas[tableId]
		if !ok {
			return TxData{}, fmt.Errorf("datastore: no schema registered for table %d", tableId)
		}
		row, n, err := bsatn.DecodeProduct(schema, raw[pos:])
		if err != nil {
			return TxData{}, fmt.Errorf("datastore: decode row for table %d: %w", tableId, err)
		}
		pos += n
		changes = append(changes, RowChange{Table: tableId, Op: op, Row: row})
	}
	return TxData{Changes: changes}, nil
}
