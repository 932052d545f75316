package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary framing applies the same primitive rules pkg/bsatn uses for rows
// (little-endian fixed widths, u32-length-prefixed strings/byte strings and
// arrays) to this package's fixed control-message shapes. It's kept
// separate from pkg/bsatn, which encodes against a runtime algebra.Type,
// because every field here has a type known at compile time.
type binWriter struct{ buf []byte }

func (w *binWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *binWriter) f64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf = append(w.buf, b[:]...)
}
func (w *binWriter) bytes(raw []byte) error {
	if len(raw) > math.MaxUint32 {
		return ErrLengthOverflow
	}
	w.u32(uint32(len(raw)))
	w.buf = append(w.buf, raw...)
	return nil
}
func (w *binWriter) str(s string) error { return w.bytes([]byte(s)) }

func (w *binWriter) byteArrays(arrs [][]byte) error {
	if len(arrs) > math.MaxUint32 {
		return ErrLengthOverflow
	}
	w.u32(uint32(len(arrs)))
	for _, a := range arrs {
		if err := w.bytes(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *binWriter) tableUpdate(u TableUpdate) error {
	w.u32(u.Table)
	if err := w.byteArrays(u.Deletes); err != nil {
		return err
	}
	return w.byteArrays(u.Inserts)
}

func (w *binWriter) tableUpdates(us []TableUpdate) error {
	if len(us) > math.MaxUint32 {
		return ErrLengthOverflow
	}
	w.u32(uint32(len(us)))
	for _, u := range us {
		if err := w.tableUpdate(u); err != nil {
			return err
		}
	}
	return nil
}

// ErrLengthOverflow mirrors pkg/bsatn.ErrLengthOverflow for this package's
// own sequences.
var ErrLengthOverflow = fmt.Errorf("wire: sequence length exceeds u32")

// EncodeClientMessage renders m in the binary wire framing.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	w := &binWriter{buf: make([]byte, 0, 64)}
	w.u8(uint8(m.Kind))
	switch m.Kind {
	case KindCallReducer:
		c := m.CallReducer
		if c == nil {
			return nil, fmt.Errorf("wire: CallReducer message missing payload")
		}
		if err := w.str(c.Name); err != nil {
			return nil, err
		}
		if err := w.bytes(c.Args); err != nil {
			return nil, err
		}
		w.u32(c.RequestID)
	case KindSubscribe:
		s := m.Subscribe
		if s == nil {
			return nil, fmt.Errorf("wire: Subscribe message missing payload")
		}
		w.u32(s.QueryID)
		if len(s.Queries) > math.MaxUint32 {
			return nil, ErrLengthOverflow
		}
		w.u32(uint32(len(s.Queries)))
		for _, q := range s.Queries {
			if err := w.str(q); err != nil {
				return nil, err
			}
		}
	case KindUnsubscribe:
		u := m.Unsubscribe
		if u == nil {
			return nil, fmt.Errorf("wire: Unsubscribe message missing payload")
		}
		w.u32(u.QueryID)
	case KindOneOffQuery:
		q := m.OneOffQuery
		if q == nil {
			return nil, fmt.Errorf("wire: OneOffQuery message missing payload")
		}
		w.u32(q.ID)
		if err := w.str(q.SQL); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown client message kind %d", m.Kind)
	}
	return w.buf, nil
}

// EncodeServerMessage renders m in the binary wire framing.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	w := &binWriter{buf: make([]byte, 0, 64)}
	w.u8(uint8(m.Kind))
	switch m.Kind {
	case KindIdentityToken:
		t := m.IdentityToken
		if t == nil {
			return nil, fmt.Errorf("wire: IdentityToken message missing payload")
		}
		if err := w.str(t.Identity); err != nil {
			return nil, err
		}
		if err := w.str(t.Token); err != nil {
			return nil, err
		}
	case KindTransactionUpdate:
		t := m.TransactionUpdate
		if t == nil {
			return nil, fmt.Errorf("wire: TransactionUpdate message missing payload")
		}
		w.u32(t.RequestID)
		w.u8(uint8(t.Status))
		if err := w.str(t.Message); err != nil {
			return nil, err
		}
		if err := w.str(t.EnergyUsedQuanta); err != nil {
			return nil, err
		}
		w.f64(t.HostExecutionDurationMs)
		if err := w.tableUpdates(t.TableUpdates); err != nil {
			return nil, err
		}
	case KindSubscriptionUpdate:
		s := m.SubscriptionUpdate
		if s == nil {
			return nil, fmt.Errorf("wire: SubscriptionUpdate message missing payload")
		}
		w.u32(s.QueryID)
		if err := w.tableUpdates(s.TableUpdates); err != nil {
			return nil, err
		}
	case KindOneOffQueryResponse:
		r := m.OneOffQueryResponse
		if r == nil {
			return nil, fmt.Errorf("wire: OneOffQueryResponse message missing payload")
		}
		w.u32(r.ID)
		if err := w.str(r.Error); err != nil {
			return nil, err
		}
		if err := w.byteArrays(r.Rows); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown server message kind %d", m.Kind)
	}
	return w.buf, nil
}

type binReader struct {
	buf []byte
	pos int
}

var errTruncated = fmt.Errorf("wire: truncated input")

func (r *binReader) need(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *binReader) u8() (uint8, error) {
	b, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *binReader) u32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *binReader) f64() (float64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *binReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	raw, err := r.need(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (r *binReader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *binReader) byteArrays() ([][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([][]byte, n)
	for i := range out {
		out[i], err = r.bytes()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *binReader) tableUpdate() (TableUpdate, error) {
	table, err := r.u32()
	if err != nil {
		return TableUpdate{}, err
	}
	deletes, err := r.byteArrays()
	if err != nil {
		return TableUpdate{}, err
	}
	inserts, err := r.byteArrays()
	if err != nil {
		return TableUpdate{}, err
	}
	return TableUpdate{Table: table, Deletes: deletes, Inserts: inserts}, nil
}

func (r *binReader) tableUpdates() ([]TableUpdate, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]TableUpdate, n)
	for i := range out {
		out[i], err = r.tableUpdate()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeClientMessage parses the binary wire framing into a ClientMessage.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	r := &binReader{buf: raw}
	kind, err := r.u8()
	if err != nil {
		return ClientMessage{}, err
	}
	switch ClientMessageKind(kind) {
	case KindCallReducer:
		name, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		args, err := r.bytes()
		if err != nil {
			return ClientMessage{}, err
		}
		reqID, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Kind: KindCallReducer, CallReducer: &CallReducer{Name: name, Args: args, RequestID: reqID}}, nil
	case KindSubscribe:
		qid, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		n, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		queries := make([]string, n)
		for i := range queries {
			queries[i], err = r.str()
			if err != nil {
				return ClientMessage{}, err
			}
		}
		return ClientMessage{Kind: KindSubscribe, Subscribe: &Subscribe{QueryID: qid, Queries: queries}}, nil
	case KindUnsubscribe:
		qid, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Kind: KindUnsubscribe, Unsubscribe: &Unsubscribe{QueryID: qid}}, nil
	case KindOneOffQuery:
		id, err := r.u32()
		if err != nil {
			return ClientMessage{}, err
		}
		sql, err := r.str()
		if err != nil {
			return ClientMessage{}, err
		}
		return ClientMessage{Kind: KindOneOffQuery, OneOffQuery: &OneOffQuery{ID: id, SQL: sql}}, nil
	default:
		return ClientMessage{}, fmt.Errorf("wire: unknown client message kind %d", kind)
	}
}

// DecodeServerMessage parses the binary wire framing into a ServerMessage.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	r := &binReader{buf: raw}
	kind, err := r.u8()
	if err != nil {
		return ServerMessage{}, err
	}
	switch ServerMessageKind(kind) {
	case KindIdentityToken:
		identity, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		token, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: KindIdentityToken, IdentityToken: &IdentityToken{Identity: identity, Token: token}}, nil
	case KindTransactionUpdate:
		reqID, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		status, err := r.u8()
		if err != nil {
			return ServerMessage{}, err
		}
		msg, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		quanta, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		dur, err := r.f64()
		if err != nil {
			return ServerMessage{}, err
		}
		updates, err := r.tableUpdates()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: KindTransactionUpdate, TransactionUpdate: &TransactionUpdate{
			RequestID: reqID, Status: Status(status), Message: msg,
			EnergyUsedQuanta: quanta, HostExecutionDurationMs: dur, TableUpdates: updates,
		}}, nil
	case KindSubscriptionUpdate:
		qid, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		updates, err := r.tableUpdates()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: KindSubscriptionUpdate, SubscriptionUpdate: &SubscriptionUpdate{QueryID: qid, TableUpdates: updates}}, nil
	case KindOneOffQueryResponse:
		id, err := r.u32()
		if err != nil {
			return ServerMessage{}, err
		}
		errStr, err := r.str()
		if err != nil {
			return ServerMessage{}, err
		}
		rows, err := r.byteArrays()
		if err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Kind: KindOneOffQueryResponse, OneOffQueryResponse: &OneOffQueryResponse{ID: id, Error: errStr, Rows: rows}}, nil
	default:
		return ServerMessage{}, fmt.Errorf("wire: unknown server message kind %d", kind)
	}
}
