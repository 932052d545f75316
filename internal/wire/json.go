package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jsonClientMessage is the on-the-wire JSON shape: a "kind" discriminant
// plus exactly one populated payload field, the structural mirror of the
// binary framing.
type jsonClientMessage struct {
	Kind        string       `json:"kind"`
	CallReducer *CallReducer `json:"call_reducer,omitempty"`
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	OneOffQuery *OneOffQuery `json:"one_off_query,omitempty"`
}

const (
	jsonCallReducer = "call_reducer"
	jsonSubscribe   = "subscribe"
	jsonUnsubscribe = "unsubscribe"
	jsonOneOffQuery = "one_off_query"
)

// MarshalJSON renders m in the text-framing wire format.
func (m ClientMessage) MarshalJSON() ([]byte, error) {
	j := jsonClientMessage{CallReducer: m.CallReducer, Subscribe: m.Subscribe, Unsubscribe: m.Unsubscribe, OneOffQuery: m.OneOffQuery}
	switch m.Kind {
	case KindCallReducer:
		j.Kind = jsonCallReducer
	case KindSubscribe:
		j.Kind = jsonSubscribe
	case KindUnsubscribe:
		j.Kind = jsonUnsubscribe
	case KindOneOffQuery:
		j.Kind = jsonOneOffQuery
	default:
		return nil, fmt.Errorf("wire: unknown client message kind %d", m.Kind)
	}
	return json.Marshal(j)
}

// UnmarshalJSON parses the text-framing wire format into m.
func (m *ClientMessage) UnmarshalJSON(raw []byte) error {
	var j jsonClientMessage
	if err := json.Unmarshal(raw, &j); err != nil {
		return err
	}
	switch j.Kind {
	case jsonCallReducer:
		if j.CallReducer == nil {
			return fmt.Errorf("wire: %q message missing payload", j.Kind)
		}
		m.Kind, m.CallReducer = KindCallReducer, j.CallReducer
	case jsonSubscribe:
		if j.Subscribe == nil {
			return fmt.Errorf("wire: %q message missing payload", j.Kind)
		}
		m.Kind, m.Subscribe = KindSubscribe, j.Subscribe
	case jsonUnsubscribe:
		if j.Unsubscribe == nil {
			return fmt.Errorf("wire: %q message missing payload", j.Kind)
		}
		m.Kind, m.Unsubscribe = KindUnsubscribe, j.Unsubscribe
	case jsonOneOffQuery:
		if j.OneOffQuery == nil {
			return fmt.Errorf("wire: %q message missing payload", j.Kind)
		}
		m.Kind, m.OneOffQuery = KindOneOffQuery, j.OneOffQuery
	default:
		return fmt.Errorf("wire: unknown client message kind %q", j.Kind)
	}
	return nil
}

type jsonServerMessage struct {
	Kind                string               `json:"kind"`
	IdentityToken       *IdentityToken       `json:"identity_token,omitempty"`
	TransactionUpdate   *TransactionUpdate   `json:"transaction_update,omitempty"`
	SubscriptionUpdate  *SubscriptionUpdate  `json:"subscription_update,omitempty"`
	OneOffQueryResponse *OneOffQueryResponse `json:"one_off_query_response,omitempty"`
}

const (
	jsonIdentityToken       = "identity_token"
	jsonTransactionUpdate   = "transaction_update"
	jsonSubscriptionUpdate  = "subscription_update"
	jsonOneOffQueryResponse = "one_off_query_response"
)

// MarshalJSON renders m in the text-framing wire format.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	j := jsonServerMessage{
		IdentityToken:       m.IdentityToken,
		TransactionUpdate:   m.TransactionUpdate,
		SubscriptionUpdate:  m.SubscriptionUpdate,
		OneOffQueryResponse: m.OneOffQueryResponse,
	}
	switch m.Kind {
	case KindIdentityToken:
		j.Kind = jsonIdentityToken
	case KindTransactionUpdate:
		j.Kind = jsonTransactionUpdate
	case KindSubscriptionUpdate:
		j.Kind = jsonSubscriptionUpdate
	case KindOneOffQueryResponse:
		j.Kind = jsonOneOffQueryResponse
	default:
		return nil, fmt.Errorf("wire: unknown server message kind %d", m.Kind)
	}
	return json.Marshal(j)
}

// UnmarshalJSON parses the text-framing wire format into m.
func (m *ServerMessage) UnmarshalJSON(raw []byte) error {
	var j jsonServerMessage
	if err := json.Unmarshal(raw, &j); err != nil {
		return err
	}
	switch j.Kind {
	case jsonIdentityToken:
		m.Kind, m.IdentityToken = KindIdentityToken, j.IdentityToken
	case jsonTransactionUpdate:
		m.Kind, m.TransactionUpdate = KindTransactionUpdate, j.TransactionUpdate
	case jsonSubscriptionUpdate:
		m.Kind, m.SubscriptionUpdate = KindSubscriptionUpdate, j.SubscriptionUpdate
	case jsonOneOffQueryResponse:
		m.Kind, m.OneOffQueryResponse = KindOneOffQueryResponse, j.OneOffQueryResponse
	default:
		return fmt.Errorf("wire: unknown server message kind %q", j.Kind)
	}
	return nil
}

// MarshalJSON renders raw BSATN row bytes as base64, since JSON has no
// native byte-string type; this is the "structural mirror" of the binary
// framing's length-prefixed raw bytes.
func (u TableUpdate) MarshalJSON() ([]byte, error) {
	type alias struct {
		Table   uint32   `json:"table"`
		Deletes []string `json:"deletes"`
		Inserts []string `json:"inserts"`
	}
	a := alias{Table: u.Table}
	for _, d := range u.Deletes {
		a.Deletes = append(a.Deletes, base64.StdEncoding.EncodeToString(d))
	}
	for _, ins := range u.Inserts {
		a.Inserts = append(a.Inserts, base64.StdEncoding.EncodeToString(ins))
	}
	return json.Marshal(a)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (u *TableUpdate) UnmarshalJSON(raw []byte) error {
	type alias struct {
		Table   uint32   `json:"table"`
		Deletes []string `json:"deletes"`
		Inserts []string `json:"inserts"`
	}
	var a alias
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	u.Table = a.Table
	for _, s := range a.Deletes {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		u.Deletes = append(u.Deletes, b)
	}
	for _, s := range a.Inserts {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		u.Inserts = append(u.Inserts, b)
	}
	return nil
}
