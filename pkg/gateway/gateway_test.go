package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegotiateSubprotocolPrefersBinary(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Add("Sec-WebSocket-Protocol", subprotocolJSON+", "+subprotocolBinary)
	proto, framing, ok := negotiateSubprotocol(r)
	require.True(t, ok)
	require.Equal(t, subprotocolBinary, proto)
	require.Equal(t, FramingBinary, framing)
}

func TestNegotiateSubprotocolFallsBackToJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Add("Sec-WebSocket-Protocol", subprotocolJSON)
	_, framing, ok := negotiateSubprotocol(r)
	require.True(t, ok)
	require.Equal(t, FramingJSON, framing)
}

func TestNegotiateSubprotocolRejectsUnknown(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Add("Sec-WebSocket-Protocol", "some.other.protocol")
	_, _, ok := negotiateSubprotocol(r)
	require.False(t, ok)
}

func TestBindIdentityAnonymousWhenNoToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	a, err := bindIdentity(r, nil)
	require.NoError(t, err)
	b, err := bindIdentity(r, nil)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "two anonymous connections must not collide")
}

func TestSendQueueBackpressureWatermarks(t *testing.T) {
	q := newSendQueue(2, 4)

	slow, err := q.push([]byte("a"))
	require.NoError(t, err)
	require.False(t, slow)

	slow, err = q.push([]byte("b"))
	require.NoError(t, err)
	require.True(t, slow, "queue at high watermark must report slow")

	q.push([]byte("c"))
	q.push([]byte("d"))
	_, err = q.push([]byte("e"))
	require.ErrorIs(t, err, ErrBackpressure)
}
