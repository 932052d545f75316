package gateway

import (
	"net/http"
	"strings"
)

// Framing discriminates the two wire framings the gateway allows.
type Framing uint8

const (
	FramingBinary Framing = iota
	FramingJSON
)

// Subprotocol names offered during negotiation, in preference order.
const (
	subprotocolBinary = "v1.bsatn.spacetimedb"
	subprotocolJSON   = "v1.json.spacetimedb"
)

// negotiateSubprotocol inspects the client-offered Sec-WebSocket-Protocol
// header and picks the first of our supported subprotocols it also offers.
// Returns ok=false if none match, so the caller can refuse the upgrade with
// a 400 rather than accepting with an framing neither side agreed to.
func negotiateSubprotocol(r *http.Request) (proto string, framing Framing, ok bool) {
	offered := make(map[string]bool)
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			offered[strings.TrimSpace(p)] = true
		}
	}
	if offered[subprotocolBinary] {
		return subprotocolBinary, FramingBinary, true
	}
	if offered[subprotocolJSON] {
		return subprotocolJSON, FramingJSON, true
	}
	return "", 0, false
}
