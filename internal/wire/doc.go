// Package wire holds the client<->server message vocabulary: one set of
// Go structs shared by both WebSocket framings (binary BSATN and text
// JSON). A message's meaning never depends on which framing carried it —
// only the gateway's encode/decode step differs.
package wire
