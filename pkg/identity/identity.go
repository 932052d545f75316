package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the fixed byte length of an Identity.
const Size = 32

// idPrefix is the fixed two-byte tag every Identity begins with.
var idPrefix = [2]byte{0xc2, 0x00}

// Identity is an opaque, total-ordered 32-byte identifier derived from a
// caller's validated issuer and subject claims.
type Identity [Size]byte

// Claims holds the already-validated fields of a caller's token. Audience is
// recorded for diagnostics but intentionally excluded from derivation.
type Claims struct {
	Issuer   string
	Subject  string
	Audience []string
}

// Derive computes the Identity for a set of validated claims. Only Issuer and
// Subject feed the hash; Audience is accepted and ignored, matching the
// upstream reference behavior (tested by TestDeriveAudienceIsntHashed).
func Derive(c Claims) Identity {
	h := blake3.New()
	h.Write([]byte(c.Issuer))
	h.Write([]byte("|"))
	h.Write([]byte(c.Subject))
	idHash := h.Sum(nil)[:26]

	checksumInput := make([]byte, 0, 28)
	checksumInput = append(checksumInput, idPrefix[:]...)
	checksumInput = append(checksumInput, idHash...)
	ch := blake3.Sum256(checksumInput)
	checksum := ch[:4]

	var out Identity
	copy(out[0:2], idPrefix[:])
	copy(out[2:6], checksum)
	copy(out[6:32], idHash)
	return out
}

// Bytes returns the identity's raw 32 bytes.
func (id Identity) Bytes() []byte { return id[:] }

// String renders the identity as lowercase hex, with no prefix.
func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Abbreviate returns the first 16 hex characters (8 bytes) of the identity,
// used in log lines and CLI output where the full identity is too verbose.
func (id Identity) Abbreviate() string { return hex.EncodeToString(id[:8]) }

// IsZero reports whether id is the zero value.
func (id Identity) IsZero() bool { return id == Identity{} }

// Less defines Identity's total order, used to order databases/identities
// deterministically (e.g. as BTree index keys, in sorted listings).
func (id Identity) Less(other Identity) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater than
// other, by byte order.
func (id Identity) Compare(other Identity) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ParseHex decodes a 64-character lowercase hex string into an Identity.
func ParseHex(s string) (Identity, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: invalid hex: %w", err)
	}
	if len(raw) != Size {
		return Identity{}, fmt.Errorf("identity: expected %d bytes, got %d", Size, len(raw))
	}
	var id Identity
	copy(id[:], raw)
	return id, nil
}

// VerifyChecksum recomputes the checksum over id's prefix and hash bytes and
// reports whether it matches the stored checksum. Used to reject corrupted
// or hand-crafted identities before trusting them as a database owner.
func VerifyChecksum(id Identity) bool {
	checksumInput := make([]byte, 0, 28)
	checksumInput = append(checksumInput, id[0:2]...)
	checksumInput = append(checksumInput, id[6:32]...)
	ch := blake3.Sum256(checksumInput)
	for i := 0; i < 4; i++ {
		if ch[i] != id[2+i] {
			return false
		}
	}
	return true
}
