// Package identity generates the process-wide peer-id used in every
// tracker announce and peer handshake, and defines the reserved-bits
// policy advertised in the handshake.
package identity

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// ReservedBytes are the 8 handshake reserved bytes this core advertises:
// bit 0x10 of byte index 5 set (extension-protocol capability), all other
// bits zero. This core does not implement the extension protocol beyond
// advertising the bit.
var ReservedBytes = [8]byte{0, 0, 0, 0, 0, 0x10, 0, 0}

// NewPeerID generates 20 cryptographically random bytes, used unchanged
// for the lifetime of the process.
func NewPeerID() ([20]byte, error) {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, errors.Wrap(err, "identity: generating peer id")
	}
	return id, nil
}
