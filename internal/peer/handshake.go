package peer

import (
	"bytes"
	"io"

	"gorrent/internal/identity"
)

const protocolString = "BitTorrent protocol"

// handshakeSize is pstrlen(1) + pstr(19) + reserved(8) + info_hash(20) +
// peer_id(20) = 68.
const handshakeSize = 1 + len(protocolString) + 8 + 20 + 20

// handshake is the 68-byte image exchanged at the start of every peer
// connection.
type handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

func newHandshake(infoHash, peerID [20]byte) *handshake {
	return &handshake{Pstr: protocolString, InfoHash: infoHash, PeerID: peerID}
}

// serialize renders the handshake wire image: pstrlen, pstr, 8 reserved
// bytes (the extension-protocol bit per identity.ReservedBytes), info_hash,
// peer_id.
func (h *handshake) serialize() []byte {
	buf := make([]byte, handshakeSize)
	buf[0] = byte(len(h.Pstr))
	cursor := 1
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], identity.ReservedBytes[:])
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// readHandshake reads the remote's reply as one fixed 68-byte image: the
// pstrlen byte, then 67 more bytes whatever that byte says. A peer
// speaking a foreign or malformed protocol is not framed by its own
// pstrlen; verify rejects it by the content of the 19 pstr bytes.
func readHandshake(r io.Reader) (*handshake, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return nil, err
	}
	pstrlen := len(protocolString)
	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	h := &handshake{}
	h.Pstr = string(rest[:pstrlen])
	cursor := pstrlen + 8 // skip reserved bytes
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

func (h *handshake) verify(wantInfoHash [20]byte) error {
	if h.Pstr != protocolString {
		return &HandshakeMismatchError{Reason: "unexpected protocol string " + h.Pstr}
	}
	if !bytes.Equal(h.InfoHash[:], wantInfoHash[:]) {
		return &HandshakeMismatchError{Reason: "info hash mismatch"}
	}
	return nil
}
