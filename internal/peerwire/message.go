// Package peerwire implements the length-prefixed peer-wire message
// framing: encode/decode for the ten frame kinds a downloading-only client
// handles: KeepAlive (a zero-length frame) plus the nine id-bearing
// messages Choke/Unchoke/Interested/NotInterested/Have/Bitfield/Request/
// Piece/Cancel.
package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a peer-wire message kind.
type ID uint8

const (
	Choke ID = iota
	Unchoke
	Interested
	NotInterested
	Have
	BitfieldMsg
	Request
	Piece
	Cancel
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case BitfieldMsg:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("ID(%d)", uint8(id))
	}
}

// Message is a single framed peer-wire message. A KeepAlive is represented
// as a nil *Message, per the teacher's convention (ReadMessage returns
// (nil, nil) for a zero-length frame).
type Message struct {
	ID      ID
	Payload []byte
}

// BadMessageLengthError is returned when a fixed-length message's payload
// length disagrees with the wire format.
type BadMessageLengthError struct {
	ID   ID
	Got  int
	Want int
}

func (e *BadMessageLengthError) Error() string {
	return fmt.Sprintf("peerwire: %s payload length %d, want %d", e.ID, e.Got, e.Want)
}

// UnknownMessageIDError is returned for a message id outside 0..8.
type UnknownMessageIDError struct{ ID byte }

func (e *UnknownMessageIDError) Error() string {
	return fmt.Sprintf("peerwire: unknown message id %d", e.ID)
}

// Serialize renders m as its wire frame: a big-endian u32 length followed
// by the id byte and payload. A nil *Message serializes to the 4-byte
// zero-length KeepAlive frame.
func (m *Message) Serialize() []byte {
	if m == nil {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// fixedLengths gives the expected payload length for messages whose
// payload has a fixed size. Have, Request, Cancel are fixed; Bitfield and
// Piece are variable and excluded from this table.
var fixedLengths = map[ID]int{
	Choke:         0,
	Unchoke:       0,
	Interested:    0,
	NotInterested: 0,
	Have:          4,
	Request:       12,
	Cancel:        12,
}

// Decode interprets payload (everything after the id byte) for the given
// id, validating fixed-length payloads against the wire format.
func Decode(id ID, payload []byte) (*Message, error) {
	if want, fixed := fixedLengths[id]; fixed {
		if len(payload) != want {
			return nil, &BadMessageLengthError{ID: id, Got: len(payload), Want: want}
		}
	}
	switch id {
	case Choke, Unchoke, Interested, NotInterested, Have, BitfieldMsg, Request, Piece, Cancel:
		return &Message{ID: id, Payload: payload}, nil
	default:
		return nil, &UnknownMessageIDError{ID: byte(id)}
	}
}

// ReadMessage reads one frame from r: a 4-byte big-endian length followed
// by that many payload bytes. Returns (nil, nil) for KeepAlive.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	id := ID(body[0])
	payload := body[1:]
	if int(id) > int(Cancel) {
		return nil, &UnknownMessageIDError{ID: body[0]}
	}
	return Decode(id, payload)
}

// FormatHave builds a Have message for the given piece index.
func FormatHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: Have, Payload: payload}
}

// FormatRequest builds a Request message.
func FormatRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: Request, Payload: payload}
}

// FormatCancel builds a Cancel message.
func FormatCancel(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: Cancel, Payload: payload}
}

// FormatPiece builds a Piece message.
func FormatPiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{ID: Piece, Payload: payload}
}

// ParsePiece extracts index, begin, block from a Piece message's payload.
func ParsePiece(m *Message) (index, begin uint32, block []byte, err error) {
	if m == nil || m.ID != Piece {
		return 0, 0, nil, fmt.Errorf("peerwire: expected Piece message")
	}
	if len(m.Payload) < 8 {
		return 0, 0, nil, &BadMessageLengthError{ID: Piece, Got: len(m.Payload), Want: 8}
	}
	index = binary.BigEndian.Uint32(m.Payload[0:4])
	begin = binary.BigEndian.Uint32(m.Payload[4:8])
	block = m.Payload[8:]
	return index, begin, block, nil
}

// ParseHave extracts the piece index from a Have message.
func ParseHave(m *Message) (uint32, error) {
	if m == nil || m.ID != Have {
		return 0, fmt.Errorf("peerwire: expected Have message")
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}
