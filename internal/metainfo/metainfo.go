// Package metainfo projects a decoded bencode value into the typed view of
// a single-file torrent that the rest of this module operates on, and
// computes the info-hash that identifies it.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"gorrent/internal/bencode"
)

const hashSize = 20

// MalformedMetainfoError is returned when a required field in the info
// dictionary (or the top-level dict) is missing or has the wrong type.
type MalformedMetainfoError struct{ Field string }

func (e *MalformedMetainfoError) Error() string {
	return fmt.Sprintf("metainfo: malformed or missing field %q", e.Field)
}

// TorrentInfo is the typed projection of the info dictionary of a
// single-file torrent.
type TorrentInfo struct {
	Name        string
	Length      uint64
	PieceLength uint32
	Pieces      []byte // concatenation of 20-byte SHA-1 hashes

	raw bencode.BValue // the decoded info sub-dict, for canonical re-encoding
}

// PieceCount returns the number of pieces described by Pieces.
func (ti TorrentInfo) PieceCount() int {
	return len(ti.Pieces) / hashSize
}

// PieceSize returns the size in bytes of piece i. The last piece is
// shorter than PieceLength unless Length is an exact multiple of
// PieceLength, in which case every piece including the last is full size.
func (ti TorrentInfo) PieceSize(i int) uint64 {
	count := ti.PieceCount()
	if i < count-1 {
		return uint64(ti.PieceLength)
	}
	last := ti.Length - uint64(ti.PieceLength)*uint64(count-1)
	return last
}

// PieceHash returns the expected 20-byte SHA-1 hash of piece i.
func (ti TorrentInfo) PieceHash(i int) [hashSize]byte {
	var h [hashSize]byte
	copy(h[:], ti.Pieces[i*hashSize:(i+1)*hashSize])
	return h
}

// TorrentMetainfo is the decoded view of a .torrent file: an optional
// announce URL plus the typed info dictionary.
type TorrentMetainfo struct {
	Announce string
	Info     TorrentInfo
}

// Parse decodes raw .torrent bytes into a TorrentMetainfo. It requires the
// top-level value to be a dict with an "info" dict (name, length,
// piece length, pieces) and an optional "announce" byte string. Any
// missing or mistyped field produces a *MalformedMetainfoError.
func Parse(raw []byte) (TorrentMetainfo, error) {
	v, err := bencode.Decode(raw)
	if err != nil {
		return TorrentMetainfo{}, err
	}
	if !v.IsDict() {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "<root>"}
	}

	announce, _ := v.GetString("announce") // optional

	infoVal, ok := v.GetDict("info")
	if !ok {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "info"}
	}

	name, ok := infoVal.GetString("name")
	if !ok {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "info.name"}
	}
	length, ok := infoVal.GetInt("length")
	if !ok || length < 0 {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "info.length"}
	}
	pieceLength, ok := infoVal.GetInt("piece length")
	if !ok || pieceLength <= 0 || pieceLength > 1<<32-1 {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "info.piece length"}
	}
	pieces, ok := infoVal.GetBytes("pieces")
	if !ok || len(pieces) == 0 || len(pieces)%hashSize != 0 {
		return TorrentMetainfo{}, &MalformedMetainfoError{Field: "info.pieces"}
	}

	return TorrentMetainfo{
		Announce: announce,
		Info: TorrentInfo{
			Name:        name,
			Length:      uint64(length),
			PieceLength: uint32(pieceLength),
			Pieces:      pieces,
			raw:         infoVal,
		},
	}, nil
}

// InfoHash returns the 20-byte SHA-1 of the canonical bencode re-encoding
// of the info sub-dictionary. This must operate on the decoded BValue, not
// on a re-serialization of TorrentInfo's Go fields through a text format —
// Pieces is not valid UTF-8 and a text round trip would corrupt it.
func (tm TorrentMetainfo) InfoHash() [hashSize]byte {
	encoded := bencode.Encode(tm.Info.raw)
	return sha1.Sum(encoded)
}

// String renders a human-readable summary: tracker URL, length, info-hash,
// piece length, and the hex of every piece hash, one per line. This backs
// the CLI's "info" subcommand.
func (tm TorrentMetainfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracker URL: %s\n", tm.Announce)
	fmt.Fprintf(&b, "Length: %d\n", tm.Info.Length)
	hash := tm.InfoHash()
	fmt.Fprintf(&b, "Info Hash: %x\n", hash)
	fmt.Fprintf(&b, "Piece Length: %d\n", tm.Info.PieceLength)
	fmt.Fprintln(&b, "Piece Hashes:")
	for i := 0; i < tm.Info.PieceCount(); i++ {
		fmt.Fprintf(&b, "%x\n", tm.Info.PieceHash(i))
	}
	return b.String()
}
