// Package peer implements a BitTorrent peer session (C6): the TCP
// handshake, the choke/interest state machine, and block-level piece
// download. A Session never seeds — Request and Cancel messages from the
// remote are dropped, and this core never answers them with Piece.
package peer

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"gorrent/internal/bitfield"
	"gorrent/internal/peerwire"
)

// maxBlockSize is the largest block this session will request in a single
// Request message.
const maxBlockSize = 16384

// maxInFlightDefault is the default pipeline depth for a single piece
// download, matching the teacher's upstream source (BEP-3 recommends 5).
const maxInFlightDefault = 5

// Session owns a TCP connection to one peer. AmChoking starts true,
// AmInterested false, PeerChoking true, PeerInterested false, per §4.6.
type Session struct {
	Addr         string
	conn         net.Conn
	RemotePeerID *[20]byte

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	Bitfield bitfield.Bitfield

	localPeerID [20]byte
	infoHash    [20]byte
	limiter     *rate.Limiter
	maxInFlight int
}

// Connect dials addr, completes the handshake, and returns a Session
// positioned to receive the remote's Bitfield/Have traffic. The dial and
// handshake are both bounded by timeout.
func Connect(addr string, localPeerID, infoHash [20]byte, timeout time.Duration) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &IOError{Endpoint: addr, Cause: err}
	}

	s := &Session{
		Addr:        addr,
		conn:        conn,
		AmChoking:   true,
		PeerChoking: true,
		localPeerID: localPeerID,
		infoHash:    infoHash,
		maxInFlight: maxInFlightDefault,
	}

	if err := s.handshake(timeout); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// SetRateLimiter attaches an optional per-session block-request limiter.
// A nil limiter (the default) means unlimited, matching the spec's
// default behavior — this is an extension beyond the core, off unless a
// caller opts in.
func (s *Session) SetRateLimiter(l *rate.Limiter) {
	s.limiter = l
}

// SetMaxInFlight overrides the pipeline depth DownloadPiece uses for a
// single piece's block requests (spec §4.7's max_in_flight tunable).
// n <= 0 is ignored, leaving maxInFlightDefault in effect.
func (s *Session) SetMaxInFlight(n int) {
	if n > 0 {
		s.maxInFlight = n
	}
}

func (s *Session) handshake(timeout time.Duration) error {
	if s.conn == nil {
		return &NotConnectedError{}
	}
	s.conn.SetDeadline(time.Now().Add(timeout))
	defer s.conn.SetDeadline(time.Time{})

	req := newHandshake(s.infoHash, s.localPeerID)
	if _, err := s.conn.Write(req.serialize()); err != nil {
		return &IOError{Endpoint: s.Addr, Cause: err}
	}

	resp, err := readHandshake(s.conn)
	if err != nil {
		return &IOError{Endpoint: s.Addr, Cause: err}
	}
	if err := resp.verify(s.infoHash); err != nil {
		return err
	}

	remoteID := resp.PeerID
	s.RemotePeerID = &remoteID
	return nil
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Session) send(m *peerwire.Message) error {
	if s.conn == nil {
		return &NotConnectedError{}
	}
	if _, err := s.conn.Write(m.Serialize()); err != nil {
		return &IOError{Endpoint: s.Addr, Cause: err}
	}
	return nil
}

// SendInterested sends Interested exactly once per session, per §4.6.
func (s *Session) SendInterested() error {
	if s.AmInterested {
		return nil
	}
	if err := s.send(&peerwire.Message{ID: peerwire.Interested}); err != nil {
		return err
	}
	s.AmInterested = true
	return nil
}

// SendHave announces a newly completed piece to this peer.
func (s *Session) SendHave(index uint32) error {
	return s.send(peerwire.FormatHave(index))
}

// read pulls one message off the wire, applying the session's deadline.
func (s *Session) read(deadline time.Time) (*peerwire.Message, error) {
	if s.conn == nil {
		return nil, &NotConnectedError{}
	}
	s.conn.SetDeadline(deadline)
	msg, err := peerwire.ReadMessage(s.conn)
	if err != nil {
		return nil, &IOError{Endpoint: s.Addr, Cause: err}
	}
	return msg, nil
}

// applyMessage folds a received message into session state per the
// transition table in §4.6. Request/Cancel are dropped (this core never
// seeds).
func (s *Session) applyMessage(msg *peerwire.Message) error {
	if msg == nil {
		return nil // KeepAlive: transparent
	}
	switch msg.ID {
	case peerwire.Choke:
		s.PeerChoking = true
	case peerwire.Unchoke:
		s.PeerChoking = false
	case peerwire.Interested:
		s.PeerInterested = true
	case peerwire.NotInterested:
		s.PeerInterested = false
	case peerwire.Have:
		index, err := peerwire.ParseHave(msg)
		if err != nil {
			return err
		}
		s.Bitfield.SetPiece(int(index))
	case peerwire.BitfieldMsg:
		s.Bitfield = append(bitfield.Bitfield{}, msg.Payload...)
	case peerwire.Request, peerwire.Cancel:
		// this core never seeds; silently drop
	case peerwire.Piece:
		// handled by the piece-download loop, not here
	}
	return nil
}

// AwaitBitfield blocks until the remote's Bitfield arrives, tolerating
// interleaved KeepAlive. A peer that sends Have messages before ever
// sending a Bitfield is folded in via applyMessage as they arrive; a peer
// that sends neither is left with an empty (all-absent) bitfield once the
// deadline is reached, per §4.6's "treated as advertising no pieces"
// clause — callers that need a response within a bound should pass a
// timeout-bearing deadline and treat ErrDeadlineExceeded as "no pieces".
func (s *Session) AwaitBitfield(deadline time.Time) error {
	for {
		msg, err := s.read(deadline)
		if err != nil {
			return err
		}
		if msg == nil {
			continue // KeepAlive
		}
		if err := s.applyMessage(msg); err != nil {
			return err
		}
		if msg.ID == peerwire.BitfieldMsg {
			return nil
		}
		// Have/Choke/etc. before the Bitfield are folded in and we keep
		// waiting; anything else this early is still tolerated because
		// §4.6 only promises the Bitfield is "typically first", not
		// guaranteed first.
	}
}

// AwaitUnchoke sends Interested and blocks until Unchoke, tolerating
// KeepAlive and redundant Choke.
func (s *Session) AwaitUnchoke(deadline time.Time) error {
	if err := s.SendInterested(); err != nil {
		return err
	}
	for {
		msg, err := s.read(deadline)
		if err != nil {
			return err
		}
		if err := s.applyMessage(msg); err != nil {
			return err
		}
		if !s.PeerChoking {
			return nil
		}
	}
}

// blockRequest is one in-flight 16KiB-or-less request within a piece.
type blockRequest struct {
	begin  uint32
	length uint32
}

// DownloadPiece requests piece index (of the given length) in consecutive
// <=16KiB blocks, pipelining up to maxInFlight requests, and returns the
// assembled bytes once all of them arrive. Each received Piece must match
// the block currently expected; divergence is an UnexpectedPieceError.
// deadline bounds the whole call (idle connection -> I/O timeout).
func (s *Session) DownloadPiece(index uint32, length int, deadline time.Time) ([]byte, error) {
	if s.conn == nil {
		return nil, &NotConnectedError{}
	}

	buf := make([]byte, length)
	var requested, downloaded int
	var inFlight []blockRequest

	sendMore := func() error {
		for len(inFlight) < s.maxInFlight && requested < length {
			blockLen := maxBlockSize
			if length-requested < blockLen {
				blockLen = length - requested
			}
			if s.limiter != nil {
				if err := s.limiter.WaitN(context.Background(), blockLen); err != nil {
					return errors.Wrap(err, "peer: rate limiter wait")
				}
			}
			if err := s.send(peerwire.FormatRequest(index, uint32(requested), uint32(blockLen))); err != nil {
				return err
			}
			inFlight = append(inFlight, blockRequest{begin: uint32(requested), length: uint32(blockLen)})
			requested += blockLen
		}
		return nil
	}

	for downloaded < length {
		if !s.PeerChoking {
			if err := sendMore(); err != nil {
				return nil, err
			}
		}

		msg, err := s.read(deadline)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue // KeepAlive
		}
		switch msg.ID {
		case peerwire.Piece:
			pIndex, pBegin, block, err := peerwire.ParsePiece(msg)
			if err != nil {
				return nil, err
			}
			if len(inFlight) == 0 || pIndex != index || pBegin != inFlight[0].begin {
				return nil, &UnexpectedPieceError{
					WantIndex: index, WantBegin: firstBegin(inFlight),
					GotIndex: pIndex, GotBegin: pBegin,
				}
			}
			want := inFlight[0]
			if uint32(len(block)) != want.length {
				return nil, &UnexpectedPieceError{
					WantIndex: index, WantBegin: want.begin,
					GotIndex: pIndex, GotBegin: pBegin,
				}
			}
			copy(buf[want.begin:], block)
			downloaded += len(block)
			inFlight = inFlight[1:]
		default:
			if err := s.applyMessage(msg); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

func firstBegin(q []blockRequest) uint32 {
	if len(q) == 0 {
		return 0
	}
	return q[0].begin
}

// ExpectMessage reads one message and requires it to have the given id,
// returning an UnexpectedMessageError otherwise. Used by callers that
// need a specific reply outside the bitfield/unchoke waits above.
func (s *Session) ExpectMessage(id peerwire.ID, deadline time.Time) (*peerwire.Message, error) {
	msg, err := s.read(deadline)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.ID != id {
		got := "KeepAlive"
		if msg != nil {
			got = msg.ID.String()
		}
		return nil, &UnexpectedMessageError{Expected: id.String(), Got: got}
	}
	return msg, nil
}
