package peer

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"gorrent/internal/peerwire"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestHandshakeWireImage(t *testing.T) {
	l := listen(t)

	infoHash := bytes.Repeat([]byte{0xAA}, 20)
	peerID := bytes.Repeat([]byte{0xBB}, 20)
	var infoHashArr, peerIDArr [20]byte
	copy(infoHashArr[:], infoHash)
	copy(peerIDArr[:], peerID)

	recorded := make(chan []byte, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 68)
		conn.Read(buf)
		recorded <- buf

		// echo back a valid handshake so Connect succeeds.
		conn.Write(buf)
	}()

	_, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.NoError(t, err)

	got := <-recorded
	want := append([]byte{19}, []byte("BitTorrent protocol")...)
	want = append(want, 0, 0, 0, 0, 0, 0x10, 0, 0)
	want = append(want, infoHash...)
	want = append(want, peerID...)
	assert.Equal(t, want, got)
}

func TestHandshakeMismatchRejected(t *testing.T) {
	l := listen(t)

	var infoHashArr, peerIDArr, wrongHash [20]byte
	for i := range infoHashArr {
		infoHashArr[i] = 0xAA
		wrongHash[i] = 0x01
	}

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 68)
		conn.Read(buf)

		resp := make([]byte, 68)
		resp[0] = 19
		copy(resp[1:20], "BitTorrent protocol")
		copy(resp[28:48], wrongHash[:])
		conn.Write(resp)
	}()

	_, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.Error(t, err)
	assert.IsType(t, &HandshakeMismatchError{}, err)
}

func TestHandshakeBadProtocolString(t *testing.T) {
	l := listen(t)
	var infoHashArr, peerIDArr [20]byte

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 68)
		conn.Read(buf)

		resp := make([]byte, 68)
		resp[0] = 20
		copy(resp[1:21], "Invalid protocol!!!!")
		conn.Write(resp)
	}()

	_, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.Error(t, err)
	assert.IsType(t, &HandshakeMismatchError{}, err)
}

// mockPeerServer accepts one connection, completes the handshake, sends a
// full bitfield, accepts Interested, sends Unchoke, then answers every
// Request with a Piece of fill bytes.
func mockPeerServer(t *testing.T, l net.Listener, pieceLen int, fill byte) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 68)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		resp := make([]byte, 68)
		copy(resp, buf) // echo same info_hash back, random peer id is fine
		conn.Write(resp)

		bf := &peerwire.Message{ID: peerwire.BitfieldMsg, Payload: []byte{0xFF}}
		conn.Write(bf.Serialize())

		// consume Interested
		readOneMessage(conn)

		unchoke := &peerwire.Message{ID: peerwire.Unchoke}
		conn.Write(unchoke.Serialize())

		served := 0
		for served < pieceLen {
			msg := readOneMessage(conn)
			if msg == nil || msg.ID != peerwire.Request {
				continue
			}
			_, begin, length := parseRequestPayload(msg.Payload)
			block := make([]byte, length)
			for i := range block {
				block[i] = fill
			}
			piece := peerwire.FormatPiece(0, begin, block)
			conn.Write(piece.Serialize())
			served += int(length)
		}
	}()
}

func readOneMessage(conn net.Conn) *peerwire.Message {
	msg, err := peerwire.ReadMessage(conn)
	if err != nil {
		return nil
	}
	return msg
}

func parseRequestPayload(p []byte) (index, begin, length uint32) {
	index = binary.BigEndian.Uint32(p[0:4])
	begin = binary.BigEndian.Uint32(p[4:8])
	length = binary.BigEndian.Uint32(p[8:12])
	return
}

func TestSingleBlockDownload(t *testing.T) {
	l := listen(t)
	mockPeerServer(t, l, 16384, 0x2A)

	var infoHashArr, peerIDArr [20]byte
	sess, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.NoError(t, err)
	defer sess.Close()

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, sess.AwaitBitfield(deadline))
	require.True(t, sess.Bitfield.HasPiece(0))
	require.NoError(t, sess.AwaitUnchoke(deadline))

	data, err := sess.DownloadPiece(0, 16384, deadline)
	require.NoError(t, err)
	assert.Len(t, data, 16384)
	for _, b := range data {
		assert.Equal(t, byte(0x2A), b)
	}
}

// TestMaxInFlightLimitsPipelineDepth proves SetMaxInFlight actually caps
// DownloadPiece's pipeline depth: the mock server stalls every reply
// until the client stops sending new requests on its own, then reports
// how many arrived before the client waited for a response.
func TestMaxInFlightLimitsPipelineDepth(t *testing.T) {
	l := listen(t)
	const pieceLen = 16384 * 4
	inFlightCount := make(chan int, 1)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 68)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		resp := make([]byte, 68)
		copy(resp, buf)
		conn.Write(resp)

		bf := &peerwire.Message{ID: peerwire.BitfieldMsg, Payload: []byte{0xFF}}
		conn.Write(bf.Serialize())
		readOneMessage(conn) // Interested
		unchoke := &peerwire.Message{ID: peerwire.Unchoke}
		conn.Write(unchoke.Serialize())

		type pendingReq struct{ begin, length uint32 }
		var pending []pendingReq
		for {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			msg, err := peerwire.ReadMessage(conn)
			if err != nil {
				break // client has stopped sending without a freed slot
			}
			if msg == nil || msg.ID != peerwire.Request {
				continue
			}
			_, begin, length := parseRequestPayload(msg.Payload)
			pending = append(pending, pendingReq{begin, length})
		}
		inFlightCount <- len(pending)
		conn.SetReadDeadline(time.Time{})

		served := 0
		answer := func(r pendingReq) {
			block := make([]byte, r.length)
			piece := peerwire.FormatPiece(0, r.begin, block)
			conn.Write(piece.Serialize())
			served += int(r.length)
		}
		for _, r := range pending {
			answer(r)
		}
		for served < pieceLen {
			msg, err := peerwire.ReadMessage(conn)
			if err != nil {
				return
			}
			if msg == nil || msg.ID != peerwire.Request {
				continue
			}
			_, begin, length := parseRequestPayload(msg.Payload)
			answer(pendingReq{begin, length})
		}
	}()

	var infoHashArr, peerIDArr [20]byte
	sess, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.NoError(t, err)
	defer sess.Close()
	sess.SetMaxInFlight(2)

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, sess.AwaitBitfield(deadline))
	require.NoError(t, sess.AwaitUnchoke(deadline))

	data, err := sess.DownloadPiece(0, pieceLen, deadline)
	require.NoError(t, err)
	assert.Len(t, data, pieceLen)
	assert.Equal(t, 2, <-inFlightCount)
}

// TestRateLimiterThrottlesBlockRequests proves a non-nil limiter actually
// paces requests rather than being dead weight: a burst-sized-to-one-block
// limiter refilling at one block/sec must make a two-block download take
// close to a second.
func TestRateLimiterThrottlesBlockRequests(t *testing.T) {
	l := listen(t)
	mockPeerServer(t, l, 16384*2, 0x05)

	var infoHashArr, peerIDArr [20]byte
	sess, err := Connect(l.Addr().String(), peerIDArr, infoHashArr, time.Second)
	require.NoError(t, err)
	defer sess.Close()
	sess.SetRateLimiter(rate.NewLimiter(rate.Limit(16384), 16384))

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, sess.AwaitBitfield(deadline))
	require.NoError(t, sess.AwaitUnchoke(deadline))

	start := time.Now()
	data, err := sess.DownloadPiece(0, 16384*2, deadline)
	require.NoError(t, err)
	assert.Len(t, data, 16384*2)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}
