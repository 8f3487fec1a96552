package coordinator

import (
	"crypto/sha1"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorrent/internal/metainfo"
	"gorrent/internal/peerwire"
	"gorrent/internal/tracker"
)

// startMockPeer runs a single-connection peer that completes the
// handshake, advertises the given bitfield, accepts Interested, replies
// Unchoke, and serves every piece index in pieceData verbatim. If
// failFirstN > 0, the peer closes the first N connections immediately
// on accept, before any handshake, to simulate an unreliable peer.
func startMockPeer(t *testing.T, pieceData map[uint32][]byte, bitfieldByte byte, failFirstN int) tracker.PeerEndpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		attempt := 0
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			attempt++
			if attempt <= failFirstN {
				conn.Close()
				continue
			}
			go serveMockPeerConn(conn, pieceData, bitfieldByte)
		}
	}()

	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return tracker.PeerEndpoint{IP: "127.0.0.1", Port: uint16(port)}
}

func serveMockPeerConn(conn net.Conn, pieceData map[uint32][]byte, bitfieldByte byte) {
	defer conn.Close()

	buf := make([]byte, 68)
	if _, err := conn.Read(buf); err != nil {
		return
	}
	resp := make([]byte, 68)
	copy(resp, buf)
	conn.Write(resp)

	bf := &peerwire.Message{ID: peerwire.BitfieldMsg, Payload: []byte{bitfieldByte}}
	conn.Write(bf.Serialize())

	for {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case peerwire.Interested:
			unchoke := &peerwire.Message{ID: peerwire.Unchoke}
			conn.Write(unchoke.Serialize())
		case peerwire.Request:
			index := be32(msg.Payload[0:4])
			begin := be32(msg.Payload[4:8])
			length := be32(msg.Payload[8:12])
			full := pieceData[index]
			block := full[begin : begin+length]
			piece := peerwire.FormatPiece(index, begin, block)
			conn.Write(piece.Serialize())
		}
	}
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func buildMetainfo(t *testing.T, pieces [][]byte) (metainfo.TorrentMetainfo, map[uint32][]byte) {
	t.Helper()
	var pieceHashes strings.Builder
	data := make(map[uint32][]byte)
	total := 0
	for i, p := range pieces {
		h := sha1.Sum(p)
		pieceHashes.Write(h[:])
		data[uint32(i)] = p
		total += len(p)
	}

	pieceLen := len(pieces[0])
	raw := "d8:announce24:http://tracker.example/a4:infod6:lengthi" +
		strconv.Itoa(total) + "e4:name1:a12:piece lengthi" + strconv.Itoa(pieceLen) +
		"e6:pieces" + strconv.Itoa(pieceHashes.Len()) + ":" + pieceHashes.String() + "ee"

	meta, err := metainfo.Parse([]byte(raw))
	require.NoError(t, err)
	return meta, data
}

func TestDownloadSinglePeerHappyPath(t *testing.T) {
	pieces := [][]byte{
		bytesOf(0x11, 16),
		bytesOf(0x22, 16),
	}
	meta, data := buildMetainfo(t, pieces)
	endpoint := startMockPeer(t, data, 0xFF, 0)

	var localPeerID [20]byte
	cfg := NewDownloadConfig(WithPeerTimeout(2 * time.Second))
	c := New(meta, []tracker.PeerEndpoint{endpoint}, localPeerID, cfg)

	out, err := c.Download()
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, pieces[0]...), pieces[1]...), out)
}

func TestDownloadRetriesAcrossPeers(t *testing.T) {
	pieces := [][]byte{
		bytesOf(0xAA, 16),
		bytesOf(0xBB, 16),
	}
	meta, data := buildMetainfo(t, pieces)

	// peer A fails every connection attempt; peer B always succeeds.
	badPeer := startMockPeer(t, data, 0xFF, 1000)
	goodPeer := startMockPeer(t, data, 0xFF, 0)

	var localPeerID [20]byte
	cfg := NewDownloadConfig(WithPeerRetries(1), WithPeerTimeout(2*time.Second))
	c := New(meta, []tracker.PeerEndpoint{badPeer, goodPeer}, localPeerID, cfg)

	out, err := c.Download()
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, pieces[0]...), pieces[1]...), out)
}

// startCorruptingMockPeer behaves like startMockPeer but always answers
// Request with the wrong bytes, so every piece fails hash verification.
func startCorruptingMockPeer(t *testing.T) tracker.PeerEndpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
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

				for {
					msg, err := peerwire.ReadMessage(conn)
					if err != nil {
						return
					}
					if msg == nil {
						continue
					}
					switch msg.ID {
					case peerwire.Interested:
						unchoke := &peerwire.Message{ID: peerwire.Unchoke}
						conn.Write(unchoke.Serialize())
					case peerwire.Request:
						index := be32(msg.Payload[0:4])
						begin := be32(msg.Payload[4:8])
						length := be32(msg.Payload[8:12])
						block := bytesOf(0xFF^byte(begin), int(length))
						piece := peerwire.FormatPiece(index, begin, block)
						conn.Write(piece.Serialize())
					}
				}
			}(conn)
		}
	}()

	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return tracker.PeerEndpoint{IP: "127.0.0.1", Port: uint16(port)}
}

func TestDownloadExhaustsRetriesOnPersistentHashMismatch(t *testing.T) {
	pieces := [][]byte{bytesOf(0x33, 16)}
	meta, _ := buildMetainfo(t, pieces)
	endpoint := startCorruptingMockPeer(t)

	var localPeerID [20]byte
	cfg := NewDownloadConfig(WithPeerTimeout(2*time.Second), WithPieceRetries(2))
	c := New(meta, []tracker.PeerEndpoint{endpoint}, localPeerID, cfg)

	_, err := c.Download()
	require.Error(t, err)
	assert.IsType(t, &DownloadExhaustedError{}, err)
}

// TestDownloadExhaustsRetriesAcrossTwoPeers guards against a coordinator
// that busy-loops reconnecting forever once a piece's retries run out
// with more than one worker still registered: both peers here always
// corrupt the piece, so it must exhaust piece_retries and Download must
// still return rather than hang.
func TestDownloadExhaustsRetriesAcrossTwoPeers(t *testing.T) {
	pieces := [][]byte{bytesOf(0x44, 16)}
	meta, _ := buildMetainfo(t, pieces)
	peerA := startCorruptingMockPeer(t)
	peerB := startCorruptingMockPeer(t)

	var localPeerID [20]byte
	cfg := NewDownloadConfig(WithPeerTimeout(2*time.Second), WithPieceRetries(2))
	c := New(meta, []tracker.PeerEndpoint{peerA, peerB}, localPeerID, cfg)

	done := make(chan struct{})
	var downloadErr error
	go func() {
		_, downloadErr = c.Download()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Download did not terminate after both peers exhausted piece retries")
	}

	require.Error(t, downloadErr)
	assert.IsType(t, &DownloadExhaustedError{}, downloadErr)
}

// TestDownloadSinglePeerMissingPieceExhausts guards against popFor
// blocking forever when its sole peer's bitfield never covers a
// remaining piece: nothing else will ever make the piece available, so
// Download must report DownloadExhaustedError instead of hanging.
func TestDownloadSinglePeerMissingPieceExhausts(t *testing.T) {
	pieces := [][]byte{bytesOf(0x55, 16), bytesOf(0x66, 16)}
	meta, data := buildMetainfo(t, pieces)
	// 0x80 advertises only piece 0; piece 1 is never available.
	endpoint := startMockPeer(t, data, 0x80, 0)

	var localPeerID [20]byte
	cfg := NewDownloadConfig(WithPeerTimeout(2 * time.Second))
	c := New(meta, []tracker.PeerEndpoint{endpoint}, localPeerID, cfg)

	done := make(chan struct{})
	var downloadErr error
	go func() {
		_, downloadErr = c.Download()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Download hung waiting for a piece its sole peer will never have")
	}

	require.Error(t, downloadErr)
	var exhausted *DownloadExhaustedError
	require.ErrorAs(t, downloadErr, &exhausted)
	assert.Equal(t, 1, exhausted.Index)
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
