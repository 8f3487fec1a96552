// Package tracker implements the HTTP announce client (C4): it composes
// the GET request spec.md §4.4 describes, decodes the bencoded response
// with internal/bencode, and parses the compact peer list.
package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"gorrent/internal/bencode"
	"gorrent/internal/xlog"
)

// Config carries the announce parameters that are fixed for the life of a
// download: our own peer id, the port we claim to listen on, and whether
// to request the compact peer list form (always true in practice, but
// named so callers can see the request shape).
type Config struct {
	PeerID  [20]byte
	Port    uint16
	Compact bool
}

// DefaultConfig returns a Config requesting compact responses on the
// conventional BitTorrent port range's first value.
func DefaultConfig(peerID [20]byte) Config {
	return Config{PeerID: peerID, Port: 6881, Compact: true}
}

// PeerEndpoint is one entry of a tracker's compact peer list.
type PeerEndpoint struct {
	IP   string
	Port uint16
}

func (p PeerEndpoint) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// percentEncodeBytes renders b as a raw-byte percent-encoded string, the
// way info_hash and peer_id must be sent: every byte as %XX regardless of
// whether it happens to be a printable ASCII character. url.QueryEscape
// is not used here because it treats the bytes as text and leaves some of
// them unescaped, which tracker implementations do not agree on.
func percentEncodeBytes(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for _, v := range b {
		out = append(out, '%')
		out = append(out, "0123456789ABCDEF"[v>>4])
		out = append(out, "0123456789ABCDEF"[v&0xF])
	}
	return string(out)
}

func buildAnnounceURL(announce string, infoHash [20]byte, length uint64, cfg Config) (string, error) {
	base, err := url.Parse(announce)
	if err != nil {
		return "", errors.Wrap(err, "tracker: parsing announce URL")
	}

	params := url.Values{
		"port":       []string{strconv.Itoa(int(cfg.Port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatUint(length, 10)},
	}
	if cfg.Compact {
		params.Set("compact", "1")
	}
	base.RawQuery = params.Encode()
	base.RawQuery += "&info_hash=" + percentEncodeBytes(infoHash[:])
	base.RawQuery += "&peer_id=" + percentEncodeBytes(cfg.PeerID[:])
	return base.String(), nil
}

// Announce issues the GET request and returns the peers the tracker
// reports. length is the torrent's total byte length (0 if unknown); it
// becomes the "left" query parameter.
func Announce(ctx context.Context, announceURL string, infoHash [20]byte, length uint64, cfg Config) ([]PeerEndpoint, error) {
	full, err := buildAnnounceURL(announceURL, infoHash, length, cfg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: building request")
	}

	xlog.Get().WithField("url", full).Debug("tracker: announcing")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: announce request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: reading response body")
	}

	return ParseResponse(body)
}

// ParseResponse decodes a tracker response body and extracts the peer
// list, or the failure reason / malformed-response error.
func ParseResponse(body []byte) ([]PeerEndpoint, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, errors.Wrap(err, "tracker: decoding response")
	}
	if !v.IsDict() {
		return nil, &BadResponseError{Reason: "response body is not a dict"}
	}

	if reason, ok := v.GetString("failure reason"); ok {
		return nil, &FailureError{Reason: reason}
	}

	peers, ok := v.GetBytes("peers")
	if !ok {
		return nil, &BadResponseError{Reason: "missing or non-string peers field"}
	}

	return parseCompactPeers(peers)
}

// parseCompactPeers splits a compact peer-list byte string into 6-byte
// records: ip(4) ++ port(2 big-endian).
func parseCompactPeers(raw []byte) ([]PeerEndpoint, error) {
	const recordSize = 6
	if len(raw)%recordSize != 0 {
		return nil, &BadResponseError{Reason: fmt.Sprintf("peers length %d is not a multiple of %d", len(raw), recordSize)}
	}

	count := len(raw) / recordSize
	peers := make([]PeerEndpoint, 0, count)
	for i := 0; i < count; i++ {
		rec := raw[i*recordSize : (i+1)*recordSize]
		ip := fmt.Sprintf("%d.%d.%d.%d", rec[0], rec[1], rec[2], rec[3])
		port := uint16(rec[4])<<8 | uint16(rec[5])
		peers = append(peers, PeerEndpoint{IP: ip, Port: port})
	}
	return peers, nil
}
