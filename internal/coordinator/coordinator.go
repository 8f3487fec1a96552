// Package coordinator implements the download coordinator (C7): it turns
// a metainfo and a list of peer endpoints into one assembled file,
// scheduling piece work across one logical worker per peer and verifying
// every piece's SHA-1 before accepting it.
package coordinator

import (
	"bytes"
	"crypto/sha1"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gorrent/internal/metainfo"
	"gorrent/internal/peer"
	"gorrent/internal/tracker"
	"gorrent/internal/xlog"
)

// maxConsecutiveFailures bounds how many piece failures in a row a
// worker tolerates on one session before dropping it and reconnecting,
// per spec §4.7 step 4.
const maxConsecutiveFailures = 3

// blockSize mirrors the peer-wire block size (BEP-3's 16KiB convention)
// used as the burst capacity for an optional per-session rate limiter.
const blockSize = 16384

// Coordinator owns the shared piece-work queue and drives the download
// to completion.
type Coordinator struct {
	meta        metainfo.TorrentMetainfo
	peers       []tracker.PeerEndpoint
	localPeerID [20]byte
	cfg         DownloadConfig
	queue       *pieceQueue
}

// New builds a Coordinator for meta, to be serviced by the given peer
// endpoints.
func New(meta metainfo.TorrentMetainfo, peers []tracker.PeerEndpoint, localPeerID [20]byte, cfg DownloadConfig) *Coordinator {
	count := meta.Info.PieceCount()
	q := newPieceQueue(count, func(i int) int { return int(meta.Info.PieceSize(i)) })
	return &Coordinator{meta: meta, peers: peers, localPeerID: localPeerID, cfg: cfg, queue: q}
}

// Download drives every worker to completion and returns the assembled
// file bytes, or a *DownloadExhaustedError naming the first piece that
// never got a verified download.
func (c *Coordinator) Download() ([]byte, error) {
	if len(c.peers) == 0 {
		return nil, &DownloadExhaustedError{Index: 0}
	}
	if len(c.peers) == 1 {
		return c.downloadSinglePeer(c.peers[0])
	}

	var wg sync.WaitGroup
	for _, p := range c.peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(p)
		}()
	}
	wg.Wait()

	if idx := c.queue.firstMissing(); idx != -1 {
		return nil, &DownloadExhaustedError{Index: idx}
	}
	return c.queue.assemble(), nil
}

// downloadSinglePeer is the sequential fast path spec §4.7 permits when
// only one peer endpoint is known: connect once, then walk pieces in
// order instead of running the general worker loop.
func (c *Coordinator) downloadSinglePeer(endpoint tracker.PeerEndpoint) ([]byte, error) {
	sess, err := c.connectWithRetries(endpoint)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	c.queue.addWorker()
	defer c.queue.removeWorker()

	deadline := time.Now().Add(c.cfg.PeerTimeout)
	if err := sess.AwaitBitfield(deadline); err != nil {
		return nil, err
	}
	if err := sess.AwaitUnchoke(time.Now().Add(c.cfg.PeerTimeout)); err != nil {
		return nil, err
	}

	for {
		pw, ok := c.queue.popFor(sess.Bitfield)
		if !ok {
			break
		}
		if err := c.tryPiece(sess, pw); err != nil {
			xlog.With(map[string]interface{}{"piece": pw.Index, "err": err}).Debug("coordinator: piece attempt failed")
		}
	}

	if idx := c.queue.firstMissing(); idx != -1 {
		return nil, &DownloadExhaustedError{Index: idx}
	}
	return c.queue.assemble(), nil
}

// DownloadSinglePiece fetches exactly one piece, cycling through every
// known peer in turn (each dialed once plus up to cfg.PeerRetries retries)
// until one of them serves a hash-verified copy. This is the
// single-piece granularity the download_piece CLI subcommand needs, a
// bounded round-robin generalization of the single-peer fast path.
func (c *Coordinator) DownloadSinglePiece(index int) ([]byte, error) {
	count := c.meta.Info.PieceCount()
	if index < 0 || index >= count {
		return nil, &DownloadExhaustedError{Index: index}
	}
	length := int(c.meta.Info.PieceSize(index))
	want := c.meta.Info.PieceHash(index)

	for _, endpoint := range c.peers {
		sess, err := c.connectWithRetries(endpoint)
		if err != nil {
			continue
		}

		data, err := func() ([]byte, error) {
			defer sess.Close()
			deadline := time.Now().Add(c.cfg.PeerTimeout)
			if err := sess.AwaitBitfield(deadline); err != nil {
				return nil, err
			}
			if !sess.Bitfield.HasPiece(index) {
				return nil, &PieceNotAvailableError{Index: index}
			}
			if err := sess.AwaitUnchoke(time.Now().Add(c.cfg.PeerTimeout)); err != nil {
				return nil, err
			}
			return sess.DownloadPiece(uint32(index), length, time.Now().Add(c.cfg.PeerTimeout))
		}()
		if err != nil {
			xlog.With(map[string]interface{}{"peer": endpoint.String(), "err": err}).
				Debug("coordinator: single-piece attempt failed, trying next peer")
			continue
		}

		got := sha1.Sum(data)
		if !bytes.Equal(got[:], want[:]) {
			continue
		}
		return data, nil
	}
	return nil, &DownloadExhaustedError{Index: index}
}

// connectWithRetries dials and handshakes endpoint, retrying up to
// cfg.PeerRetries times with a backoff that starts at 250ms and doubles
// after each failure, before giving up entirely.
func (c *Coordinator) connectWithRetries(endpoint tracker.PeerEndpoint) (*peer.Session, error) {
	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= c.cfg.PeerRetries; attempt++ {
		sess, err := peer.Connect(endpoint.String(), c.localPeerID, c.meta.InfoHash(), c.cfg.PeerTimeout)
		if err == nil {
			sess.SetMaxInFlight(c.cfg.MaxInFlight)
			if c.cfg.RateLimitBytesPerSec > 0 {
				sess.SetRateLimiter(rate.NewLimiter(rate.Limit(c.cfg.RateLimitBytesPerSec), blockSize))
			}
			return sess, nil
		}
		lastErr = err
		xlog.With(map[string]interface{}{"peer": endpoint.String(), "attempt": attempt}).
			Debug("coordinator: connect failed, retrying")
		time.Sleep(backoff)
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	return nil, lastErr
}

// runWorker is the per-peer logical worker loop of spec §4.7 steps 1-5.
// It registers itself with the queue's deadlock detection for its entire
// lifetime, including the gaps between a dropped session and its
// reconnect, so a worker that is mid-backoff still counts as "active"
// rather than letting the remaining workers abandon work it might still
// serve once reconnected.
func (c *Coordinator) runWorker(endpoint tracker.PeerEndpoint) {
	c.queue.addWorker()
	defer c.queue.removeWorker()

	for {
		sess, err := c.connectWithRetries(endpoint)
		if err != nil {
			xlog.With(map[string]interface{}{"peer": endpoint.String()}).Debug("coordinator: retiring worker, out of peer retries")
			return
		}

		if err := c.serveFromSession(sess); err != nil {
			xlog.With(map[string]interface{}{"peer": endpoint.String(), "err": err}).Debug("coordinator: session ended, reconnecting")
		}
		sess.Close()

		if c.queue.done() {
			return
		}
	}
}

// serveFromSession runs one session through bitfield/interest setup and
// the piece-fetch loop until it drops maxConsecutiveFailures pieces in a
// row or the queue has nothing left for it.
func (c *Coordinator) serveFromSession(sess *peer.Session) error {
	deadline := time.Now().Add(c.cfg.PeerTimeout)
	if err := sess.AwaitBitfield(deadline); err != nil {
		return err
	}
	if err := sess.AwaitUnchoke(time.Now().Add(c.cfg.PeerTimeout)); err != nil {
		return err
	}

	consecutiveFailures := 0
	for {
		pw, ok := c.queue.popFor(sess.Bitfield)
		if !ok {
			return nil
		}
		if err := c.tryPiece(sess, pw); err != nil {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures {
				return err
			}
			continue
		}
		consecutiveFailures = 0
	}
}

// tryPiece downloads and verifies one piece, requeuing or permanently
// dropping it on failure per pw.Attempts and cfg.PieceRetries.
func (c *Coordinator) tryPiece(sess *peer.Session, pw *PieceWork) error {
	deadline := time.Now().Add(c.cfg.PeerTimeout)
	data, err := sess.DownloadPiece(uint32(pw.Index), pw.Length, deadline)
	if err != nil {
		c.requeueOrGiveUp(pw)
		return err
	}

	want := c.meta.Info.PieceHash(pw.Index)
	got := sha1.Sum(data)
	if !bytes.Equal(got[:], want[:]) {
		c.requeueOrGiveUp(pw)
		return &PieceHashMismatchError{Index: pw.Index}
	}

	c.queue.complete(pw.Index, data)
	sess.SendHave(uint32(pw.Index))
	return nil
}

func (c *Coordinator) requeueOrGiveUp(pw *PieceWork) {
	pw.Attempts++
	if pw.Attempts < c.cfg.PieceRetries {
		c.queue.pushBack(pw)
		return
	}
	c.queue.giveUp(pw)
}

// ProbeReachable dials every endpoint concurrently with a short timeout
// and returns only the ones that completed a handshake, so the coordinator
// never sinks a peer_retries budget on addresses that were never alive.
// Callers typically run this on a tracker's full peer list before
// constructing a Coordinator.
func ProbeReachable(endpoints []tracker.PeerEndpoint, localPeerID, infoHash [20]byte, timeout time.Duration) []tracker.PeerEndpoint {
	results := make([]bool, len(endpoints))
	var g errgroup.Group
	for i, e := range endpoints {
		i, e := i, e
		g.Go(func() error {
			sess, err := peer.Connect(e.String(), localPeerID, infoHash, timeout)
			if err != nil {
				return nil // unreachable peers are filtered, not fatal
			}
			sess.Close()
			results[i] = true
			return nil
		})
	}
	g.Wait() // errors are all nil by construction; reachability is read from results
	reachable := make([]tracker.PeerEndpoint, 0, len(endpoints))
	for i, ok := range results {
		if ok {
			reachable = append(reachable, endpoints[i])
		}
	}
	return reachable
}
