package coordinator

import "time"

// DownloadConfig bounds how hard the coordinator tries before giving up,
// per spec §4.7. Defaults mirror the spec's literal numbers: 3 peer
// retries, a 10s peer timeout, 5 in-flight block requests, 3 piece
// retries. RateLimitBytesPerSec is an extension beyond the core (see
// SPEC_FULL.md §3); 0 means unlimited, matching the spec's default.
type DownloadConfig struct {
	PeerRetries          int
	PeerTimeout          time.Duration
	MaxInFlight          int
	PieceRetries         int
	RateLimitBytesPerSec int
}

// NewDownloadConfig returns the spec-mandated defaults, adjustable via the
// With* options below.
func NewDownloadConfig(opts ...DownloadOption) DownloadConfig {
	cfg := DownloadConfig{
		PeerRetries:          3,
		PeerTimeout:          10 * time.Second,
		MaxInFlight:          5,
		PieceRetries:         3,
		RateLimitBytesPerSec: 0,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DownloadOption customizes a DownloadConfig built by NewDownloadConfig.
type DownloadOption func(*DownloadConfig)

func WithPeerRetries(n int) DownloadOption {
	return func(c *DownloadConfig) { c.PeerRetries = n }
}

func WithPeerTimeout(d time.Duration) DownloadOption {
	return func(c *DownloadConfig) { c.PeerTimeout = d }
}

func WithMaxInFlight(n int) DownloadOption {
	return func(c *DownloadConfig) { c.MaxInFlight = n }
}

func WithPieceRetries(n int) DownloadOption {
	return func(c *DownloadConfig) { c.PieceRetries = n }
}

// WithRateLimit caps each session's block-request rate at n bytes/sec.
// n <= 0 leaves the default of unlimited.
func WithRateLimit(n int) DownloadOption {
	return func(c *DownloadConfig) { c.RateLimitBytesPerSec = n }
}
