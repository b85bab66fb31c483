package connector

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// FrameLimiter throttles outbound subscribe-frame bursts per venue so a connector
// that packs many subscriptions into one-frame-per-subscription (Bitfinex-style)
// doesn't trip a venue's connection rate limit. ReportViolation/ResetBackoff add
// adaptive backoff on top of the fixed rate, mirroring the priority rate limiter's
// interval doubling in the original source this module was distilled from.
type FrameLimiter struct {
	limiter  *rate.Limiter
	baseRate rate.Limit
	minRate  rate.Limit
}

// NewFrameLimiter allows framesPerSecond outbound frames, bursting up to burst.
func NewFrameLimiter(framesPerSecond float64, burst int) *FrameLimiter {
	base := rate.Limit(framesPerSecond)
	return &FrameLimiter{
		limiter:  rate.NewLimiter(base, burst),
		baseRate: base,
		minRate:  base / 16,
	}
}

func (f *FrameLimiter) Wait(ctx context.Context) error {
	if f == nil || f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

// ReportViolation halves the outbound frame rate, down to a floor of 1/16th the
// configured rate, after the venue rejects a subscribe burst as too fast.
func (f *FrameLimiter) ReportViolation() {
	if f == nil || f.limiter == nil {
		return
	}
	next := f.limiter.Limit() / 2
	if next < f.minRate {
		next = f.minRate
	}
	f.limiter.SetLimit(next)
}

// ResetBackoff restores the configured outbound frame rate after a clean subscribe.
func (f *FrameLimiter) ResetBackoff() {
	if f == nil || f.limiter == nil {
		return
	}
	f.limiter.SetLimit(f.baseRate)
}

// Dial opens a WebSocket connection to rawURL. A URL parse failure and a dial
// failure are both returned as a *domain.SocketError for the caller to classify
// (fatal on first attempt, terminal-for-connection on reconnects).
func Dial(ctx context.Context, rawURL string, handshakeTimeout time.Duration) (*websocket.Conn, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, domain.NewSocketError("parse-url", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, domain.NewSocketError("dial", err)
	}
	return conn, nil
}

// SendFrames writes each frame in order, waiting on limiter between writes.
func SendFrames(ctx context.Context, conn *websocket.Conn, frames []WireMessage, limiter *FrameLimiter) error {
	for _, f := range frames {
		if err := limiter.Wait(ctx); err != nil {
			return domain.NewSocketError("rate-limit-wait", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, f.Payload); err != nil {
			return domain.NewSocketError("write", err)
		}
	}
	return nil
}
