// Package stream implements C6: the single-venue stream consumer and reconnect
// supervisor. One Consumer drives one (venue, single-kind batch) connection:
// dial, map/validate, pump frames through a transform, backoff and retry on
// terminal failure, and surface Reconnecting sentinels to downstream consumers.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/mapper"
	"github.com/sawpanic/marketdata-core/internal/metrics"
)

// TransformFunc matches the signature shared by transform.Stateless's per-kind
// methods and transform.Stateful.Book: parse+route one frame to 0..N MarketEvents
// (a venue can batch several fills into a single WS frame), err is non-nil only
// for terminal or recoverable data errors. A nil slice with a nil error means the
// frame should be silently skipped.
type TransformFunc[T any] func(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, T], error)

// Consumer drives a single venue connection for one (ExchangeId, SubscriptionKind)
// batch, per §4.5. KindLabel is used only for the messages-in metric.
type Consumer[T any] struct {
	Exchange  domain.ExchangeId
	KindLabel string
	Conn      connector.Connector
	Subs      []domain.Subscription
	Transform TransformFunc[T]

	// OnReconnect resets any stateful transform (the L2 sequencer) before a fresh
	// connection attempt; nil for stateless kinds.
	OnReconnect func()

	Out     chan domain.MarketStreamEvent[domain.InstrumentKey, T]
	Metrics *metrics.Registry
	Log     zerolog.Logger
	Breaker *gobreaker.CircuitBreaker
	Limiter *connector.FrameLimiter

	HandshakeTimeout time.Duration
	SubscribeTimeout time.Duration
	BackoffInitial   time.Duration
	BackoffCap       time.Duration
}

func (c *Consumer[T]) backoffInitial() time.Duration {
	if c.BackoffInitial > 0 {
		return c.BackoffInitial
	}
	return DefaultBackoffInitial
}

func (c *Consumer[T]) backoffCap() time.Duration {
	if c.BackoffCap > 0 {
		return c.BackoffCap
	}
	return DefaultBackoffCap
}

func (c *Consumer[T]) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return 10 * time.Second
}

func (c *Consumer[T]) subscribeTimeout() time.Duration {
	if c.SubscribeTimeout > 0 {
		return c.SubscribeTimeout
	}
	return 10 * time.Second
}

// Run drives the reconnect loop until ctx is cancelled. Per §7, only a failure to
// establish the very first connection (dial, subscribe, validate) is fatal-to-caller;
// a terminal error anywhere after that first connection is established — including
// mid-stream on that same first connection — always triggers backoff and reconnect.
func (c *Consumer[T]) Run(ctx context.Context) error {
	backoff := c.backoffInitial()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		attempt++

		conn, frames, err := c.connect(ctx, &backoff)
		if err != nil {
			if attempt == 1 {
				return err
			}
			if !c.waitAndReconnect(ctx, err, &backoff) {
				return nil
			}
			continue
		}

		err = c.pump(ctx, conn, frames, &backoff)
		conn.Close()
		if err == nil {
			return nil // ctx cancelled cleanly inside the pump loop
		}
		if !c.waitAndReconnect(ctx, err, &backoff) {
			return nil
		}
	}
}

// waitAndReconnect logs the failure, emits the Reconnecting sentinel, and sleeps
// out the current backoff. It returns false if ctx was cancelled during the wait.
func (c *Consumer[T]) waitAndReconnect(ctx context.Context, err error, backoff *time.Duration) bool {
	c.Log.Warn().Err(err).Str("exchange", string(c.Exchange)).Msg("connection terminated, reconnecting")
	if c.Metrics != nil {
		c.Metrics.Reconnects.WithLabelValues(string(c.Exchange)).Inc()
	}
	c.emitReconnecting(ctx)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff = nextBackoff(*backoff, c.backoffCap())
	return true
}

// emitReconnecting delivers the Reconnecting sentinel on Out, blocking until it is
// received or ctx is cancelled.
func (c *Consumer[T]) emitReconnecting(ctx context.Context) {
	select {
	case c.Out <- domain.Reconnecting[domain.InstrumentKey, T](c.Exchange):
	case <-ctx.Done():
	}
}

type rawFrame struct {
	data []byte
	err  error
}

// chanFrameReader adapts a channel fed by a single background reader goroutine to
// mapper.FrameReader, so the validator and the pump loop never issue concurrent
// ReadMessage calls against the same *websocket.Conn (gorilla/websocket requires a
// single reader goroutine per connection).
type chanFrameReader struct {
	frames <-chan rawFrame
}

func (r chanFrameReader) ReadMessage() (int, []byte, error) {
	f, ok := <-r.frames
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, f.data, f.err
}

// connect performs one full connection establishment: dial, start the connection's
// single reader goroutine, map+subscribe+validate, and replay any frames buffered
// during validation. On success the returned conn and frames channel are ready for
// pump; on error the caller classifies fatal-vs-reconnect based on attempt number.
func (c *Consumer[T]) connect(ctx context.Context, backoff *time.Duration) (*websocket.Conn, <-chan rawFrame, error) {
	if c.OnReconnect != nil {
		c.OnReconnect()
	}

	dial := func() (interface{}, error) {
		return connector.Dial(ctx, c.Conn.URL(), c.handshakeTimeout())
	}

	var connAny interface{}
	var err error
	if c.Breaker != nil {
		connAny, err = c.Breaker.Execute(dial)
	} else {
		connAny, err = dial()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, domain.NewSocketError("circuit-open", err)
		}
		return nil, nil, err
	}
	conn := connAny.(*websocket.Conn)

	// A single goroutine owns conn.ReadMessage for this connection's entire
	// lifetime; both Validate and pump consume from the same channel.
	frames := make(chan rawFrame, 32)
	readerDone := make(chan struct{})
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			select {
			case frames <- rawFrame{data: data, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	abort := func(err error) (*websocket.Conn, <-chan rawFrame, error) {
		close(readerDone)
		conn.Close()
		return nil, nil, err
	}

	m, err := mapper.Map(c.Conn, c.Subs)
	if err != nil {
		return abort(err)
	}
	subscribeStart := time.Now()
	if err := connector.SendFrames(ctx, conn, m.Frames, c.Limiter); err != nil {
		return abort(err)
	}

	expected := c.Conn.ExpectedResponses(c.Subs)
	validated, err := mapper.Validate(ctx, c.Conn, chanFrameReader{frames: frames}, expected, c.subscribeTimeout())
	if err != nil {
		var subErr *domain.SubscribeError
		if errors.As(err, &subErr) {
			c.Limiter.ReportViolation()
		}
		return abort(err)
	}
	c.Limiter.ResetBackoff()
	if c.Metrics != nil {
		c.Metrics.SubscribeLatency.WithLabelValues(string(c.Exchange)).Observe(time.Since(subscribeStart).Seconds())
	}

	for _, raw := range validated.Buffered {
		if err := c.processFrame(ctx, raw, backoff); err != nil {
			return abort(err)
		}
	}

	// readerDone is closed by pump's caller via conn.Close() triggering a read
	// error that unblocks the reader goroutine; no separate teardown needed here.
	return conn, frames, nil
}

func (c *Consumer[T]) pump(ctx context.Context, conn *websocket.Conn, frames <-chan rawFrame, backoff *time.Duration) error {
	var pingTicker *time.Ticker
	var pingC <-chan time.Time
	if policy := c.Conn.Ping(); policy != nil {
		pingTicker = time.NewTicker(policy.Interval)
		defer pingTicker.Stop()
		pingC = pingTicker.C
	}

	var heartbeatTimeout time.Duration
	var heartbeat *time.Timer
	var heartbeatC <-chan time.Time
	if d, ok := c.Conn.HeartbeatInterval(); ok {
		heartbeatTimeout = d
		heartbeat = time.NewTimer(d)
		defer heartbeat.Stop()
		heartbeatC = heartbeat.C
	}
	resetHeartbeat := func() {
		if heartbeat == nil {
			return
		}
		if !heartbeat.Stop() {
			select {
			case <-heartbeat.C:
			default:
			}
		}
		heartbeat.Reset(heartbeatTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeatC:
			return domain.NewSocketError("heartbeat", errors.New("no frames within heartbeat interval"))
		case <-pingC:
			policy := c.Conn.Ping()
			payload := policy.Build()
			msgType := websocket.TextMessage
			if payload == nil {
				msgType = websocket.PingMessage
			}
			if err := conn.WriteMessage(msgType, payload); err != nil {
				return domain.NewSocketError("ping-write", err)
			}
		case f, ok := <-frames:
			if !ok {
				return domain.NewSocketError("read", errors.New("frame channel closed"))
			}
			if f.err != nil {
				return domain.NewSocketError("read", f.err)
			}
			resetHeartbeat()
			if err := c.processFrame(ctx, f.data, backoff); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer[T]) processFrame(ctx context.Context, raw []byte, backoff *time.Duration) error {
	pm := c.Conn.ParseMessage(raw)
	evs, err := c.Transform(pm)
	if err != nil {
		var dataErr *domain.DataError
		if errors.As(err, &dataErr) && dataErr.Kind == domain.DataErrorInvalidSequence {
			if c.Metrics != nil {
				c.Metrics.Desyncs.WithLabelValues(string(c.Exchange)).Inc()
			}
			return err
		}
		c.Log.Warn().Err(err).Str("exchange", string(c.Exchange)).Msg("recoverable parse error, skipping frame")
		return nil
	}
	if len(evs) == 0 {
		return nil
	}

	*backoff = c.backoffInitial()
	for _, ev := range evs {
		if c.Metrics != nil {
			c.Metrics.MessagesIn.WithLabelValues(string(c.Exchange), c.KindLabel).Inc()
		}
		select {
		case c.Out <- domain.Item[domain.InstrumentKey, T](ev):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
