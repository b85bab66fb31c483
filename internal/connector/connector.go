// Package connector implements the venue connector contract (C2): URL, channel and
// market naming, subscribe-frame construction, subscribe-response validation, and
// ping/heartbeat policy, for each of the four reference venues.
package connector

import (
	"time"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// VenueChannel and VenueMarket are the venue's native feed/instrument naming,
// combined via SubscriptionId to form the transformer's routing key.
type VenueChannel string
type VenueMarket string

// WireMessage is one outbound subscribe frame, already JSON-encoded, ready to send
// as a text frame on the connection.
type WireMessage struct {
	Payload []byte
}

// SubResponse is a venue's parsed subscribe acknowledgement or rejection.
type SubResponse interface {
	// Validate returns nil if the venue accepted the subscription, or a
	// *domain.SubscribeError describing why it didn't.
	Validate() error
}

// PingPolicy describes a per-venue outbound keepalive: Build is invoked on every
// tick of Interval and its result is written as a text frame (nil means send a
// protocol-level websocket ping instead of an application frame).
type PingPolicy struct {
	Interval time.Duration
	Build    func() []byte
}

// ParsedMessage is the outcome of routing one inbound frame through a Connector:
// exactly one of Trades/L1/Book/Liquidation/Candle is populated, or Unknown is true
// when the frame carries no data payload the connector handles (recoverable,
// skipped), or Err is set for a single-frame parse failure (recoverable, skip+log).
// A SubscriptionId with no mapped InstrumentKey is detected later, in the
// transformers, not here.
// Trades is a slice because Kraken, Bybit and OKX all batch multiple fills into one
// WS frame; every other payload kind carries at most one value per frame on the
// four reference venues, so those stay single-valued pointers.
type ParsedMessage struct {
	SubscriptionId domain.SubscriptionId
	TimeExchange   time.Time

	Trades      []domain.PublicTrade
	L1          *domain.OrderBookL1
	Book        *book.Delta
	Liquidation *domain.Liquidation
	Candle      *domain.Candle

	Unknown bool
	Err     error
}

// Connector is the abstract contract every venue implementation satisfies (C2).
type Connector interface {
	Exchange() domain.ExchangeId
	URL() string

	Channel(kind domain.SubscriptionKind, interval domain.CandleInterval) (VenueChannel, error)
	// Market derives the venue-native instrument string from an Instrument descriptor
	// using that venue's symbol convention (e.g. Binance "BTCUSDT", OKX "BTC-USDT").
	Market(instrument domain.Instrument) VenueMarket
	// SubscriptionIdFor derives the routing key ParseMessage will compute for inbound
	// frames belonging to (channel, market), so the mapper can build its
	// SubscriptionId -> InstrumentKey table without duplicating venue wire knowledge.
	SubscriptionIdFor(channel VenueChannel, market VenueMarket) domain.SubscriptionId

	// SubscribeFrames builds the ordered list of wire frames needed to subscribe to
	// subs, which the caller has already restricted to a single venue and kind.
	SubscribeFrames(subs []domain.Subscription) ([]WireMessage, error)

	// ExpectedResponses is the number of successfully-validated SubResponses the
	// mapper must observe before validation succeeds.
	ExpectedResponses(subs []domain.Subscription) int

	// ParseSubResponse attempts to decode raw as a SubResponse. ok is false when raw
	// doesn't look like a subscribe ack/reject at all (the mapper buffers it instead).
	ParseSubResponse(raw []byte) (resp SubResponse, ok bool, err error)

	// Ping returns this venue's outbound keepalive policy, or nil if it relies solely
	// on inbound heartbeat_interval and protocol-level pongs.
	Ping() *PingPolicy

	// HeartbeatInterval is the max silence the connection tolerates before being
	// classified terminal. ok is false when the venue defines no such timeout.
	HeartbeatInterval() (d time.Duration, ok bool)

	// SequenceRule returns the L2 ordering rule this venue uses; only meaningful for
	// OrderBooksL2 subscriptions.
	SequenceRule() book.Rule

	// ParseMessage routes one inbound text frame to its normalized ParsedMessage.
	ParseMessage(raw []byte) ParsedMessage
}

// Registry maps ExchangeId to a constructed Connector, the wiring point the
// orchestrator and mapper use to go from a Subscription's ExchangeId to behavior.
type Registry map[domain.ExchangeId]Connector

func NewRegistry(connectors ...Connector) Registry {
	r := make(Registry, len(connectors))
	for _, c := range connectors {
		r[c.Exchange()] = c
	}
	return r
}

func (r Registry) Get(exchange domain.ExchangeId) (Connector, bool) {
	c, ok := r[exchange]
	return c, ok
}
