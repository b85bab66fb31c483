package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade or liquidation.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// MarketEvent is the single normalized envelope every venue transformer emits into.
// Invariant: TimeReceived >= TimeExchange - clock skew; clocks are monotonic per
// stream but not comparable across venues.
type MarketEvent[K any, T any] struct {
	TimeExchange time.Time
	TimeReceived time.Time
	Exchange     ExchangeId
	Instrument   K
	Kind         T
}

// MarketStreamEvent is either a normalized item or a first-class Reconnecting
// sentinel for the named exchange. Exactly one of the two is populated.
type MarketStreamEvent[K any, T any] struct {
	item         *MarketEvent[K, T]
	reconnecting ExchangeId
}

func Item[K any, T any](e MarketEvent[K, T]) MarketStreamEvent[K, T] {
	return MarketStreamEvent[K, T]{item: &e}
}

func Reconnecting[K any, T any](exchange ExchangeId) MarketStreamEvent[K, T] {
	return MarketStreamEvent[K, T]{reconnecting: exchange}
}

// IsReconnecting reports whether this is a Reconnecting sentinel rather than an Item.
func (e MarketStreamEvent[K, T]) IsReconnecting() bool { return e.item == nil }

// ReconnectingExchange returns the exchange that is reconnecting; only valid when
// IsReconnecting() is true.
func (e MarketStreamEvent[K, T]) ReconnectingExchange() ExchangeId { return e.reconnecting }

// ItemValue returns the wrapped event and whether one was present.
func (e MarketStreamEvent[K, T]) ItemValue() (MarketEvent[K, T], bool) {
	if e.item == nil {
		var zero MarketEvent[K, T]
		return zero, false
	}
	return *e.item, true
}

// PublicTrade is a single executed trade.
type PublicTrade struct {
	Id     string
	Price  decimal.Decimal
	Amount decimal.Decimal
	Side   Side
}

// Level is a single price/amount pair on one side of a book.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBookL1 is the best-bid/best-ask view of a book.
type OrderBookL1 struct {
	LastUpdateTime time.Time
	BestBid        Level
	BestAsk        Level
}

// Liquidation is a forced-close print.
type Liquidation struct {
	Side   Side
	Price  decimal.Decimal
	Amount decimal.Decimal
	Time   time.Time
}

// Candle is a single OHLCV bucket.
type Candle struct {
	CloseTime  time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	TradeCount uint64
}

// DataKindTag discriminates the payload union carried by DataKind.
type DataKindTag int

const (
	TagTrade DataKindTag = iota
	TagOrderBookL1
	TagOrderBookEvent
	TagLiquidation
	TagCandle
)

func (t DataKindTag) String() string {
	switch t {
	case TagTrade:
		return "trade"
	case TagOrderBookL1:
		return "order_book_l1"
	case TagOrderBookEvent:
		return "order_book_event"
	case TagLiquidation:
		return "liquidation"
	case TagCandle:
		return "candle"
	default:
		return "unknown"
	}
}

// DataKind is the typed union covering every supported market-data payload variant,
// used when the orchestrator merges heterogeneous per-kind streams for one exchange.
type DataKind struct {
	Tag         DataKindTag
	Trade       *PublicTrade
	L1          *OrderBookL1
	BookEvent   *OrderBookEvent
	Liquidation *Liquidation
	Candle      *Candle
}

func TradeDataKind(t PublicTrade) DataKind          { return DataKind{Tag: TagTrade, Trade: &t} }
func L1DataKind(l OrderBookL1) DataKind             { return DataKind{Tag: TagOrderBookL1, L1: &l} }
func BookEventDataKind(b OrderBookEvent) DataKind   { return DataKind{Tag: TagOrderBookEvent, BookEvent: &b} }
func LiquidationDataKind(l Liquidation) DataKind    { return DataKind{Tag: TagLiquidation, Liquidation: &l} }
func CandleDataKind(c Candle) DataKind              { return DataKind{Tag: TagCandle, Candle: &c} }

// IntoDataKind converts a typed MarketEvent into its DataKind-union form, as used by
// the orchestrator's mixed-kind output channel.
func IntoDataKind[T any](e MarketEvent[InstrumentKey, T], wrap func(T) DataKind) MarketEvent[InstrumentKey, DataKind] {
	return MarketEvent[InstrumentKey, DataKind]{
		TimeExchange: e.TimeExchange,
		TimeReceived: e.TimeReceived,
		Exchange:     e.Exchange,
		Instrument:   e.Instrument,
		Kind:         wrap(e.Kind),
	}
}
