// Package persist implements C9: the optional persistence adapter. Storage
// failures are always logged and swallowed — per §4.8 they must never block the
// ingestion loop — so every Adapter method signature returns no error to callers
// in internal/transform; Adapter implementations report failures to their own
// logger instead.
package persist

import (
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Adapter is the storage contract every persistence backend implements: one
// operation per §4.8 payload kind, keyed by (exchange, instrument). StoreDelta
// takes the normalized domain.OrderBookEvent a book.Manager produces — the same
// envelope §6 documents for the persisted delta log — not the raw venue wire delta.
type Adapter interface {
	StoreSnapshot(exchange domain.ExchangeId, instrument domain.InstrumentKey, book domain.OrderBook)
	StoreDelta(exchange domain.ExchangeId, instrument domain.InstrumentKey, delta domain.OrderBookEvent)
	StoreTrade(exchange domain.ExchangeId, instrument domain.InstrumentKey, trade domain.PublicTrade)
}

// NoOp discards everything; it is the Adapter used when no persistence backend is
// configured.
type NoOp struct{}

func (NoOp) StoreSnapshot(domain.ExchangeId, domain.InstrumentKey, domain.OrderBook)  {}
func (NoOp) StoreDelta(domain.ExchangeId, domain.InstrumentKey, domain.OrderBookEvent) {}
func (NoOp) StoreTrade(domain.ExchangeId, domain.InstrumentKey, domain.PublicTrade)    {}

var _ Adapter = NoOp{}
