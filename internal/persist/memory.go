package persist

import (
	"sync"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

type key struct {
	exchange   domain.ExchangeId
	instrument domain.InstrumentNameExchange
}

// Memory is an in-process Adapter used by tests and by callers that want
// persistence semantics without a real store. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	snapshots map[key]domain.OrderBook
	deltas    map[key][]domain.OrderBookEvent
	trades    map[key][]domain.PublicTrade
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[key]domain.OrderBook),
		deltas:    make(map[key][]domain.OrderBookEvent),
		trades:    make(map[key][]domain.PublicTrade),
	}
}

func (m *Memory) StoreSnapshot(exchange domain.ExchangeId, instrument domain.InstrumentKey, b domain.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key{exchange, instrument.Name}] = b
}

func (m *Memory) StoreDelta(exchange domain.ExchangeId, instrument domain.InstrumentKey, d domain.OrderBookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{exchange, instrument.Name}
	m.deltas[k] = append(m.deltas[k], d)
}

func (m *Memory) StoreTrade(exchange domain.ExchangeId, instrument domain.InstrumentKey, t domain.PublicTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{exchange, instrument.Name}
	m.trades[k] = append(m.trades[k], t)
}

// Snapshot returns the last stored snapshot for (exchange, instrument), if any.
func (m *Memory) Snapshot(exchange domain.ExchangeId, instrument domain.InstrumentKey) (domain.OrderBook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.snapshots[key{exchange, instrument.Name}]
	return b, ok
}

// Deltas returns every delta stored for (exchange, instrument), in store order.
func (m *Memory) Deltas(exchange domain.ExchangeId, instrument domain.InstrumentKey) []domain.OrderBookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderBookEvent(nil), m.deltas[key{exchange, instrument.Name}]...)
}

// Trades returns every trade stored for (exchange, instrument), in store order.
func (m *Memory) Trades(exchange domain.ExchangeId, instrument domain.InstrumentKey) []domain.PublicTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PublicTrade(nil), m.trades[key{exchange, instrument.Name}]...)
}

var _ Adapter = (*Memory)(nil)
