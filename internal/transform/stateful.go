package transform

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/mapper"
)

// persistAdapter is the subset of persist.Adapter this package depends on, declared
// locally to avoid an import cycle. StoreDelta takes the normalized
// domain.OrderBookEvent the manager produced, not the raw venue book.Delta,
// matching the persisted delta log's documented external schema.
type persistAdapter interface {
	StoreSnapshot(exchange domain.ExchangeId, instrument domain.InstrumentKey, b domain.OrderBook)
	StoreDelta(exchange domain.ExchangeId, instrument domain.InstrumentKey, d domain.OrderBookEvent)
	StoreTrade(exchange domain.ExchangeId, instrument domain.InstrumentKey, t domain.PublicTrade)
}

// Stateful is the L2 order-book transformer (C4's stateful variant): it parses as
// Stateless does, but routes every Book delta through the per-instrument Sequencer
// inside a book.Manager before emitting. An InvalidSequence *domain.DataError is
// terminal for the connection (sequencer desync) and the caller must reconnect;
// a parse error carried on the ParsedMessage is passed through unchanged and is
// recoverable.
type Stateful struct {
	exchange domain.ExchangeId
	mapping  mapper.Mapping
	manager  *book.Manager
	log      zerolog.Logger
	persist  persistAdapter
}

func NewStateful(exchange domain.ExchangeId, mapping mapper.Mapping, manager *book.Manager, log zerolog.Logger) *Stateful {
	return &Stateful{exchange: exchange, mapping: mapping, manager: manager, log: log}
}

// WithPersist wires an optional persistence adapter: every accepted snapshot or
// delta is stored (per §4.8) after it is applied to the book.Manager but before it
// is returned to the caller. Returns s for chaining at construction time.
func (s *Stateful) WithPersist(p persistAdapter) *Stateful {
	s.persist = p
	return s
}

// Book converts a book ParsedMessage into 0..1 MarketEvents: none of the four
// reference venues batch more than one L2 update per frame. A nil result with a
// nil error means the delta was dropped (stale, or received while
// AwaitingSnapshot) or the id is unmapped; both are silent-skip cases. A non-nil
// error is either pm.Err passed through (a recoverable parse failure) or an
// InvalidSequence *domain.DataError meaning the sequencer desynced, in which case
// the caller must treat the connection as terminal.
func (s *Stateful) Book(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.OrderBookEvent], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || pm.Book == nil {
		return nil, nil
	}
	key, ok := s.mapping.Resolve(pm.SubscriptionId)
	if !ok {
		s.log.Warn().Str("subscription_id", string(pm.SubscriptionId)).Msg("unmapped subscription id, skipping book delta")
		return nil, nil
	}

	evt, err := s.manager.Apply(key, *pm.Book)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, nil
	}
	if s.persist != nil {
		if evt.EventKind == domain.Snapshot {
			s.persist.StoreSnapshot(s.exchange, key, evt.Book)
		} else {
			s.persist.StoreDelta(s.exchange, key, *evt)
		}
	}
	return []domain.MarketEvent[domain.InstrumentKey, domain.OrderBookEvent]{{
		TimeExchange: pm.TimeExchange,
		TimeReceived: time.Now().UTC(),
		Exchange:     s.exchange,
		Instrument:   key,
		Kind:         *evt,
	}}, nil
}

// Reconnected resets the underlying sequencers, per §4.7: a Reconnecting event
// forces affected books back to AwaitingSnapshot until a fresh snapshot arrives.
func (s *Stateful) Reconnected() { s.manager.Reconnected() }
