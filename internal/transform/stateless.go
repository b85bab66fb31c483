// Package transform implements C4: the stateless per-kind transformer (trades, L1,
// liquidations, candles) and the stateful L2 transformer that routes through the
// order-book sequencer.
package transform

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/mapper"
)

// Stateless converts connector.ParsedMessage into normalized MarketEvents for the
// payload kinds that carry no cross-message state: trades, L1 quotes, liquidations,
// and candles. Unknown SubscriptionIds are skipped (logged at warn); a ParsedMessage
// carrying Err is surfaced as a recoverable error for the caller to skip.
type Stateless struct {
	exchange domain.ExchangeId
	mapping  mapper.Mapping
	log      zerolog.Logger
	persist  persistAdapter
}

func NewStateless(exchange domain.ExchangeId, mapping mapper.Mapping, log zerolog.Logger) *Stateless {
	return &Stateless{exchange: exchange, mapping: mapping, log: log}
}

// WithPersist wires an optional persistence adapter: every normalized trade is
// stored (per §4.8) after it is built but before it is returned to the caller.
// Returns s for chaining at construction time.
func (s *Stateless) WithPersist(p persistAdapter) *Stateless {
	s.persist = p
	return s
}

func (s *Stateless) resolve(pm connector.ParsedMessage) (domain.InstrumentKey, bool) {
	key, ok := s.mapping.Resolve(pm.SubscriptionId)
	if !ok {
		s.log.Warn().Str("subscription_id", string(pm.SubscriptionId)).Msg("unmapped subscription id, skipping frame")
	}
	return key, ok
}

// Trade converts a trade ParsedMessage into 0..N MarketEvents, one per fill in
// pm.Trades — Kraken, Bybit and OKX all batch several trades into a single frame,
// and every one of them must be emitted, not just the first. A nil/empty result
// with a nil error means the frame should be silently skipped (unmapped id or not
// a trade message).
func (s *Stateless) Trade(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || len(pm.Trades) == 0 {
		return nil, nil
	}
	key, ok := s.resolve(pm)
	if !ok {
		return nil, nil
	}
	now := time.Now().UTC()
	evs := make([]domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade], 0, len(pm.Trades))
	for _, t := range pm.Trades {
		if s.persist != nil {
			s.persist.StoreTrade(s.exchange, key, t)
		}
		evs = append(evs, domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade]{
			TimeExchange: pm.TimeExchange,
			TimeReceived: now,
			Exchange:     s.exchange,
			Instrument:   key,
			Kind:         t,
		})
	}
	return evs, nil
}

func (s *Stateless) L1(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.OrderBookL1], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || pm.L1 == nil {
		return nil, nil
	}
	key, ok := s.resolve(pm)
	if !ok {
		return nil, nil
	}
	return []domain.MarketEvent[domain.InstrumentKey, domain.OrderBookL1]{{
		TimeExchange: pm.TimeExchange,
		TimeReceived: time.Now().UTC(),
		Exchange:     s.exchange,
		Instrument:   key,
		Kind:         *pm.L1,
	}}, nil
}

func (s *Stateless) Liquidation(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.Liquidation], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || pm.Liquidation == nil {
		return nil, nil
	}
	key, ok := s.resolve(pm)
	if !ok {
		return nil, nil
	}
	return []domain.MarketEvent[domain.InstrumentKey, domain.Liquidation]{{
		TimeExchange: pm.TimeExchange,
		TimeReceived: time.Now().UTC(),
		Exchange:     s.exchange,
		Instrument:   key,
		Kind:         *pm.Liquidation,
	}}, nil
}

func (s *Stateless) Candle(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.Candle], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || pm.Candle == nil {
		return nil, nil
	}
	key, ok := s.resolve(pm)
	if !ok {
		return nil, nil
	}
	return []domain.MarketEvent[domain.InstrumentKey, domain.Candle]{{
		TimeExchange: pm.TimeExchange,
		TimeReceived: time.Now().UTC(),
		Exchange:     s.exchange,
		Instrument:   key,
		Kind:         *pm.Candle,
	}}, nil
}
