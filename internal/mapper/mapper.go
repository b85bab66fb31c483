// Package mapper implements the subscription map/validate step (C3): building the
// SubscriptionId -> InstrumentKey routing table and confirming venue acceptance of
// the subscribe frames within a timeout.
package mapper

import (
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Mapping is the SubscriptionId -> InstrumentKey table plus the ordered wire frames
// that must be sent to establish it, for a single-venue single-kind batch.
type Mapping struct {
	IDs    map[domain.SubscriptionId]domain.InstrumentKey
	Frames []connector.WireMessage
}

// Map builds a Mapping for subs, which the caller has already restricted to a
// single (ExchangeId, SubscriptionKind) pair per §4.6.
func Map(conn connector.Connector, subs []domain.Subscription) (Mapping, error) {
	ids := make(map[domain.SubscriptionId]domain.InstrumentKey, len(subs))
	for _, s := range subs {
		channel, err := conn.Channel(s.Kind, s.CandleInterval)
		if err != nil {
			return Mapping{}, err
		}
		market := conn.Market(s.Instrument)
		subID := conn.SubscriptionIdFor(channel, market)
		ids[subID] = domain.NewInstrumentKey(domain.InstrumentNameExchange(market))
	}

	frames, err := conn.SubscribeFrames(subs)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{IDs: ids, Frames: frames}, nil
}

// Resolve looks up the InstrumentKey mapped to id, reporting false when id is
// unmapped (the caller treats this as the "unknown subscription id" recoverable
// case from §4.7's failure semantics).
func (m Mapping) Resolve(id domain.SubscriptionId) (domain.InstrumentKey, bool) {
	k, ok := m.IDs[id]
	return k, ok
}
