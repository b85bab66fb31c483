// Package indexer builds the dense exchange/asset/instrument index registry (C10)
// that later routing uses instead of string comparisons.
package indexer

import (
	"sort"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// AssetIndex is the dense index assigned to a (exchange, asset) pair.
type AssetIndex int

// IndexedInstruments is the immutable, build-time-resolved universe of instruments.
// It is a value owned by the caller and passed into the orchestrator/connectors.
type IndexedInstruments struct {
	exchanges   []domain.ExchangeId
	assets      []assetKey
	instruments []domain.Instrument

	exchangeIdx map[domain.ExchangeId]int
	assetIdx    map[assetKey]AssetIndex
	// byInternalName maps Instrument.NameInternal() to its dense InstrumentIndex.
	byInternalName map[string]domain.InstrumentIndex
	// byVenueName maps (exchange, venue-native name) to its dense InstrumentIndex.
	byVenueName map[venueNameKey]domain.InstrumentIndex
}

type assetKey struct {
	exchange domain.ExchangeId
	asset    domain.Asset
}

type venueNameKey struct {
	exchange domain.ExchangeId
	name     domain.InstrumentNameExchange
}

// Builder accumulates the universe of instruments before dense indices are assigned.
type Builder struct {
	instruments []instrumentEntry
}

type instrumentEntry struct {
	instrument domain.Instrument
	venueName  domain.InstrumentNameExchange
}

func NewBuilder() *Builder { return &Builder{} }

// Add registers an instrument together with its venue-native name.
func (b *Builder) Add(instrument domain.Instrument, venueName domain.InstrumentNameExchange) *Builder {
	b.instruments = append(b.instruments, instrumentEntry{instrument: instrument, venueName: venueName})
	return b
}

// Build sorts and dedups exchanges, assets, and instruments, assigning dense indices.
func (b *Builder) Build() IndexedInstruments {
	exchangeSet := map[domain.ExchangeId]struct{}{}
	assetSet := map[assetKey]struct{}{}
	internalSeen := map[string]struct{}{}

	var instruments []domain.Instrument
	var venueNames []domain.InstrumentNameExchange

	for _, e := range b.instruments {
		internal := e.instrument.NameInternal()
		if _, dup := internalSeen[internal]; dup {
			continue
		}
		internalSeen[internal] = struct{}{}

		instruments = append(instruments, e.instrument)
		venueNames = append(venueNames, e.venueName)

		exchangeSet[e.instrument.Exchange] = struct{}{}
		assetSet[assetKey{e.instrument.Exchange, e.instrument.Base}] = struct{}{}
		assetSet[assetKey{e.instrument.Exchange, e.instrument.Quote}] = struct{}{}
	}

	// Sort instruments by internal name for deterministic index assignment, keeping
	// venueNames aligned by re-deriving the permutation.
	order := make([]int, len(instruments))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return instruments[order[i]].NameInternal() < instruments[order[j]].NameInternal()
	})

	sortedInstruments := make([]domain.Instrument, len(instruments))
	sortedVenueNames := make([]domain.InstrumentNameExchange, len(instruments))
	for newIdx, oldIdx := range order {
		sortedInstruments[newIdx] = instruments[oldIdx]
		sortedVenueNames[newIdx] = venueNames[oldIdx]
	}

	var exchanges []domain.ExchangeId
	for e := range exchangeSet {
		exchanges = append(exchanges, e)
	}
	sort.Slice(exchanges, func(i, j int) bool { return exchanges[i] < exchanges[j] })

	var assets []assetKey
	for a := range assetSet {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].exchange != assets[j].exchange {
			return assets[i].exchange < assets[j].exchange
		}
		return assets[i].asset < assets[j].asset
	})

	ix := IndexedInstruments{
		exchanges:      exchanges,
		assets:         assets,
		instruments:    sortedInstruments,
		exchangeIdx:    make(map[domain.ExchangeId]int, len(exchanges)),
		assetIdx:       make(map[assetKey]AssetIndex, len(assets)),
		byInternalName: make(map[string]domain.InstrumentIndex, len(sortedInstruments)),
		byVenueName:    make(map[venueNameKey]domain.InstrumentIndex, len(sortedInstruments)),
	}
	for i, e := range exchanges {
		ix.exchangeIdx[e] = i
	}
	for i, a := range assets {
		ix.assetIdx[a] = AssetIndex(i)
	}
	for i, inst := range sortedInstruments {
		idx := domain.InstrumentIndex(i)
		ix.byInternalName[inst.NameInternal()] = idx
		ix.byVenueName[venueNameKey{inst.Exchange, sortedVenueNames[i]}] = idx
	}

	return ix
}

// Resolve looks up the dense InstrumentIndex for a venue-native name on an exchange.
// Unknown instruments are a fatal configuration error per spec §4.9.
func (ix IndexedInstruments) Resolve(exchange domain.ExchangeId, venueName domain.InstrumentNameExchange) (domain.InstrumentKey, error) {
	idx, ok := ix.byVenueName[venueNameKey{exchange, venueName}]
	if !ok {
		return domain.InstrumentKey{}, domain.NewIndexError(
			"unknown instrument " + string(venueName) + " on exchange " + string(exchange))
	}
	return domain.InstrumentKey{Name: venueName, Index: idx}, nil
}

// InstrumentAt returns the Instrument descriptor registered at a dense index.
func (ix IndexedInstruments) InstrumentAt(idx domain.InstrumentIndex) (domain.Instrument, bool) {
	if idx < 0 || int(idx) >= len(ix.instruments) {
		return domain.Instrument{}, false
	}
	return ix.instruments[idx], true
}

// Len returns the number of distinct instruments registered.
func (ix IndexedInstruments) Len() int { return len(ix.instruments) }

// Exchanges returns the sorted, deduped set of exchanges in the registry.
func (ix IndexedInstruments) Exchanges() []domain.ExchangeId {
	return append([]domain.ExchangeId(nil), ix.exchanges...)
}
