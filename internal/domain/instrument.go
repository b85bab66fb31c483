package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a lowercase base or quote currency symbol, e.g. "btc".
type Asset string

// InstrumentKind distinguishes the contract shape of an instrument.
type InstrumentKind int

const (
	KindSpot InstrumentKind = iota
	KindPerpetual
	KindFuture
	KindOption
)

func (k InstrumentKind) String() string {
	switch k {
	case KindSpot:
		return "spot"
	case KindPerpetual:
		return "perpetual"
	case KindFuture:
		return "future"
	case KindOption:
		return "option"
	default:
		return "unknown"
	}
}

// OptionKind is call or put.
type OptionKind int

const (
	OptionCall OptionKind = iota
	OptionPut
)

// OptionExercise is the settlement style of an option contract.
type OptionExercise int

const (
	ExerciseEuropean OptionExercise = iota
	ExerciseAmerican
)

// OptionSpec carries the fields that only apply to InstrumentKind == KindOption.
type OptionSpec struct {
	Kind     OptionKind
	Exercise OptionExercise
	Strike   decimal.Decimal
}

// InstrumentSpec fully describes the contract shape of an instrument,
// mirroring the spec's InstrumentKind ∈ {Spot, Perpetual, Future(expiry), Option(...)}.
type InstrumentSpec struct {
	Kind   InstrumentKind
	Expiry time.Time // zero value when Kind doesn't carry an expiry
	Option *OptionSpec
}

// InstrumentNameExchange is the venue-native instrument string, e.g. "BTCUSDT".
type InstrumentNameExchange string

// InstrumentIndex is a dense index assigned by the indexer (C10). UnindexedInstrument
// marks an InstrumentKey that has not been resolved against an IndexedInstruments registry.
type InstrumentIndex int

const UnindexedInstrument InstrumentIndex = -1

// Instrument is the full descriptor a caller supplies for a subscription.
type Instrument struct {
	Exchange ExchangeId
	Base     Asset
	Quote    Asset
	Spec     InstrumentSpec
}

// NameInternal returns the "{exchange}-{base}_{quote}" form that is unique across venues.
func (i Instrument) NameInternal() string {
	return fmt.Sprintf("%s-%s_%s", i.Exchange, strings.ToLower(string(i.Base)), strings.ToLower(string(i.Quote)))
}

// InstrumentKey is any type that uniquely identifies an instrument within the system.
// It carries both the venue-native name and, once resolved, a dense index.
type InstrumentKey struct {
	Name  InstrumentNameExchange
	Index InstrumentIndex
}

func NewInstrumentKey(name InstrumentNameExchange) InstrumentKey {
	return InstrumentKey{Name: name, Index: UnindexedInstrument}
}

func (k InstrumentKey) String() string {
	if k.Index == UnindexedInstrument {
		return string(k.Name)
	}
	return fmt.Sprintf("%s(#%d)", k.Name, k.Index)
}

// Indexed reports whether k has been resolved against an IndexedInstruments registry.
func (k InstrumentKey) Indexed() bool { return k.Index != UnindexedInstrument }
