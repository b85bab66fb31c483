package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

func TestBuilderResolvesKnownInstrument(t *testing.T) {
	inst := domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"}
	ix := NewBuilder().Add(inst, "BTCUSDT").Build()

	key, err := ix.Resolve(domain.ExchangeBinanceSpot, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, key.Indexed())

	got, ok := ix.InstrumentAt(key.Index)
	require.True(t, ok)
	assert.Equal(t, inst.NameInternal(), got.NameInternal())
}

func TestResolveUnknownInstrumentIsFatal(t *testing.T) {
	ix := NewBuilder().Build()
	_, err := ix.Resolve(domain.ExchangeBinanceSpot, "BTCUSDT")
	require.Error(t, err)
	var idxErr *domain.IndexError
	assert.ErrorAs(t, err, &idxErr)
}

func TestBuilderDedupsByInternalName(t *testing.T) {
	inst := domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"}
	ix := NewBuilder().Add(inst, "BTCUSDT").Add(inst, "BTCUSDT").Build()
	assert.Equal(t, 1, ix.Len())
}
