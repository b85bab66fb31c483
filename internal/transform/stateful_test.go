package transform

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/persist"
)

func TestStatefulBookAppliesSnapshotThenUpdate(t *testing.T) {
	m := testMapping("depth@100ms|btcusdt", "btcusdt")
	mgr := book.NewManager(func() *book.Sequencer { return book.NewSequencer(book.BinanceSpotRule{}) }, zerolog.Nop())
	s := NewStateful(domain.ExchangeBinanceSpot, m, mgr, zerolog.Nop())

	snap := connector.ParsedMessage{
		SubscriptionId: "depth@100ms|btcusdt",
		Book:           &book.Delta{IsSnapshot: true, LastUpdateID: 10},
	}
	evs, err := s.Book(snap)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.Snapshot, evs[0].Kind.EventKind)

	upd := connector.ParsedMessage{
		SubscriptionId: "depth@100ms|btcusdt",
		Book:           &book.Delta{FirstUpdateID: 11, LastUpdateID: 12},
	}
	evs, err = s.Book(upd)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.Update, evs[0].Kind.EventKind)
}

func TestStatefulBookDesyncReturnsTerminalError(t *testing.T) {
	m := testMapping("depth@100ms|btcusdt", "btcusdt")
	mgr := book.NewManager(func() *book.Sequencer { return book.NewSequencer(book.BinanceSpotRule{}) }, zerolog.Nop())
	s := NewStateful(domain.ExchangeBinanceSpot, m, mgr, zerolog.Nop())

	_, _ = s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{IsSnapshot: true, LastUpdateID: 100}})
	_, _ = s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{FirstUpdateID: 101, LastUpdateID: 103}})

	evs, err := s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{FirstUpdateID: 105, LastUpdateID: 106}})
	require.Error(t, err)
	assert.Empty(t, evs)

	s.Reconnected()
	evs, err = s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{FirstUpdateID: 999, LastUpdateID: 999}})
	require.NoError(t, err)
	assert.Empty(t, evs) // dropped: AwaitingSnapshot after reset
}

func TestStatefulBookSkipsUnmappedId(t *testing.T) {
	m := testMapping("depth@100ms|btcusdt", "btcusdt")
	mgr := book.NewManager(func() *book.Sequencer { return book.NewSequencer(book.BinanceSpotRule{}) }, zerolog.Nop())
	s := NewStateful(domain.ExchangeBinanceSpot, m, mgr, zerolog.Nop())

	evs, err := s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|ethusdt", Book: &book.Delta{IsSnapshot: true}})
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestStatefulBookStoresSnapshotAndDeltaViaPersist(t *testing.T) {
	m := testMapping("depth@100ms|btcusdt", "btcusdt")
	mgr := book.NewManager(func() *book.Sequencer { return book.NewSequencer(book.BinanceSpotRule{}) }, zerolog.Nop())
	mem := persist.NewMemory()
	s := NewStateful(domain.ExchangeBinanceSpot, m, mgr, zerolog.Nop()).WithPersist(mem)

	evs, err := s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{IsSnapshot: true, LastUpdateID: 10}})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	evs, err = s.Book(connector.ParsedMessage{SubscriptionId: "depth@100ms|btcusdt", Book: &book.Delta{FirstUpdateID: 11, LastUpdateID: 12}})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	key := domain.NewInstrumentKey("btcusdt")
	_, snapOK := mem.Snapshot(domain.ExchangeBinanceSpot, key)
	require.True(t, snapOK)
	deltas := mem.Deltas(domain.ExchangeBinanceSpot, key)
	require.Len(t, deltas, 1)
	assert.Equal(t, domain.Update, deltas[0].EventKind)
	assert.Equal(t, uint64(12), deltas[0].Book.Sequence)
}
