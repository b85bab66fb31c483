package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(price, amount string) domain.Level {
	return domain.Level{Price: d(price), Amount: d(amount)}
}

func TestApplySnapshotSortsBothSides(t *testing.T) {
	book := ApplySnapshot(Delta{
		LastUpdateID: 1,
		Bids:         []domain.Level{lvl("99", "1"), lvl("100", "1"), lvl("98", "1")},
		Asks:         []domain.Level{lvl("103", "1"), lvl("101", "1"), lvl("102", "1")},
	})

	require.Len(t, book.Bids, 3)
	require.Len(t, book.Asks, 3)
	assert.True(t, book.Bids[0].Price.Equal(d("100")))
	assert.True(t, book.Bids[2].Price.Equal(d("98")))
	assert.True(t, book.Asks[0].Price.Equal(d("101")))
	assert.True(t, book.Asks[2].Price.Equal(d("103")))
}

func TestApplyUpdateZeroAmountDeletesLevel(t *testing.T) {
	book := ApplySnapshot(Delta{Bids: []domain.Level{lvl("100", "1")}, Asks: []domain.Level{lvl("101", "1")}})
	book = ApplyUpdate(book, Delta{LastUpdateID: 2, Bids: []domain.Level{lvl("100", "0")}})
	assert.Empty(t, book.Bids)
}

func TestApplyUpdateEmptyIsNoOp(t *testing.T) {
	book := ApplySnapshot(Delta{Bids: []domain.Level{lvl("100", "1")}, Asks: []domain.Level{lvl("101", "1")}})
	after := ApplyUpdate(book, Delta{LastUpdateID: book.Sequence})
	assert.Equal(t, book.Bids, after.Bids)
	assert.Equal(t, book.Asks, after.Asks)
}

func TestApplySnapshotTwiceIsIdempotent(t *testing.T) {
	delta := Delta{LastUpdateID: 5, Bids: []domain.Level{lvl("100", "1")}, Asks: []domain.Level{lvl("101", "1")}}
	first := ApplySnapshot(delta)
	second := ApplySnapshot(delta)
	assert.Equal(t, first, second)
}

func TestBookSideOrderingInvariantHoldsAfterManyUpdates(t *testing.T) {
	book := ApplySnapshot(Delta{
		Bids: []domain.Level{lvl("100", "1"), lvl("99", "1")},
		Asks: []domain.Level{lvl("101", "1"), lvl("102", "1")},
	})
	book = ApplyUpdate(book, Delta{Bids: []domain.Level{lvl("100.5", "2")}})
	book = ApplyUpdate(book, Delta{Asks: []domain.Level{lvl("100.8", "2")}})

	for i := 1; i < len(book.Bids); i++ {
		assert.True(t, book.Bids[i-1].Price.GreaterThan(book.Bids[i].Price))
	}
	for i := 1; i < len(book.Asks); i++ {
		assert.True(t, book.Asks[i-1].Price.LessThan(book.Asks[i].Price))
	}
	require.NoError(t, book.Validate())
}

func TestNoDuplicatePriceWithinASide(t *testing.T) {
	book := ApplySnapshot(Delta{Bids: []domain.Level{lvl("100", "1")}})
	book = ApplyUpdate(book, Delta{Bids: []domain.Level{lvl("100", "3")}})
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Amount.Equal(d("3")))
}
