package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

func sub(exchange domain.ExchangeId, base domain.Asset, kind domain.SubscriptionKind) domain.Subscription {
	return domain.Subscription{
		Exchange:   exchange,
		Instrument: domain.Instrument{Exchange: exchange, Base: base, Quote: "usdt"},
		Kind:       kind,
	}
}

func TestSplitSeparatesByExchangeAndKind(t *testing.T) {
	batch := []domain.Subscription{
		sub(domain.ExchangeBinanceSpot, "btc", domain.PublicTrades),
		sub(domain.ExchangeOKX, "btc", domain.PublicTrades),
		sub(domain.ExchangeBinanceSpot, "eth", domain.OrderBooksL2),
		sub(domain.ExchangeBinanceSpot, "eth", domain.PublicTrades),
	}

	got := Split(batch)
	require.Len(t, got, 3)

	for _, sb := range got {
		exchange, kind := sb[0].Exchange, sb[0].Kind
		for _, s := range sb {
			assert.Equal(t, exchange, s.Exchange)
			assert.Equal(t, kind, s.Kind)
		}
	}
}

func TestSplitPreservesFirstSeenOrder(t *testing.T) {
	batch := []domain.Subscription{
		sub(domain.ExchangeOKX, "btc", domain.PublicTrades),
		sub(domain.ExchangeBinanceSpot, "btc", domain.PublicTrades),
	}
	got := Split(batch)
	assert.Equal(t, domain.ExchangeOKX, got[0][0].Exchange)
	assert.Equal(t, domain.ExchangeBinanceSpot, got[1][0].Exchange)
}

func TestSplitAllFlattensMultipleBatches(t *testing.T) {
	batches := [][]domain.Subscription{
		{sub(domain.ExchangeBinanceSpot, "btc", domain.PublicTrades)},
		{
			sub(domain.ExchangeOKX, "btc", domain.PublicTrades),
			sub(domain.ExchangeOKX, "eth", domain.OrderBooksL2),
		},
	}
	got := SplitAll(batches)
	assert.Len(t, got, 3)
}
