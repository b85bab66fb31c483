package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/persist"
)

// singleTradeConnector is a minimal fake venue: one trade channel, one instrument,
// no book/L1/liquidation/candle support. Reused across both test exchanges with a
// different Exchange()/URL() per instance, mirroring the stream package's own
// fakeConnector test idiom.
type singleTradeConnector struct {
	exchange domain.ExchangeId
	url      string
}

type okSubResponse struct{}

func (okSubResponse) Validate() error { return nil }

func (f *singleTradeConnector) Exchange() domain.ExchangeId { return f.exchange }
func (f *singleTradeConnector) URL() string                 { return f.url }
func (f *singleTradeConnector) Channel(domain.SubscriptionKind, domain.CandleInterval) (connector.VenueChannel, error) {
	return "trade", nil
}
func (f *singleTradeConnector) Market(i domain.Instrument) connector.VenueMarket {
	return connector.VenueMarket(string(i.Base) + string(i.Quote))
}
func (f *singleTradeConnector) SubscriptionIdFor(channel connector.VenueChannel, market connector.VenueMarket) domain.SubscriptionId {
	return domain.NewSubscriptionId(string(channel), string(market))
}
func (f *singleTradeConnector) SubscribeFrames(subs []domain.Subscription) ([]connector.WireMessage, error) {
	return []connector.WireMessage{{Payload: []byte(`{"op":"subscribe"}`)}}, nil
}
func (f *singleTradeConnector) ExpectedResponses(subs []domain.Subscription) int { return 1 }
func (f *singleTradeConnector) ParseSubResponse(raw []byte) (connector.SubResponse, bool, error) {
	if string(raw) == `{"ack":"ok"}` {
		return okSubResponse{}, true, nil
	}
	return nil, false, nil
}
func (f *singleTradeConnector) Ping() *connector.PingPolicy                     { return nil }
func (f *singleTradeConnector) HeartbeatInterval() (time.Duration, bool)        { return 0, false }
func (f *singleTradeConnector) SequenceRule() book.Rule                        { return book.BinanceSpotRule{} }
func (f *singleTradeConnector) ParseMessage(raw []byte) connector.ParsedMessage {
	if string(raw) == `{"trade":"btcusdt"}` {
		return connector.ParsedMessage{
			SubscriptionId: "trade|btcusdt",
			TimeExchange:   time.Unix(1700000000, 0).UTC(),
			Trades: []domain.PublicTrade{{
				Id:     "1",
				Price:  decimal.RequireFromString("100"),
				Amount: decimal.RequireFromString("1"),
				Side:   domain.Buy,
			}},
		}
	}
	return connector.ParsedMessage{Unknown: true}
}

var _ connector.Connector = (*singleTradeConnector)(nil)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTradeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ack":"ok"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"trade":"btcusdt"}`)))
		time.Sleep(200 * time.Millisecond)
	})
	return httptest.NewServer(mux)
}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1) + "/ws"
}

func TestSpawnTradesAndSelectAllMergeAcrossExchanges(t *testing.T) {
	srvA := newTradeServer(t)
	defer srvA.Close()
	srvB := newTradeServer(t)
	defer srvB.Close()

	connA := &singleTradeConnector{exchange: domain.ExchangeBinanceSpot, url: wsURL(srvA)}
	connB := &singleTradeConnector{exchange: domain.ExchangeOKX, url: wsURL(srvB)}
	reg := connector.NewRegistry(connA, connB)

	o := New(reg, nil, zerolog.Nop())

	subs := []domain.Subscription{
		{Exchange: domain.ExchangeBinanceSpot, Instrument: domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"}, Kind: domain.PublicTrades},
		{Exchange: domain.ExchangeOKX, Instrument: domain.Instrument{Exchange: domain.ExchangeOKX, Base: "btc", Quote: "usdt"}, Kind: domain.PublicTrades},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	streams, _, err := o.SpawnTrades(ctx, subs)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	merged := SelectAll(ctx, streams)

	seen := map[domain.ExchangeId]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-merged:
			item, ok := ev.ItemValue()
			require.True(t, ok)
			seen[item.Exchange] = true
		case <-time.After(1500 * time.Millisecond):
			t.Fatalf("timed out waiting for both exchanges, saw %v", seen)
		}
	}
	assert.True(t, seen[domain.ExchangeBinanceSpot])
	assert.True(t, seen[domain.ExchangeOKX])
}

func TestRunProducesDataKindPerExchangeAndJoinMapTags(t *testing.T) {
	srv := newTradeServer(t)
	defer srv.Close()

	conn := &singleTradeConnector{exchange: domain.ExchangeBinanceSpot, url: wsURL(srv)}
	reg := connector.NewRegistry(conn)
	o := New(reg, nil, zerolog.Nop())

	batch := []domain.Subscription{
		{Exchange: domain.ExchangeBinanceSpot, Instrument: domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"}, Kind: domain.PublicTrades},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	streams, _, err := o.Run(ctx, [][]domain.Subscription{batch})
	require.NoError(t, err)
	require.Contains(t, streams, domain.ExchangeBinanceSpot)

	tagged := JoinMap(ctx, streams)

	select {
	case tg := <-tagged:
		assert.Equal(t, domain.ExchangeBinanceSpot, tg.Exchange)
		item, ok := tg.Event.ItemValue()
		require.True(t, ok)
		assert.Equal(t, domain.TagTrade, item.Kind.Tag)
		require.NotNil(t, item.Kind.Trade)
		assert.Equal(t, "1", item.Kind.Trade.Id)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("timed out waiting for tagged DataKind event")
	}
}

func TestSpawnTradesPersistsViaWiredAdapter(t *testing.T) {
	srv := newTradeServer(t)
	defer srv.Close()

	conn := &singleTradeConnector{exchange: domain.ExchangeBinanceSpot, url: wsURL(srv)}
	reg := connector.NewRegistry(conn)
	mem := persist.NewMemory()
	o := New(reg, nil, zerolog.Nop())
	o.Persist = mem

	subs := []domain.Subscription{
		{Exchange: domain.ExchangeBinanceSpot, Instrument: domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"}, Kind: domain.PublicTrades},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	streams, _, err := o.SpawnTrades(ctx, subs)
	require.NoError(t, err)

	select {
	case <-streams[domain.ExchangeBinanceSpot]:
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("timed out waiting for trade")
	}

	trades := mem.Trades(domain.ExchangeBinanceSpot, domain.NewInstrumentKey("btcusdt"))
	require.Len(t, trades, 1)
	assert.Equal(t, "1", trades[0].Id)
}

func TestRunReturnsIndexErrorForUnregisteredExchange(t *testing.T) {
	reg := connector.NewRegistry()
	o := New(reg, nil, zerolog.Nop())

	batch := []domain.Subscription{
		{Exchange: domain.ExchangeKraken, Instrument: domain.Instrument{Exchange: domain.ExchangeKraken, Base: "btc", Quote: "usd"}, Kind: domain.PublicTrades},
	}
	_, _, err := o.Run(context.Background(), [][]domain.Subscription{batch})
	require.Error(t, err)
	var idxErr *domain.IndexError
	assert.ErrorAs(t, err, &idxErr)
}
