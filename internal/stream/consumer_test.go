package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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
)

// fakeConnector is a minimal single-trade-channel venue used to drive Consumer
// against a real in-process websocket server, mirroring the teacher's
// tests/integration/ws_failover_test.go mock-server idiom.
type fakeConnector struct {
	url string
}

type fakeSubResponse struct{ rejected bool }

func (r fakeSubResponse) Validate() error {
	if r.rejected {
		return domain.NewSubscribeError("rejected")
	}
	return nil
}

func (f *fakeConnector) Exchange() domain.ExchangeId { return domain.ExchangeBinanceSpot }
func (f *fakeConnector) URL() string                 { return f.url }
func (f *fakeConnector) Channel(domain.SubscriptionKind, domain.CandleInterval) (connector.VenueChannel, error) {
	return "trade", nil
}
func (f *fakeConnector) Market(i domain.Instrument) connector.VenueMarket {
	return connector.VenueMarket(string(i.Base) + string(i.Quote))
}
func (f *fakeConnector) SubscriptionIdFor(channel connector.VenueChannel, market connector.VenueMarket) domain.SubscriptionId {
	return domain.NewSubscriptionId(string(channel), string(market))
}
func (f *fakeConnector) SubscribeFrames(subs []domain.Subscription) ([]connector.WireMessage, error) {
	return []connector.WireMessage{{Payload: []byte(`{"op":"subscribe"}`)}}, nil
}
func (f *fakeConnector) ExpectedResponses(subs []domain.Subscription) int { return 1 }
func (f *fakeConnector) ParseSubResponse(raw []byte) (connector.SubResponse, bool, error) {
	s := string(raw)
	switch {
	case s == `{"ack":"ok"}`:
		return fakeSubResponse{}, true, nil
	case s == `{"ack":"reject"}`:
		return fakeSubResponse{rejected: true}, true, nil
	default:
		return nil, false, nil
	}
}
func (f *fakeConnector) Ping() *connector.PingPolicy { return nil }
func (f *fakeConnector) HeartbeatInterval() (time.Duration, bool) { return 0, false }
func (f *fakeConnector) SequenceRule() book.Rule                  { return book.BinanceSpotRule{} }
func (f *fakeConnector) ParseMessage(raw []byte) connector.ParsedMessage {
	s := string(raw)
	if s == `{"trade":"btcusdt"}` {
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
	if s == `{"bad":true}` {
		return connector.ParsedMessage{Err: domain.NewDeserializeError(errors.New("boom"))}
	}
	return connector.ParsedMessage{Unknown: true}
}

var _ connector.Connector = (*fakeConnector)(nil)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func wsURL(s *httptest.Server) string {
	return strings.Replace(s.URL, "http://", "ws://", 1) + "/ws"
}

func subs() []domain.Subscription {
	return []domain.Subscription{{
		Exchange:   domain.ExchangeBinanceSpot,
		Instrument: domain.Instrument{Exchange: domain.ExchangeBinanceSpot, Base: "btc", Quote: "usdt"},
		Kind:       domain.PublicTrades,
	}}
}

func tradeTransform(pm connector.ParsedMessage) ([]domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade], error) {
	if pm.Err != nil {
		return nil, pm.Err
	}
	if pm.Unknown || len(pm.Trades) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	evs := make([]domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade], 0, len(pm.Trades))
	for _, trade := range pm.Trades {
		evs = append(evs, domain.MarketEvent[domain.InstrumentKey, domain.PublicTrade]{
			TimeExchange: pm.TimeExchange,
			TimeReceived: now,
			Exchange:     domain.ExchangeBinanceSpot,
			Instrument:   domain.NewInstrumentKey("btcusdt"),
			Kind:         trade,
		})
	}
	return evs, nil
}

func TestConsumerDeliversTradeAfterValidation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ack":"ok"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"trade":"btcusdt"}`)))
		time.Sleep(200 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := make(chan domain.MarketStreamEvent[domain.InstrumentKey, domain.PublicTrade], 8)
	c := &Consumer[domain.PublicTrade]{
		Exchange:  domain.ExchangeBinanceSpot,
		KindLabel: "public_trades",
		Conn:      &fakeConnector{url: wsURL(srv)},
		Subs:      subs(),
		Transform: tradeTransform,
		Out:       out,
		Log:       zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case ev := <-out:
		item, ok := ev.ItemValue()
		require.True(t, ok)
		assert.Equal(t, "1", item.Kind.Id)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for trade event")
	}

	cancel()
	<-done
}

func TestConsumerFirstAttemptFailureIsFatal(t *testing.T) {
	c := &Consumer[domain.PublicTrade]{
		Exchange:  domain.ExchangeBinanceSpot,
		KindLabel: "public_trades",
		Conn:      &fakeConnector{url: "ws://127.0.0.1:0/ws"},
		Subs:      subs(),
		Transform: tradeTransform,
		Out:       make(chan domain.MarketStreamEvent[domain.InstrumentKey, domain.PublicTrade], 1),
		Log:       zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
}

// TestConsumerReconnectsAfterSubscribeRejection establishes the first connection
// successfully, then on reconnect (a later connect attempt) a subscribe rejection
// must retry rather than propagate fatally, per §7: only the very first connect
// attempt's failure is fatal-to-caller.
func TestConsumerReconnectsAfterSubscribeRejection(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		switch n {
		case 1:
			// First connection: validate, stream one trade, then drop — a
			// terminal-for-connection read error that must trigger reconnect.
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ack":"ok"}`)))
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"trade":"btcusdt"}`)))
			time.Sleep(50 * time.Millisecond)
			return
		case 2:
			// Second connection (first reconnect attempt): venue rejects. Must
			// NOT be fatal since a connection was already established once.
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ack":"reject"}`)))
			return
		default:
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ack":"ok"}`)))
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"trade":"btcusdt"}`)))
			time.Sleep(200 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := make(chan domain.MarketStreamEvent[domain.InstrumentKey, domain.PublicTrade], 8)
	c := &Consumer[domain.PublicTrade]{
		Exchange:       domain.ExchangeBinanceSpot,
		KindLabel:      "public_trades",
		Conn:           &fakeConnector{url: wsURL(srv)},
		Subs:           subs(),
		Transform:      tradeTransform,
		Out:            out,
		Log:            zerolog.Nop(),
		BackoffInitial: 10 * time.Millisecond,
		BackoffCap:     50 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	reconnects := 0
	trades := 0
	for trades < 2 {
		select {
		case ev := <-out:
			if ev.IsReconnecting() {
				reconnects++
				continue
			}
			item, ok := ev.ItemValue()
			require.True(t, ok)
			assert.Equal(t, "1", item.Kind.Id)
			trades++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for trade events across reconnects")
		}
	}
	// one reconnect after connection 1 drops, one after connection 2's rejection
	assert.Equal(t, 2, reconnects)

	cancel()
	<-done
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, nextBackoff(125*time.Millisecond, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(16*time.Second, 30*time.Second))
}
