package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Binance combines every subscription into a single "params" array and one frame,
// so ExpectedResponses is always 1 regardless of how many subs were requested.
type Binance struct {
	HTTPClient *http.Client
	nextID     int
}

func NewBinance() *Binance {
	return &Binance{HTTPClient: &http.Client{Timeout: 10 * time.Second}, nextID: 1}
}

func (b *Binance) Exchange() domain.ExchangeId { return domain.ExchangeBinanceSpot }

func (b *Binance) URL() string { return "wss://stream.binance.com:9443/stream" }

func (b *Binance) Channel(kind domain.SubscriptionKind, interval domain.CandleInterval) (VenueChannel, error) {
	switch kind {
	case domain.PublicTrades:
		return "trade", nil
	case domain.OrderBooksL1:
		return "bookTicker", nil
	case domain.OrderBooksL2:
		return "depth@100ms", nil
	case domain.Candles:
		return VenueChannel("kline_" + string(interval)), nil
	default:
		return "", fmt.Errorf("binance: unsupported subscription kind %s", kind)
	}
}

func (b *Binance) Market(instrument domain.Instrument) VenueMarket {
	return VenueMarket(strings.ToLower(string(instrument.Base) + string(instrument.Quote)))
}

func binanceStreamName(channel VenueChannel, market VenueMarket) string {
	return fmt.Sprintf("%s@%s", market, channel)
}

// SubscriptionIdFor derives the routing key the transformer uses to map inbound
// "stream" names back to the subscribed InstrumentKey.
func (b *Binance) SubscriptionIdFor(channel VenueChannel, market VenueMarket) domain.SubscriptionId {
	return domain.NewSubscriptionId(string(channel), string(market))
}

func (b *Binance) SubscribeFrames(subs []domain.Subscription) ([]WireMessage, error) {
	params := make([]string, 0, len(subs))
	for _, s := range subs {
		channel, err := b.Channel(s.Kind, s.CandleInterval)
		if err != nil {
			return nil, err
		}
		market := b.Market(s.Instrument)
		params = append(params, binanceStreamName(channel, market))
	}

	id := b.nextID
	b.nextID++
	payload, err := json.Marshal(struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: params, ID: id})
	if err != nil {
		return nil, err
	}
	return []WireMessage{{Payload: payload}}, nil
}

func (b *Binance) ExpectedResponses(subs []domain.Subscription) int {
	if len(subs) == 0 {
		return 0
	}
	return 1
}

type binanceSubResponse struct {
	Result json.RawMessage `json:"result"`
	ID     int             `json:"id"`
}

func (r *binanceSubResponse) Validate() error {
	if string(r.Result) == "null" {
		return nil
	}
	return domain.NewSubscribeError(fmt.Sprintf("binance rejected subscription id=%d result=%s", r.ID, r.Result))
}

func (b *Binance) ParseSubResponse(raw []byte) (SubResponse, bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, nil
	}
	if _, hasID := probe["id"]; !hasID {
		return nil, false, nil
	}
	if _, hasResult := probe["result"]; !hasResult {
		return nil, false, nil
	}
	var resp binanceSubResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, true, err
	}
	return &resp, true, nil
}

// Ping is nil: Binance's server drives protocol-level pings and gorilla/websocket
// answers pongs automatically, so no application-level keepalive is required.
func (b *Binance) Ping() *PingPolicy { return nil }

func (b *Binance) HeartbeatInterval() (time.Duration, bool) { return 0, false }

func (b *Binance) SequenceRule() book.Rule { return book.BinanceSpotRule{} }

type binanceStreamWrapper struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTrade struct {
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

type binanceBookTicker struct {
	UpdateID int64  `json:"u"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type binanceDepthUpdate struct {
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (b *Binance) ParseMessage(raw []byte) ParsedMessage {
	var wrapper binanceStreamWrapper
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Stream == "" {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}

	parts := strings.SplitN(wrapper.Stream, "@", 2)
	if len(parts) != 2 {
		return ParsedMessage{Err: domain.NewDeserializeError(fmt.Errorf("binance: malformed stream name %q", wrapper.Stream))}
	}
	market, channelSuffix := VenueMarket(parts[0]), parts[1]
	subID := b.SubscriptionIdFor(VenueChannel(channelSuffix), market)

	now := time.Now().UTC()

	switch {
	case channelSuffix == "trade":
		var t binanceTrade
		if err := json.Unmarshal(wrapper.Data, &t); err != nil {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Quantity)
		side := domain.Buy
		if t.BuyerIsMaker {
			side = domain.Sell
		}
		// Binance's raw trade stream carries exactly one fill per frame (no array
		// to batch), but still produces a Trades slice to satisfy the shared
		// ParsedMessage contract.
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   time.UnixMilli(t.TradeTimeMs).UTC(),
			Trades: []domain.PublicTrade{{
				Id:     strconv.FormatInt(t.TradeID, 10),
				Price:  price,
				Amount: qty,
				Side:   side,
			}},
		}

	case channelSuffix == "bookTicker":
		var bt binanceBookTicker
		if err := json.Unmarshal(wrapper.Data, &bt); err != nil {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		bidP, _ := decimal.NewFromString(bt.BidPrice)
		bidQ, _ := decimal.NewFromString(bt.BidQty)
		askP, _ := decimal.NewFromString(bt.AskPrice)
		askQ, _ := decimal.NewFromString(bt.AskQty)
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   now,
			L1: &domain.OrderBookL1{
				LastUpdateTime: now,
				BestBid:        domain.Level{Price: bidP, Amount: bidQ},
				BestAsk:        domain.Level{Price: askP, Amount: askQ},
			},
		}

	case strings.HasPrefix(channelSuffix, "depth"):
		var du binanceDepthUpdate
		if err := json.Unmarshal(wrapper.Data, &du); err != nil {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   now,
			Book: &book.Delta{
				FirstUpdateID: uint64(du.FirstUpdateID),
				LastUpdateID:  uint64(du.FinalUpdateID),
				Bids:          parseBinanceLevels(du.Bids),
				Asks:          parseBinanceLevels(du.Asks),
			},
		}

	default:
		return ParsedMessage{SubscriptionId: subID, Unknown: true}
	}
}

func parseBinanceLevels(raw [][]string) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		price, err1 := decimal.NewFromString(pair[0])
		amount, err2 := decimal.NewFromString(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.Level{Price: price, Amount: amount})
	}
	return out
}

// binanceDepthSnapshot mirrors the REST /api/v3/depth response shape.
type binanceDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchSnapshot retrieves the REST initial snapshot spec §4.4 requires to seed the
// L2 sequencer before applying WS deltas.
func (b *Binance) FetchSnapshot(ctx context.Context, venueSymbol string) (book.Delta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("https://api.binance.com/api/v3/depth?symbol=%s&limit=1000", strings.ToUpper(venueSymbol)), nil)
	if err != nil {
		return book.Delta{}, domain.NewSocketError("build-snapshot-request", err)
	}
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return book.Delta{}, domain.NewSocketError("fetch-snapshot", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return book.Delta{}, domain.NewSocketError("fetch-snapshot", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	var snap binanceDepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return book.Delta{}, domain.NewDeserializeError(err)
	}
	return book.Delta{
		IsSnapshot:   true,
		LastUpdateID: uint64(snap.LastUpdateID),
		Bids:         parseBinanceLevels(snap.Bids),
		Asks:         parseBinanceLevels(snap.Asks),
	}, nil
}
