package connector

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Bybit packs every subscription's topic string into one "args" array in a single
// frame and acknowledges the whole frame with one combined response.
type Bybit struct{}

func NewBybit() *Bybit { return &Bybit{} }

func (v *Bybit) Exchange() domain.ExchangeId { return domain.ExchangeBybit }

func (v *Bybit) URL() string { return "wss://stream.bybit.com/v5/public/spot" }

func (v *Bybit) Channel(kind domain.SubscriptionKind, interval domain.CandleInterval) (VenueChannel, error) {
	switch kind {
	case domain.PublicTrades:
		return "publicTrade", nil
	case domain.OrderBooksL1:
		return "tickers", nil
	case domain.OrderBooksL2:
		return "orderbook.50", nil
	case domain.Candles:
		return VenueChannel("kline." + string(interval)), nil
	default:
		return "", fmt.Errorf("bybit: unsupported subscription kind %s", kind)
	}
}

func (v *Bybit) Market(instrument domain.Instrument) VenueMarket {
	return VenueMarket(strings.ToUpper(string(instrument.Base)) + strings.ToUpper(string(instrument.Quote)))
}

func bybitTopic(channel VenueChannel, market VenueMarket) string {
	return fmt.Sprintf("%s.%s", channel, market)
}

func (v *Bybit) SubscriptionIdFor(channel VenueChannel, market VenueMarket) domain.SubscriptionId {
	return domain.SubscriptionId(bybitTopic(channel, market))
}

func (v *Bybit) SubscribeFrames(subs []domain.Subscription) ([]WireMessage, error) {
	topics := make([]string, 0, len(subs))
	for _, s := range subs {
		channel, err := v.Channel(s.Kind, s.CandleInterval)
		if err != nil {
			return nil, err
		}
		topics = append(topics, bybitTopic(channel, v.Market(s.Instrument)))
	}
	payload, err := json.Marshal(struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: topics})
	if err != nil {
		return nil, err
	}
	return []WireMessage{{Payload: payload}}, nil
}

func (v *Bybit) ExpectedResponses(subs []domain.Subscription) int {
	if len(subs) == 0 {
		return 0
	}
	return 1
}

type bybitSubResponse struct {
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Op      string `json:"op"`
}

func (r *bybitSubResponse) Validate() error {
	if r.Success {
		return nil
	}
	return domain.NewSubscribeError(fmt.Sprintf("bybit rejected subscription: %s", r.RetMsg))
}

func (v *Bybit) ParseSubResponse(raw []byte) (SubResponse, bool, error) {
	var probe struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, nil
	}
	if probe.Op != "subscribe" {
		return nil, false, nil
	}
	var resp bybitSubResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, true, err
	}
	return &resp, true, nil
}

// Ping fires every 5s per spec.md §8 scenario 6; a missed pong within
// HeartbeatInterval is classified terminal for the connection.
func (v *Bybit) Ping() *PingPolicy {
	return &PingPolicy{Interval: 5 * time.Second, Build: func() []byte {
		b, _ := json.Marshal(struct {
			Op string `json:"op"`
		}{Op: "ping"})
		return b
	}}
}

func (v *Bybit) HeartbeatInterval() (time.Duration, bool) { return 15 * time.Second, true }

func (v *Bybit) SequenceRule() book.Rule { return book.BybitRule{} }

type bybitEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type bybitTrade struct {
	ID    string `json:"i"`
	Price string `json:"p"`
	Size  string `json:"v"`
	Side  string `json:"S"`
	Ts    int64  `json:"T"`
}

type bybitBookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Seq    int64      `json:"seq"`
	UpdID  int64      `json:"u"`
}

func (v *Bybit) ParseMessage(raw []byte) ParsedMessage {
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}
	if env.Topic == "" {
		return ParsedMessage{Unknown: true}
	}
	subID := domain.SubscriptionId(env.Topic)
	dotIdx := strings.Index(env.Topic, ".")
	channelPrefix := env.Topic
	if dotIdx >= 0 {
		channelPrefix = env.Topic[:dotIdx]
	}
	now := time.Now().UTC()

	switch channelPrefix {
	case "publicTrade":
		var raw []bybitTrade
		if err := json.Unmarshal(env.Data, &raw); err != nil || len(raw) == 0 {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		// Bybit's publicTrade topic batches every fill in the push interval into
		// one "data" array; each entry is a distinct trade.
		trades := make([]domain.PublicTrade, 0, len(raw))
		var lastTs int64
		for _, t := range raw {
			price, _ := decimal.NewFromString(t.Price)
			size, _ := decimal.NewFromString(t.Size)
			side := domain.Buy
			if strings.EqualFold(t.Side, "Sell") {
				side = domain.Sell
			}
			lastTs = t.Ts
			trades = append(trades, domain.PublicTrade{Id: t.ID, Price: price, Amount: size, Side: side})
		}
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   time.UnixMilli(lastTs).UTC(),
			Trades:         trades,
		}

	case "orderbook":
		var d bybitBookData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   time.UnixMilli(env.Ts).UTC(),
			Book: &book.Delta{
				IsSnapshot:    env.Type == "snapshot",
				FirstUpdateID: uint64(d.UpdID),
				LastUpdateID:  uint64(d.UpdID),
				Bids:          parseBybitLevels(d.Bids),
				Asks:          parseBybitLevels(d.Asks),
			},
		}

	default:
		return ParsedMessage{SubscriptionId: subID, TimeExchange: now, Unknown: true}
	}
}

func parseBybitLevels(raw [][]string) []domain.Level {
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
