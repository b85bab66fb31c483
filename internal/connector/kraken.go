package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Kraken groups every subscription for one channel into a single frame carrying a
// "pair" array, but acknowledges each pair individually via subscriptionStatus.
type Kraken struct {
	mu      sync.Mutex
	bookSeq map[domain.SubscriptionId]uint64
}

func NewKraken() *Kraken { return &Kraken{bookSeq: make(map[domain.SubscriptionId]uint64)} }

func (k *Kraken) SubscriptionIdFor(channel VenueChannel, market VenueMarket) domain.SubscriptionId {
	return domain.NewSubscriptionId(baseChannelName(string(channel)), string(market))
}

func (k *Kraken) Exchange() domain.ExchangeId { return domain.ExchangeKraken }

func (k *Kraken) URL() string { return "wss://ws.kraken.com" }

func (k *Kraken) Channel(kind domain.SubscriptionKind, interval domain.CandleInterval) (VenueChannel, error) {
	switch kind {
	case domain.PublicTrades:
		return "trade", nil
	case domain.OrderBooksL2:
		return "book", nil
	case domain.OrderBooksL1:
		return "spread", nil
	case domain.Candles:
		return VenueChannel("ohlc-" + string(interval)), nil
	default:
		return "", fmt.Errorf("kraken: unsupported subscription kind %s", kind)
	}
}

// krakenAssetAliases maps a handful of assets whose Kraken ticker differs from the
// common symbol; anything not listed passes through uppercased unchanged.
var krakenAssetAliases = map[domain.Asset]string{
	"btc": "XBT",
}

func krakenAsset(a domain.Asset) string {
	if alias, ok := krakenAssetAliases[a]; ok {
		return alias
	}
	return strings.ToUpper(string(a))
}

func (k *Kraken) Market(instrument domain.Instrument) VenueMarket {
	return VenueMarket(krakenAsset(instrument.Base) + "/" + krakenAsset(instrument.Quote))
}

func (k *Kraken) SubscribeFrames(subs []domain.Subscription) ([]WireMessage, error) {
	type byChannel struct {
		channel VenueChannel
		pairs   []string
	}
	order := []VenueChannel{}
	grouped := map[VenueChannel]*byChannel{}
	for _, s := range subs {
		channel, err := k.Channel(s.Kind, s.CandleInterval)
		if err != nil {
			return nil, err
		}
		g, ok := grouped[channel]
		if !ok {
			g = &byChannel{channel: channel}
			grouped[channel] = g
			order = append(order, channel)
		}
		g.pairs = append(g.pairs, string(k.Market(s.Instrument)))
	}

	frames := make([]WireMessage, 0, len(order))
	for _, ch := range order {
		g := grouped[ch]
		payload, err := json.Marshal(struct {
			Event        string                 `json:"event"`
			Pair         []string               `json:"pair"`
			Subscription map[string]interface{} `json:"subscription"`
		}{
			Event:        "subscribe",
			Pair:         g.pairs,
			Subscription: map[string]interface{}{"name": string(g.channel)},
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, WireMessage{Payload: payload})
	}
	return frames, nil
}

func (k *Kraken) ExpectedResponses(subs []domain.Subscription) int { return len(subs) }

type krakenSubscriptionStatus struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ChannelName  string `json:"channelName"`
	ErrorMessage string `json:"errorMessage"`
}

func (r *krakenSubscriptionStatus) Validate() error {
	if r.Status == "subscribed" {
		return nil
	}
	return domain.NewSubscribeError(fmt.Sprintf("kraken rejected subscription %s/%s: %s", r.ChannelName, r.Pair, r.ErrorMessage))
}

func (k *Kraken) ParseSubResponse(raw []byte) (SubResponse, bool, error) {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, nil
	}
	if probe.Event != "subscriptionStatus" {
		return nil, false, nil
	}
	var resp krakenSubscriptionStatus
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, true, err
	}
	return &resp, true, nil
}

func (k *Kraken) Ping() *PingPolicy {
	return &PingPolicy{Interval: 20 * time.Second, Build: func() []byte { return []byte(`"ping"`) }}
}

func (k *Kraken) HeartbeatInterval() (time.Duration, bool) { return 60 * time.Second, true }

func (k *Kraken) SequenceRule() book.Rule { return book.KrakenRule{} }

// ParseMessage handles Kraken's two wire shapes: the object-form event messages
// (subscriptionStatus, heartbeat, systemStatus — routed to Unknown here since they
// carry no data payload) and the array-form channel messages
// [channelID, payload, channelName, pair].
func (k *Kraken) ParseMessage(raw []byte) ParsedMessage {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return ParsedMessage{Unknown: true}
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}
	if len(arr) < 4 {
		return ParsedMessage{Err: domain.NewDeserializeError(fmt.Errorf("kraken: channel message too short"))}
	}

	var channelName, pair string
	if err := json.Unmarshal(arr[len(arr)-2], &channelName); err != nil {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}
	if err := json.Unmarshal(arr[len(arr)-1], &pair); err != nil {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}
	subID := domain.NewSubscriptionId(baseChannelName(channelName), pair)
	now := time.Now().UTC()

	switch {
	case channelName == "trade":
		var raw [][]string
		if err := json.Unmarshal(arr[1], &raw); err != nil || len(raw) == 0 {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		// Kraken batches every fill since the last update into this array, e.g.
		// [["5541.20000","0.15850568",...],["5541.30000","0.02000000",...]]; every
		// entry is a distinct trade and must be carried, not just the first.
		trades := make([]domain.PublicTrade, 0, len(raw))
		var lastTs time.Time
		for _, t := range raw {
			if len(t) < 4 {
				return ParsedMessage{Err: domain.NewDeserializeError(fmt.Errorf("kraken: malformed trade"))}
			}
			price, _ := decimal.NewFromString(t[0])
			volume, _ := decimal.NewFromString(t[1])
			tsFloat, _ := strconv.ParseFloat(t[2], 64)
			side := domain.Buy
			if t[3] == "s" {
				side = domain.Sell
			}
			lastTs = time.UnixMilli(int64(tsFloat * 1000)).UTC()
			trades = append(trades, domain.PublicTrade{Id: uuid.NewString(), Price: price, Amount: volume, Side: side})
		}
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   lastTs,
			Trades:         trades,
		}

	case strings.HasPrefix(channelName, "book"):
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(arr[1], &payload); err != nil {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		delta := book.Delta{}
		if raw, ok := payload["as"]; ok {
			delta.IsSnapshot = true
			delta.Asks = parseKrakenLevels(raw)
		}
		if raw, ok := payload["bs"]; ok {
			delta.IsSnapshot = true
			delta.Bids = parseKrakenLevels(raw)
		}
		if raw, ok := payload["a"]; ok {
			delta.Asks = parseKrakenLevels(raw)
		}
		if raw, ok := payload["b"]; ok {
			delta.Bids = parseKrakenLevels(raw)
		}
		seqNum := k.nextBookSeq(subID, delta.IsSnapshot)
		delta.FirstUpdateID = seqNum
		delta.LastUpdateID = seqNum
		return ParsedMessage{SubscriptionId: subID, TimeExchange: now, Book: &delta}

	default:
		return ParsedMessage{SubscriptionId: subID, TimeExchange: now, Unknown: true}
	}
}

// nextBookSeq assigns the local contiguous sequence number KrakenRule checks: 0 for
// a snapshot (seeding the sequencer), incrementing by 1 for every update after it.
func (k *Kraken) nextBookSeq(id domain.SubscriptionId, isSnapshot bool) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if isSnapshot {
		k.bookSeq[id] = 0
		return 0
	}
	k.bookSeq[id]++
	return k.bookSeq[id]
}

// baseChannelName strips Kraken's depth suffix, e.g. "book-10" -> "book".
func baseChannelName(name string) string {
	if i := strings.Index(name, "-"); i >= 0 {
		return name[:i]
	}
	return name
}

func parseKrakenLevels(raw json.RawMessage) []domain.Level {
	var entries [][]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	out := make([]domain.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		price, err1 := decimal.NewFromString(e[0])
		amount, err2 := decimal.NewFromString(e[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.Level{Price: price, Amount: amount})
	}
	return out
}
