package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// OKX requires one {channel, instId} pair per subscription entry but packs all of
// them into a single "args" array in one frame; it acknowledges each pair
// individually, so ExpectedResponses scales with len(subs).
type OKX struct{}

func NewOKX() *OKX { return &OKX{} }

func (o *OKX) Exchange() domain.ExchangeId { return domain.ExchangeOKX }

func (o *OKX) URL() string { return "wss://ws.okx.com:8443/ws/v5/public" }

func (o *OKX) Channel(kind domain.SubscriptionKind, interval domain.CandleInterval) (VenueChannel, error) {
	switch kind {
	case domain.PublicTrades:
		return "trades", nil
	case domain.OrderBooksL1:
		return "bbo-tbt", nil
	case domain.OrderBooksL2:
		return "books", nil
	case domain.Liquidations:
		return "liquidation-orders", nil
	case domain.Candles:
		return VenueChannel("candle" + string(interval)), nil
	default:
		return "", fmt.Errorf("okx: unsupported subscription kind %s", kind)
	}
}

func (o *OKX) Market(instrument domain.Instrument) VenueMarket {
	return VenueMarket(strings.ToUpper(string(instrument.Base)) + "-" + strings.ToUpper(string(instrument.Quote)))
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (o *OKX) SubscriptionIdFor(channel VenueChannel, market VenueMarket) domain.SubscriptionId {
	return domain.NewSubscriptionId(string(channel), string(market))
}

func (o *OKX) SubscribeFrames(subs []domain.Subscription) ([]WireMessage, error) {
	args := make([]okxArg, 0, len(subs))
	for _, s := range subs {
		channel, err := o.Channel(s.Kind, s.CandleInterval)
		if err != nil {
			return nil, err
		}
		args = append(args, okxArg{Channel: string(channel), InstID: string(o.Market(s.Instrument))})
	}
	payload, err := json.Marshal(struct {
		Op   string   `json:"op"`
		Args []okxArg `json:"args"`
	}{Op: "subscribe", Args: args})
	if err != nil {
		return nil, err
	}
	return []WireMessage{{Payload: payload}}, nil
}

func (o *OKX) ExpectedResponses(subs []domain.Subscription) int { return len(subs) }

type okxSubResponse struct {
	Event string `json:"event"`
	Arg   okxArg `json:"arg"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
}

func (r *okxSubResponse) Validate() error {
	if r.Event == "subscribe" {
		return nil
	}
	return domain.NewSubscribeError(fmt.Sprintf("okx subscribe failure … code: %s msg: %s", r.Code, r.Msg))
}

func (o *OKX) ParseSubResponse(raw []byte) (SubResponse, bool, error) {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, nil
	}
	if probe.Event != "subscribe" && probe.Event != "error" {
		return nil, false, nil
	}
	var resp okxSubResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, true, err
	}
	return &resp, true, nil
}

func (o *OKX) Ping() *PingPolicy {
	return &PingPolicy{Interval: 25 * time.Second, Build: func() []byte { return []byte("ping") }}
}

func (o *OKX) HeartbeatInterval() (time.Duration, bool) { return 30 * time.Second, true }

func (o *OKX) SequenceRule() book.Rule { return book.OKXRule{} }

type okxEnvelope struct {
	Arg    okxArg          `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type okxTrade struct {
	TradeID string `json:"tradeId"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

type okxBookLevel [4]string // [price, size, liquidatedOrders, numOrders]

type okxBookData struct {
	Bids     []okxBookLevel `json:"bids"`
	Asks     []okxBookLevel `json:"asks"`
	Ts       string         `json:"ts"`
	SeqID    int64          `json:"seqId"`
	PrevSeq  int64          `json:"prevSeqId"`
	Checksum int64          `json:"checksum"`
}

func (o *OKX) ParseMessage(raw []byte) ParsedMessage {
	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ParsedMessage{Err: domain.NewDeserializeError(err)}
	}
	if env.Arg.Channel == "" {
		return ParsedMessage{Unknown: true}
	}
	subID := domain.NewSubscriptionId(env.Arg.Channel, env.Arg.InstID)
	now := time.Now().UTC()

	switch {
	case env.Arg.Channel == "trades":
		var raw []okxTrade
		if err := json.Unmarshal(env.Data, &raw); err != nil || len(raw) == 0 {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		// OKX's "trades" channel carries one or more prints per push; every
		// element of "data" is a distinct trade.
		trades := make([]domain.PublicTrade, 0, len(raw))
		var lastTsMs int64
		for _, t := range raw {
			price, _ := decimal.NewFromString(t.Price)
			size, _ := decimal.NewFromString(t.Size)
			side := domain.Buy
			if t.Side == "sell" {
				side = domain.Sell
			}
			tsMs, _ := strconv.ParseInt(t.Ts, 10, 64)
			lastTsMs = tsMs
			trades = append(trades, domain.PublicTrade{Id: t.TradeID, Price: price, Amount: size, Side: side})
		}
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   time.UnixMilli(lastTsMs).UTC(),
			Trades:         trades,
		}

	case env.Arg.Channel == "books":
		var datas []okxBookData
		if err := json.Unmarshal(env.Data, &datas); err != nil || len(datas) == 0 {
			return ParsedMessage{Err: domain.NewDeserializeError(err)}
		}
		d := datas[0]
		isSnapshot := env.Action == "snapshot"
		tsMs, _ := strconv.ParseInt(d.Ts, 10, 64)
		seq := uint64(d.SeqID)
		return ParsedMessage{
			SubscriptionId: subID,
			TimeExchange:   time.UnixMilli(tsMs).UTC(),
			Book: &book.Delta{
				IsSnapshot:      isSnapshot,
				FirstUpdateID:   uint64(d.PrevSeq + 1),
				LastUpdateID:    seq,
				HasPrevUpdateID: true,
				PrevUpdateID:    uint64(d.PrevSeq),
				HasChecksum:     true,
				Checksum:        d.Checksum,
				Bids:            parseOKXLevels(d.Bids),
				Asks:            parseOKXLevels(d.Asks),
			},
		}

	default:
		return ParsedMessage{SubscriptionId: subID, TimeExchange: now, Unknown: true}
	}
}

func parseOKXLevels(raw []okxBookLevel) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, l := range raw {
		price, err1 := decimal.NewFromString(l[0])
		size, err2 := decimal.NewFromString(l[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.Level{Price: price, Amount: size})
	}
	return out
}
