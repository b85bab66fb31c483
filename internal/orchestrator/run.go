package orchestrator

import (
	"context"

	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/mapper"
	"github.com/sawpanic/marketdata-core/internal/stream"
	"github.com/sawpanic/marketdata-core/internal/transform"
)

// Run accepts an iterable of batches (each possibly mixing exchanges and kinds),
// splits them per §4.6, spawns one consumer task per resulting sub-batch, and
// returns one merged, typed-union (DataKind) output channel per exchange. The
// returned fatal channel carries each sub-batch's first-connection-attempt error as
// it occurs; callers that want spec's "fatal errors propagate out of init" behavior
// for the whole orchestrator should select on it once right after calling Run and
// treat any receive within the handshake/subscribe deadline as fatal to startup.
func (o *Orchestrator) Run(ctx context.Context, batches [][]domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind], <-chan FatalErr, error) {
	subBatches := SplitAll(batches)
	fatal := make(chan FatalErr, len(subBatches))

	perExchange := make(map[domain.ExchangeId]chan domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind])
	outFor := func(exchange domain.ExchangeId) chan domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind] {
		if ch, ok := perExchange[exchange]; ok {
			return ch
		}
		ch := make(chan domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind], streamBuffer)
		perExchange[exchange] = ch
		return ch
	}

	for _, sb := range subBatches {
		if len(sb) == 0 {
			continue
		}
		exchange, kind := sb[0].Exchange, sb[0].Kind
		conn, ok := o.Conns.Get(exchange)
		if !ok {
			return nil, nil, domain.NewIndexError("no connector registered for exchange " + string(exchange))
		}

		m, err := mapper.Map(conn, sb)
		if err != nil {
			return nil, nil, err
		}
		out := outFor(exchange)

		switch kind {
		case domain.PublicTrades:
			tr := transform.NewStateless(exchange, m, o.Log)
			if o.Persist != nil {
				tr.WithPersist(o.Persist)
			}
			spawnConsumer[domain.PublicTrade](ctx, o, conn, sb, "public_trades", tr.Trade, nil, domain.TradeDataKind, nil, out, fatal)
		case domain.OrderBooksL1:
			tr := transform.NewStateless(exchange, m, o.Log)
			spawnConsumer[domain.OrderBookL1](ctx, o, conn, sb, "order_books_l1", tr.L1, nil, domain.L1DataKind, nil, out, fatal)
		case domain.Liquidations:
			tr := transform.NewStateless(exchange, m, o.Log)
			spawnConsumer[domain.Liquidation](ctx, o, conn, sb, "liquidations", tr.Liquidation, nil, domain.LiquidationDataKind, nil, out, fatal)
		case domain.Candles:
			tr := transform.NewStateless(exchange, m, o.Log)
			spawnConsumer[domain.Candle](ctx, o, conn, sb, "candles", tr.Candle, nil, domain.CandleDataKind, nil, out, fatal)
		case domain.OrderBooksL2:
			mgr := o.bookManagerFor(conn)
			tr := transform.NewStateful(exchange, m, mgr, o.Log)
			if o.Persist != nil {
				tr.WithPersist(o.Persist)
			}
			spawnConsumer[domain.OrderBookEvent](ctx, o, conn, sb, "order_books_l2", tr.Book, tr.Reconnected, domain.BookEventDataKind, nil, out, fatal)
		default:
			return nil, nil, domain.NewIndexError("unsupported subscription kind in batch")
		}
	}

	result := make(map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind], len(perExchange))
	for exchange, ch := range perExchange {
		result[exchange] = ch
	}
	return result, fatal, nil
}

// SpawnTrades builds the kind-homogeneous view described by §4.6's select_all(): one
// connection task per exchange present in subs, all emitting domain.PublicTrade,
// with no DataKind conversion — suitable for passing straight into SelectAll.
func (o *Orchestrator) SpawnTrades(ctx context.Context, subs []domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.PublicTrade], <-chan FatalErr, error) {
	return spawnHomogeneous(ctx, o, subs, domain.PublicTrades, "public_trades", func(exchange domain.ExchangeId, m mapper.Mapping) (stream.TransformFunc[domain.PublicTrade], func()) {
		tr := transform.NewStateless(exchange, m, o.Log)
		if o.Persist != nil {
			tr.WithPersist(o.Persist)
		}
		return tr.Trade, nil
	})
}

// SpawnOrderBooksL1 is SpawnTrades' analogue for best-bid/ask snapshots.
func (o *Orchestrator) SpawnOrderBooksL1(ctx context.Context, subs []domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.OrderBookL1], <-chan FatalErr, error) {
	return spawnHomogeneous(ctx, o, subs, domain.OrderBooksL1, "order_books_l1", func(exchange domain.ExchangeId, m mapper.Mapping) (stream.TransformFunc[domain.OrderBookL1], func()) {
		tr := transform.NewStateless(exchange, m, o.Log)
		return tr.L1, nil
	})
}

// SpawnLiquidations is SpawnTrades' analogue for forced-close prints.
func (o *Orchestrator) SpawnLiquidations(ctx context.Context, subs []domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.Liquidation], <-chan FatalErr, error) {
	return spawnHomogeneous(ctx, o, subs, domain.Liquidations, "liquidations", func(exchange domain.ExchangeId, m mapper.Mapping) (stream.TransformFunc[domain.Liquidation], func()) {
		tr := transform.NewStateless(exchange, m, o.Log)
		return tr.Liquidation, nil
	})
}

// SpawnCandles is SpawnTrades' analogue for OHLCV buckets.
func (o *Orchestrator) SpawnCandles(ctx context.Context, subs []domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.Candle], <-chan FatalErr, error) {
	return spawnHomogeneous(ctx, o, subs, domain.Candles, "candles", func(exchange domain.ExchangeId, m mapper.Mapping) (stream.TransformFunc[domain.Candle], func()) {
		tr := transform.NewStateless(exchange, m, o.Log)
		return tr.Candle, nil
	})
}

// SpawnOrderBooksL2 is SpawnTrades' analogue for sequenced L2 deltas; each exchange
// gets its own *book.Manager so Reconnected() resets only that venue's sequencers.
func (o *Orchestrator) SpawnOrderBooksL2(ctx context.Context, subs []domain.Subscription) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, domain.OrderBookEvent], <-chan FatalErr, error) {
	return spawnHomogeneous(ctx, o, subs, domain.OrderBooksL2, "order_books_l2", func(exchange domain.ExchangeId, m mapper.Mapping) (stream.TransformFunc[domain.OrderBookEvent], func()) {
		conn, _ := o.Conns.Get(exchange)
		mgr := o.bookManagerFor(conn)
		tr := transform.NewStateful(exchange, m, mgr, o.Log)
		if o.Persist != nil {
			tr.WithPersist(o.Persist)
		}
		return tr.Book, tr.Reconnected
	})
}

// spawnHomogeneous groups subs (already restricted to kind) by exchange, spawns one
// stream.Consumer per exchange, and returns the un-merged map of typed output
// channels — the shape SelectAll and JoinMap expect.
func spawnHomogeneous[T any](
	ctx context.Context,
	o *Orchestrator,
	subs []domain.Subscription,
	kind domain.SubscriptionKind,
	kindLabel string,
	makeTransform func(domain.ExchangeId, mapper.Mapping) (stream.TransformFunc[T], func()),
) (map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, T], <-chan FatalErr, error) {
	byExchange := make(map[domain.ExchangeId][]domain.Subscription)
	var order []domain.ExchangeId
	for _, s := range subs {
		if s.Kind != kind {
			continue
		}
		if _, ok := byExchange[s.Exchange]; !ok {
			order = append(order, s.Exchange)
		}
		byExchange[s.Exchange] = append(byExchange[s.Exchange], s)
	}

	fatal := make(chan FatalErr, len(order))
	result := make(map[domain.ExchangeId]<-chan domain.MarketStreamEvent[domain.InstrumentKey, T], len(order))

	for _, exchange := range order {
		conn, ok := o.Conns.Get(exchange)
		if !ok {
			return nil, nil, domain.NewIndexError("no connector registered for exchange " + string(exchange))
		}
		sb := byExchange[exchange]
		m, err := mapper.Map(conn, sb)
		if err != nil {
			return nil, nil, err
		}
		transformFn, onReconnect := makeTransform(exchange, m)

		out := make(chan domain.MarketStreamEvent[domain.InstrumentKey, T], streamBuffer)
		spawnConsumer[T](ctx, o, conn, sb, kindLabel, transformFn, onReconnect, nil, out, nil, fatal)
		result[exchange] = out
	}
	return result, fatal, nil
}
