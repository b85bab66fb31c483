package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/marketdata-core/internal/book"
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/metrics"
	"github.com/sawpanic/marketdata-core/internal/persist"
	"github.com/sawpanic/marketdata-core/internal/stream"
)

// streamBuffer is the per-consumer output channel's capacity; sized to absorb a
// short burst on one venue without applying backpressure to its reader goroutine.
const streamBuffer = 256

// Orchestrator owns the registry of venue connectors and spawns one stream.Consumer
// task per single-venue, single-kind sub-batch (C7), per §4.6.
type Orchestrator struct {
	Conns    connector.Registry
	Metrics  *metrics.Registry
	Log      zerolog.Logger
	Breakers map[domain.ExchangeId]*gobreaker.CircuitBreaker
	Limiters map[domain.ExchangeId]*connector.FrameLimiter

	// Persist, when non-nil, is wired into every transform built by this
	// Orchestrator so trades, L2 snapshots, and L2 deltas are stored per §4.8.
	// Left nil, transforms fall back to their own no-op default.
	Persist persist.Adapter

	mu           sync.Mutex
	bookManagers map[domain.ExchangeId]*book.Manager
}

// New builds an Orchestrator over conns. Breakers and Limiters are optional
// per-exchange wiring; a nil map means no circuit breaker / no rate limiting.
func New(conns connector.Registry, metricsReg *metrics.Registry, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Conns:        conns,
		Metrics:      metricsReg,
		Log:          log,
		Breakers:     make(map[domain.ExchangeId]*gobreaker.CircuitBreaker),
		Limiters:     make(map[domain.ExchangeId]*connector.FrameLimiter),
		bookManagers: make(map[domain.ExchangeId]*book.Manager),
	}
}

func (o *Orchestrator) bookManagerFor(conn connector.Connector) *book.Manager {
	exchange := conn.Exchange()
	o.mu.Lock()
	defer o.mu.Unlock()
	if mgr, ok := o.bookManagers[exchange]; ok {
		return mgr
	}
	mgr := book.NewManager(func() *book.Sequencer { return book.NewSequencer(conn.SequenceRule()) }, o.Log)
	o.bookManagers[exchange] = mgr
	return mgr
}

// FatalErr pairs an async fatal-to-caller error with the sub-batch that produced it:
// a first connection attempt (§4.5) that never established. Spec §4.5 surfaces this
// synchronously from init; an orchestrator composing many concurrent connection
// tasks instead reports each one on this channel as it occurs.
type FatalErr struct {
	Exchange domain.ExchangeId
	Kind     domain.SubscriptionKind
	Err      error
}

func (f FatalErr) Error() string { return f.Err.Error() }

// spawnConsumer wires a single sub-batch into a stream.Consumer[T] and starts it.
// Every item the consumer emits is forwarded, unmodified, to typed (if non-nil) and,
// wrapped via wrap, to dataKindOut (if non-nil) — the two lower-level (SpawnTrades,
// etc.) and higher-level (Run) call sites populate only the destination they need.
// A Run error observed while ctx is still live is the first-connection-attempt
// failure and is reported on fatal rather than silently dropped.
func spawnConsumer[T any](
	ctx context.Context,
	o *Orchestrator,
	conn connector.Connector,
	subs []domain.Subscription,
	kindLabel string,
	transformFn stream.TransformFunc[T],
	onReconnect func(),
	wrap func(T) domain.DataKind,
	typed chan<- domain.MarketStreamEvent[domain.InstrumentKey, T],
	dataKindOut chan<- domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind],
	fatal chan<- FatalErr,
) {
	exchange := conn.Exchange()
	consumerOut := make(chan domain.MarketStreamEvent[domain.InstrumentKey, T], streamBuffer)

	c := &stream.Consumer[T]{
		Exchange:    exchange,
		KindLabel:   kindLabel,
		Conn:        conn,
		Subs:        subs,
		Transform:   transformFn,
		OnReconnect: onReconnect,
		Out:         consumerOut,
		Metrics:     o.Metrics,
		Log:         o.Log,
		Breaker:     o.Breakers[exchange],
		Limiter:     o.Limiters[exchange],
	}

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			select {
			case fatal <- FatalErr{Exchange: exchange, Kind: subs[0].Kind, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-consumerOut:
				if !ok {
					return
				}
				if typed != nil {
					select {
					case typed <- ev:
					case <-ctx.Done():
						return
					}
				}
				if dataKindOut != nil {
					select {
					case dataKindOut <- convertToDataKind(ev, wrap):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}

func convertToDataKind[T any](ev domain.MarketStreamEvent[domain.InstrumentKey, T], wrap func(T) domain.DataKind) domain.MarketStreamEvent[domain.InstrumentKey, domain.DataKind] {
	if ev.IsReconnecting() {
		return domain.Reconnecting[domain.InstrumentKey, domain.DataKind](ev.ReconnectingExchange())
	}
	item, _ := ev.ItemValue()
	return domain.Item(domain.IntoDataKind(item, wrap))
}
