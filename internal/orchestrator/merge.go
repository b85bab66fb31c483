package orchestrator

import (
	"context"
	"sync"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// mergeBuffer sizes the fan-in output channel SelectAll/JoinMap write into.
const mergeBuffer = 256

// SelectAll merges a map of per-venue streams of the same event kind into one
// channel whose items are interleaved by arrival order, per §4.6. The returned
// channel closes once every input channel has closed.
func SelectAll[K any, T any](ctx context.Context, streams map[domain.ExchangeId]<-chan domain.MarketStreamEvent[K, T]) <-chan domain.MarketStreamEvent[K, T] {
	out := make(chan domain.MarketStreamEvent[K, T], mergeBuffer)
	var wg sync.WaitGroup
	for _, in := range streams {
		wg.Add(1)
		go func(in <-chan domain.MarketStreamEvent[K, T]) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Tagged pairs a merged stream's item with the exchange it originated from, the
// explicit tagging §4.6's join_map() provides on top of SelectAll's interleaving.
type Tagged[K any, T any] struct {
	Exchange domain.ExchangeId
	Event    domain.MarketStreamEvent[K, T]
}

// JoinMap merges a map of per-venue streams into one channel tagged with each
// item's originating ExchangeId.
func JoinMap[K any, T any](ctx context.Context, streams map[domain.ExchangeId]<-chan domain.MarketStreamEvent[K, T]) <-chan Tagged[K, T] {
	out := make(chan Tagged[K, T], mergeBuffer)
	var wg sync.WaitGroup
	for exchange, in := range streams {
		wg.Add(1)
		go func(exchange domain.ExchangeId, in <-chan domain.MarketStreamEvent[K, T]) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- Tagged[K, T]{Exchange: exchange, Event: ev}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(exchange, in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
