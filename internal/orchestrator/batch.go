// Package orchestrator implements C7: batch-splitting user subscriptions into
// single-venue, single-kind sub-batches, spawning one stream.Consumer per sub-batch,
// and merging the resulting per-venue streams with select_all/join_map/DataKind
// aggregation helpers, grounded on the teacher's fan-in multiplexing idiom
// (src/infrastructure/data/streams.go's MultiplexedStream).
package orchestrator

import "github.com/sawpanic/marketdata-core/internal/domain"

// batchKey groups subscriptions that can share one connection task: §4.6 requires
// every sub-batch be single-venue, single-kind because connectors are type-specialized.
type batchKey struct {
	exchange domain.ExchangeId
	kind     domain.SubscriptionKind
}

// Split transparently splits a batch of subscriptions (which may mix exchanges and
// kinds) into sub-batches that are each single-venue, single-kind, preserving the
// relative order subscriptions were first seen in.
func Split(batch []domain.Subscription) [][]domain.Subscription {
	var order []batchKey
	groups := make(map[batchKey][]domain.Subscription)

	for _, s := range batch {
		k := batchKey{s.Exchange, s.Kind}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}

	out := make([][]domain.Subscription, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// SplitAll applies Split across an iterable of batches and flattens the result into
// one list of single-venue, single-kind sub-batches.
func SplitAll(batches [][]domain.Subscription) [][]domain.Subscription {
	var out [][]domain.Subscription
	for _, b := range batches {
		out = append(out, Split(b)...)
	}
	return out
}
