package book

import (
	"sort"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// ApplySnapshot replaces book wholesale with the levels and sequence carried by d,
// per spec §3's OrderBookEvent::Snapshot semantics.
func ApplySnapshot(d Delta) domain.OrderBook {
	out := domain.OrderBook{Sequence: d.LastUpdateID}
	out.Bids = sortedCopy(d.Bids, true)
	out.Asks = sortedCopy(d.Asks, false)
	return out
}

// ApplyUpdate upserts each level in d onto book per spec §4.4's book mutation rule:
// amount == 0 removes the price; otherwise the price is upserted, preserving sort
// order. The resulting book's Sequence is advanced to d.LastUpdateID.
func ApplyUpdate(book domain.OrderBook, d Delta) domain.OrderBook {
	book.Bids = upsertSide(book.Bids, d.Bids, true)
	book.Asks = upsertSide(book.Asks, d.Asks, false)
	book.Sequence = d.LastUpdateID
	return book
}

func sortedCopy(levels []domain.Level, descending bool) []domain.Level {
	dedup := map[string]domain.Level{}
	order := []string{}
	for _, l := range levels {
		if l.Amount.IsZero() {
			continue
		}
		key := l.Price.String()
		if _, seen := dedup[key]; !seen {
			order = append(order, key)
		}
		dedup[key] = l
	}
	out := make([]domain.Level, 0, len(order))
	for _, k := range order {
		out = append(out, dedup[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// upsertSide applies deltas onto an already-sorted side, keeping the invariant that
// no price appears twice and the order is preserved.
func upsertSide(side []domain.Level, deltas []domain.Level, descending bool) []domain.Level {
	if len(deltas) == 0 {
		return side
	}
	byPrice := make(map[string]domain.Level, len(side)+len(deltas))
	order := make([]string, 0, len(side)+len(deltas))
	for _, l := range side {
		key := l.Price.String()
		byPrice[key] = l
		order = append(order, key)
	}

	for _, d := range deltas {
		key := d.Price.String()
		if d.Amount.IsZero() {
			delete(byPrice, key)
			continue
		}
		if _, existed := byPrice[key]; !existed {
			order = append(order, key)
		}
		byPrice[key] = d
	}

	out := make([]domain.Level, 0, len(byPrice))
	seen := make(map[string]bool, len(byPrice))
	for _, key := range order {
		if seen[key] {
			continue
		}
		seen[key] = true
		if l, ok := byPrice[key]; ok {
			out = append(out, l)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
