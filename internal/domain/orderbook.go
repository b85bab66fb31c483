package domain

import (
	"fmt"
	"time"
)

// OrderBook is a sequenced local L2 snapshot. Bids are sorted descending by price,
// asks ascending; each side holds at most one level per price.
type OrderBook struct {
	Sequence   uint64
	TimeEngine *time.Time
	Bids       []Level
	Asks       []Level
}

// NewEmptyOrderBook returns a book with no levels and sequence 0.
func NewEmptyOrderBook() OrderBook {
	return OrderBook{}
}

// BestBid returns the highest bid level, if any.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Validate checks the best_bid.price < best_ask.price invariant when both sides
// are non-empty. It does not check Sequence.
func (b OrderBook) Validate() error {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if hasBid && hasAsk && !bid.Price.LessThan(ask.Price) {
		return fmt.Errorf("domain: crossed book, best_bid=%s best_ask=%s", bid.Price, ask.Price)
	}
	return nil
}

// Clone returns a deep-enough copy safe to hand to a reader without sharing the
// backing arrays of the writer's book.
func (b OrderBook) Clone() OrderBook {
	out := OrderBook{Sequence: b.Sequence}
	if b.TimeEngine != nil {
		t := *b.TimeEngine
		out.TimeEngine = &t
	}
	if len(b.Bids) > 0 {
		out.Bids = append([]Level(nil), b.Bids...)
	}
	if len(b.Asks) > 0 {
		out.Asks = append([]Level(nil), b.Asks...)
	}
	return out
}

// OrderBookEventKind distinguishes a full replacement from a per-level delta.
type OrderBookEventKind int

const (
	Snapshot OrderBookEventKind = iota
	Update
)

func (k OrderBookEventKind) String() string {
	if k == Snapshot {
		return "snapshot"
	}
	return "update"
}

// OrderBookEvent carries either a Snapshot that replaces the local book, or an
// Update delta that upserts per level.
type OrderBookEvent struct {
	EventKind OrderBookEventKind
	Book      OrderBook
}
