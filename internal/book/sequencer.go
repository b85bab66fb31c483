// Package book implements the L2 sequencer, the local OrderBook mutation rules,
// and the shared OrderBookMap / Manager that many readers observe (C5, C8).
package book

import (
	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Delta is the sequencer's venue-agnostic view of one inbound L2 message: either
// a full snapshot or a per-level update, carrying whichever sequence fields the
// venue uses so a Rule can apply the §4.4 accept rule uniformly.
type Delta struct {
	IsSnapshot bool

	// FirstUpdateID/LastUpdateID are the venue's "U"/"u" (Binance), or both set to
	// the single sequence number a venue exposes (Bybit "u", OKX "seqId", ...).
	FirstUpdateID uint64
	LastUpdateID  uint64

	// PrevUpdateID is Binance Futures' "pu" / an explicit previous-sequence marker.
	// HasPrevUpdateID is false for venues that don't carry one.
	PrevUpdateID    uint64
	HasPrevUpdateID bool

	// Checksum is OKX/Kraken's book checksum, when the venue provides one.
	Checksum    int64
	HasChecksum bool

	Bids []domain.Level
	Asks []domain.Level
}

// Status is the sequencer's state machine position.
type Status int

const (
	AwaitingSnapshot Status = iota
	Synced
	Desynced
)

func (s Status) String() string {
	switch s {
	case AwaitingSnapshot:
		return "awaiting_snapshot"
	case Synced:
		return "synced"
	case Desynced:
		return "desynced"
	default:
		return "unknown"
	}
}

// Rule is the per-venue ordering invariant from spec §4.4's table. AcceptFirst
// validates the first non-snapshot delta received after a (re)seed; AcceptNext
// validates every subsequent one.
type Rule interface {
	Name() string
	AcceptFirst(lastSnapshotID uint64, d Delta) bool
	AcceptNext(prevLastUpdateID uint64, d Delta) bool
}

// Sequencer enforces spec §4.4/§8's ordering invariants for a single (venue,
// instrument) pair: AwaitingSnapshot → Synced → Desynced(→ reconnect).
type Sequencer struct {
	rule              Rule
	status            Status
	lastUpdateID      uint64
	awaitingFirstPost bool
}

func NewSequencer(rule Rule) *Sequencer {
	return &Sequencer{rule: rule, status: AwaitingSnapshot}
}

func (s *Sequencer) Status() Status { return s.status }

// Reset returns the sequencer to AwaitingSnapshot, as happens after a Reconnecting
// event propagates for the owning venue (§4.7).
func (s *Sequencer) Reset() {
	s.status = AwaitingSnapshot
	s.lastUpdateID = 0
	s.awaitingFirstPost = false
}

// Apply advances the state machine for one inbound delta. accept reports whether
// the delta should be applied to the local book; err is non-nil only for a
// terminal *domain.DataError (InvalidSequence) that the caller must treat as
// terminal-for-connection.
func (s *Sequencer) Apply(d Delta) (accept bool, err error) {
	switch s.status {
	case AwaitingSnapshot, Desynced:
		if !d.IsSnapshot {
			return false, nil // dropped: spec §4.4 "An Update in AwaitingSnapshot is dropped"
		}
		s.seed(d)
		return true, nil

	case Synced:
		if d.IsSnapshot {
			s.seed(d)
			return true, nil
		}

		var ok bool
		if s.awaitingFirstPost {
			ok = s.rule.AcceptFirst(s.lastUpdateID, d)
		} else {
			ok = s.rule.AcceptNext(s.lastUpdateID, d)
		}
		if !ok {
			s.status = Desynced
			return false, domain.NewInvalidSequenceError(s.lastUpdateID+1, d.FirstUpdateID)
		}
		s.lastUpdateID = d.LastUpdateID
		s.awaitingFirstPost = false
		return true, nil

	default:
		return false, nil
	}
}

func (s *Sequencer) seed(d Delta) {
	s.status = Synced
	s.lastUpdateID = d.LastUpdateID
	s.awaitingFirstPost = true
}
