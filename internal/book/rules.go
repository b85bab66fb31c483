package book

// Per-venue Rule implementations of spec §4.4's ordering table. Each is stateless
// and only compares the fields carried on Delta against the sequencer's tracked
// lastUpdateID, so a single Rule value can be shared across many Sequencers.

// BinanceSpotRule: First `U <= lastSnapId+1 <= u`; Next `U == prev_u + 1`.
// REST initial snapshot supplies lastSnapId (delivered as a synthetic snapshot Delta).
type BinanceSpotRule struct{}

func (BinanceSpotRule) Name() string { return "binance_spot" }

func (BinanceSpotRule) AcceptFirst(lastSnapID uint64, d Delta) bool {
	return d.FirstUpdateID <= lastSnapID+1 && lastSnapID+1 <= d.LastUpdateID
}

func (BinanceSpotRule) AcceptNext(prevLastUpdateID uint64, d Delta) bool {
	return d.FirstUpdateID == prevLastUpdateID+1
}

// BinanceFuturesRule: First `U <= lastSnapId <= u` or `pu == prev_u`; Next `pu == prev_u`.
type BinanceFuturesRule struct{}

func (BinanceFuturesRule) Name() string { return "binance_futures" }

func (BinanceFuturesRule) AcceptFirst(lastSnapID uint64, d Delta) bool {
	if d.FirstUpdateID <= lastSnapID && lastSnapID <= d.LastUpdateID {
		return true
	}
	return d.HasPrevUpdateID && d.PrevUpdateID == lastSnapID
}

func (BinanceFuturesRule) AcceptNext(prevLastUpdateID uint64, d Delta) bool {
	return d.HasPrevUpdateID && d.PrevUpdateID == prevLastUpdateID
}

// BybitRule: snapshot frame marked; subsequent `u == prev_u + 1` for both first and next.
type BybitRule struct{}

func (BybitRule) Name() string { return "bybit" }

func (BybitRule) AcceptFirst(lastSnapID uint64, d Delta) bool {
	return d.LastUpdateID == lastSnapID+1
}

func (BybitRule) AcceptNext(prevLastUpdateID uint64, d Delta) bool {
	return d.LastUpdateID == prevLastUpdateID+1
}

// OKXRule: `action == "snapshot"` then `action == "update"` with checksum/seq contiguity.
// The snapshot/update tagging is handled by the connector setting Delta.IsSnapshot;
// here we only enforce seqId contiguity. The venue checksum is carried on
// Delta.Checksum but is neither verified nor logged anywhere in this module.
type OKXRule struct{}

func (OKXRule) Name() string { return "okx" }

func (OKXRule) AcceptFirst(lastSnapID uint64, d Delta) bool {
	return d.FirstUpdateID == lastSnapID+1
}

func (OKXRule) AcceptNext(prevLastUpdateID uint64, d Delta) bool {
	return d.FirstUpdateID == prevLastUpdateID+1
}

// KrakenRule: inline snapshot then contiguous updates. Kraken's wire protocol has no
// numeric update id; the connector assigns a monotonically increasing local sequence
// number per message as it parses the stream, so this rule degenerates to "every
// post-snapshot message in arrival order is contiguous by construction" while still
// exercising the same state machine as the numbered venues.
type KrakenRule struct{}

func (KrakenRule) Name() string { return "kraken" }

func (KrakenRule) AcceptFirst(lastSnapID uint64, d Delta) bool {
	return d.FirstUpdateID == lastSnapID+1
}

func (KrakenRule) AcceptNext(prevLastUpdateID uint64, d Delta) bool {
	return d.FirstUpdateID == prevLastUpdateID+1
}

// HyperliquidRule: full-depth frames replace the book outright; every accepted delta
// is itself a snapshot, so there is no meaningful "next" contiguity to check. Kept as
// a documented extension point per spec §4.4's table; no connector in this module's
// reference set (Binance/OKX/Bybit/Kraken) uses it yet.
type HyperliquidRule struct{}

func (HyperliquidRule) Name() string { return "hyperliquid" }

func (HyperliquidRule) AcceptFirst(uint64, Delta) bool { return true }
func (HyperliquidRule) AcceptNext(uint64, Delta) bool  { return true }
