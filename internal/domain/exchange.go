// Package domain holds the shared identifier, subscription, and event types
// that every other package in this module builds on.
package domain

import "fmt"

// ExchangeId is a closed enumeration of the venues this module speaks to.
type ExchangeId string

const (
	ExchangeBinanceSpot ExchangeId = "binance_spot"
	ExchangeOKX         ExchangeId = "okx"
	ExchangeBybit       ExchangeId = "bybit"
	ExchangeKraken      ExchangeId = "kraken"
)

// AllExchanges lists every venue this module knows how to connect to.
var AllExchanges = []ExchangeId{ExchangeBinanceSpot, ExchangeOKX, ExchangeBybit, ExchangeKraken}

// Valid reports whether e is one of the supported venues.
func (e ExchangeId) Valid() bool {
	for _, known := range AllExchanges {
		if e == known {
			return true
		}
	}
	return false
}

func (e ExchangeId) String() string { return string(e) }

// ParseExchangeId validates a lowercase venue string.
func ParseExchangeId(s string) (ExchangeId, error) {
	e := ExchangeId(s)
	if !e.Valid() {
		return "", fmt.Errorf("domain: unknown exchange id %q", s)
	}
	return e, nil
}
