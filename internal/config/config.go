// Package config loads the SystemConfig this module's core is wired from: the
// instrument universe to subscribe to, and the optional persistence backend.
// Per spec, the core itself has no CLI surface; config is an external
// collaborator a composition root (cmd/ingestd) calls into.
package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/indexer"
	"github.com/sawpanic/marketdata-core/internal/persist"
)

// InstrumentConfig names one instrument to subscribe to on one venue, together
// with the kinds of data wanted for it.
type InstrumentConfig struct {
	Exchange  string   `mapstructure:"exchange"`
	VenueName string   `mapstructure:"venue_name"`
	Base      string   `mapstructure:"base"`
	Quote     string   `mapstructure:"quote"`
	Kind      string   `mapstructure:"kind"` // spot | perpetual | future | option
	Kinds     []string `mapstructure:"kinds"` // subscription kinds: public_trades, order_books_l1, order_books_l2, liquidations, candles
	Intervals []string `mapstructure:"candle_intervals"`
}

// PersistenceConfig is the optional storage backend wiring. Backend is "redis"
// or "memory"; Redis fields are only read when Backend == "redis".
type PersistenceConfig struct {
	Backend  string `mapstructure:"backend"`
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SystemConfig is the root configuration document.
type SystemConfig struct {
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Persistence PersistenceConfig  `mapstructure:"persistence"`
}

// Load reads path (YAML, JSON, or TOML — viper infers from the extension) into a
// SystemConfig.
func Load(path string) (*SystemConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("persistence.backend", "memory")
	v.SetDefault("persistence.prefix", "marketdata")
	v.SetDefault("persistence.db", 0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg SystemConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every instrument names a known exchange, a subscription
// kind this module understands, and that at least one kind is requested.
func (c *SystemConfig) Validate() error {
	for i, ic := range c.Instruments {
		if _, err := domain.ParseExchangeId(ic.Exchange); err != nil {
			return fmt.Errorf("config: instruments[%d]: %w", i, err)
		}
		if ic.VenueName == "" {
			return fmt.Errorf("config: instruments[%d]: venue_name is required", i)
		}
		if ic.Base == "" || ic.Quote == "" {
			return fmt.Errorf("config: instruments[%d]: base and quote are required", i)
		}
		if len(ic.Kinds) == 0 {
			return fmt.Errorf("config: instruments[%d]: at least one kind is required", i)
		}
		for _, k := range ic.Kinds {
			if _, err := parseSubscriptionKind(k); err != nil {
				return fmt.Errorf("config: instruments[%d]: %w", i, err)
			}
		}
	}
	switch c.Persistence.Backend {
	case "", "memory", "redis", "none":
	default:
		return fmt.Errorf("config: persistence.backend %q not recognized", c.Persistence.Backend)
	}
	return nil
}

func parseSubscriptionKind(s string) (domain.SubscriptionKind, error) {
	switch s {
	case "public_trades":
		return domain.PublicTrades, nil
	case "order_books_l1":
		return domain.OrderBooksL1, nil
	case "order_books_l2":
		return domain.OrderBooksL2, nil
	case "liquidations":
		return domain.Liquidations, nil
	case "candles":
		return domain.Candles, nil
	default:
		return 0, fmt.Errorf("unknown subscription kind %q", s)
	}
}

func parseInstrumentKind(s string) domain.InstrumentKind {
	switch s {
	case "perpetual":
		return domain.KindPerpetual
	case "future":
		return domain.KindFuture
	case "option":
		return domain.KindOption
	default:
		return domain.KindSpot
	}
}

// BuildIndex registers every configured instrument with an indexer.Builder and
// returns the resulting IndexedInstruments registry, the expanded list of
// Subscriptions every instrument/kind pair resolves to, and any parse error
// from a malformed entry (unknown exchange/kind never reaches here: Validate
// already rejected it during Load).
func (c *SystemConfig) BuildIndex() (indexer.IndexedInstruments, []domain.Subscription, error) {
	builder := indexer.NewBuilder()
	var subs []domain.Subscription

	for _, ic := range c.Instruments {
		exchange, err := domain.ParseExchangeId(ic.Exchange)
		if err != nil {
			return indexer.IndexedInstruments{}, nil, err
		}
		inst := domain.Instrument{
			Exchange: exchange,
			Base:     domain.Asset(ic.Base),
			Quote:    domain.Asset(ic.Quote),
			Spec:     domain.InstrumentSpec{Kind: parseInstrumentKind(ic.Kind)},
		}
		builder.Add(inst, domain.InstrumentNameExchange(ic.VenueName))

		for _, k := range ic.Kinds {
			kind, err := parseSubscriptionKind(k)
			if err != nil {
				return indexer.IndexedInstruments{}, nil, err
			}
			if kind != domain.Candles {
				subs = append(subs, domain.Subscription{Exchange: exchange, Instrument: inst, Kind: kind})
				continue
			}
			intervals := ic.Intervals
			if len(intervals) == 0 {
				intervals = []string{string(domain.Interval1m)}
			}
			for _, interval := range intervals {
				subs = append(subs, domain.Subscription{
					Exchange:       exchange,
					Instrument:     inst,
					Kind:           domain.Candles,
					CandleInterval: domain.CandleInterval(interval),
				})
			}
		}
	}

	return builder.Build(), subs, nil
}

// BuildPersistence constructs the persist.Adapter named by Persistence.Backend.
// The returned close func releases any backend connection and is always non-nil,
// even for backends with nothing to release.
func (c *SystemConfig) BuildPersistence(log zerolog.Logger) (persist.Adapter, func() error, error) {
	noop := func() error { return nil }
	switch c.Persistence.Backend {
	case "", "none":
		return persist.NoOp{}, noop, nil
	case "memory":
		return persist.NewMemory(), noop, nil
	case "redis":
		if c.Persistence.URL == "" {
			return nil, noop, fmt.Errorf("config: persistence.url is required for backend \"redis\"")
		}
		r := persist.NewRedis(c.Persistence.URL, c.Persistence.Password, c.Persistence.DB, c.Persistence.Prefix, log)
		return r, r.Close, nil
	default:
		return nil, noop, fmt.Errorf("config: persistence.backend %q not recognized", c.Persistence.Backend)
	}
}
