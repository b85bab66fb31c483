package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/marketdata-core/internal/domain"
)

// Redis persists snapshots, deltas, and trades into Redis under
// {prefix}:{exchange}:{instrument}:{snapshot|deltas|trades}, per §4.8: snapshots are
// point-in-time overwrites (SET), deltas/trades are append-only logs (RPUSH).
type Redis struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
	ctx    context.Context
}

// NewRedis wires a go-redis client against addr, grounded on the teacher's
// RedisCacheManager connection-pool settings.
func NewRedis(addr, password string, db int, prefix string, log zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &Redis{client: client, prefix: prefix, log: log, ctx: context.Background()}
}

func (r *Redis) key(exchange domain.ExchangeId, instrument domain.InstrumentKey, suffix string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.prefix, exchange, instrument.Name, suffix)
}

func (r *Redis) StoreSnapshot(exchange domain.ExchangeId, instrument domain.InstrumentKey, b domain.OrderBook) {
	data, err := json.Marshal(b)
	if err != nil {
		r.log.Warn().Err(err).Msg("persist: marshal snapshot failed")
		return
	}
	if err := r.client.Set(r.ctx, r.key(exchange, instrument, "snapshot"), data, 0).Err(); err != nil {
		r.log.Warn().Err(err).Str("exchange", string(exchange)).Str("instrument", string(instrument.Name)).Msg("persist: store snapshot failed")
	}
}

func (r *Redis) StoreDelta(exchange domain.ExchangeId, instrument domain.InstrumentKey, d domain.OrderBookEvent) {
	data, err := json.Marshal(d)
	if err != nil {
		r.log.Warn().Err(err).Msg("persist: marshal delta failed")
		return
	}
	if err := r.client.RPush(r.ctx, r.key(exchange, instrument, "deltas"), data).Err(); err != nil {
		r.log.Warn().Err(err).Str("exchange", string(exchange)).Str("instrument", string(instrument.Name)).Msg("persist: store delta failed")
	}
}

func (r *Redis) StoreTrade(exchange domain.ExchangeId, instrument domain.InstrumentKey, t domain.PublicTrade) {
	data, err := json.Marshal(t)
	if err != nil {
		r.log.Warn().Err(err).Msg("persist: marshal trade failed")
		return
	}
	if err := r.client.RPush(r.ctx, r.key(exchange, instrument, "trades"), data).Err(); err != nil {
		r.log.Warn().Err(err).Str("exchange", string(exchange)).Str("instrument", string(instrument.Name)).Msg("persist: store trade failed")
	}
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error { return r.client.Close() }

var _ Adapter = (*Redis)(nil)
