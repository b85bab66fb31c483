// Command ingestd is a demonstration composition root, not a supported CLI
// surface: it wires config, the connector registry, the orchestrator, and an
// optional persistence backend together, then prints normalized events to
// stderr until interrupted. Real integrations call internal/orchestrator
// directly from their own process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/term"

	"github.com/sawpanic/marketdata-core/internal/config"
	"github.com/sawpanic/marketdata-core/internal/connector"
	"github.com/sawpanic/marketdata-core/internal/domain"
	"github.com/sawpanic/marketdata-core/internal/httpapi"
	"github.com/sawpanic/marketdata-core/internal/metrics"
	"github.com/sawpanic/marketdata-core/internal/orchestrator"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	// else: stderr is redirected (container/systemd), leave zerolog's default
	// JSON writer in place so log aggregators get structured lines.

	configPath := flag.String("config", "config.yaml", "path to SystemConfig YAML")
	httpAddr := flag.String("http", "127.0.0.1:9090", "address for the /healthz and /metrics listener")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *httpAddr); err != nil {
		log.Error().Err(err).Msg("ingestd exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, httpAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, subs, err := cfg.BuildIndex()
	if err != nil {
		return fmt.Errorf("build instrument index: %w", err)
	}

	adapter, closePersist, err := cfg.BuildPersistence(log.Logger)
	if err != nil {
		return fmt.Errorf("build persistence: %w", err)
	}
	defer closePersist()

	reg := connector.NewRegistry(
		connector.NewBinance(),
		connector.NewOKX(),
		connector.NewBybit(),
		connector.NewKraken(),
	)

	metricsReg := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	metricsReg.MustRegister(promReg)

	httpCfg := httpapi.DefaultServerConfig()
	httpCfg.Addr = httpAddr
	httpSrv := httpapi.NewServer(httpCfg, promReg, log.Logger)
	go func() {
		if err := httpSrv.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("httpapi server exited with error")
		}
	}()

	o := orchestrator.New(reg, metricsReg, log.Logger)
	o.Persist = adapter
	for _, exchange := range domain.AllExchanges {
		o.Breakers[exchange] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(exchange),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					metricsReg.BreakerOpens.WithLabelValues(name).Inc()
				}
			},
		})
		o.Limiters[exchange] = connector.NewFrameLimiter(5, 10)
	}

	streams, fatal, err := o.Run(ctx, [][]domain.Subscription{subs})
	if err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	tagged := orchestrator.JoinMap(ctx, streams)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-fatal:
			log.Error().Err(f.Err).Str("exchange", string(f.Exchange)).Str("kind", f.Kind.String()).Msg("first connection attempt failed")
		case tg, ok := <-tagged:
			if !ok {
				return nil
			}
			if tg.Event.IsReconnecting() {
				log.Warn().Str("exchange", string(tg.Exchange)).Msg("reconnecting")
				continue
			}
			item, ok := tg.Event.ItemValue()
			if !ok {
				continue
			}
			log.Info().
				Str("exchange", string(tg.Exchange)).
				Str("instrument", string(item.Instrument.Name)).
				Str("kind", item.Kind.Tag.String()).
				Msg("event")
		}
	}
}
