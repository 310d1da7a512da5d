// Command otlp-source is a standalone harness for the OTLP ingress bridge
// core: it stands in for the Kafka Connect framework, driving the source
// driver's start/poll/commit/stop lifecycle and printing each emitted
// record's topic and offset instead of producing to a real broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"time"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/config"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/driver"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/logger"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/metrics"
	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

// stopBudget mirrors the driver's documented ~15 s worst-case stop bound
// (5 s gRPC graceful stop + 5 s HTTP quiescence + 5 s queue drain).
const stopBudget = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file")
	flag.Parse()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "otlp-source: failed to init logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	registry := metrics.NewRegistry()

	d, err := driver.New(cfg, log, registry)
	if err != nil {
		log.Error().Err(err).Msg("failed to construct driver")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx, noOffsets); err != nil {
		log.Error().Err(err).Msg("failed to start driver")
		os.Exit(1)
	}

	go pollLoop(ctx, d, log)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	d.Stop(shutdownCtx)
}

// noOffsets is the offset reader used when there is no persisted state to
// consult, matching the documented "absent means start from zero" rule.
func noOffsets(string, otlp.SignalKind) (driver.PersistedOffset, bool) {
	return driver.PersistedOffset{}, false
}

func pollLoop(ctx context.Context, d *driver.Driver, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records := d.Poll()
		for _, r := range records {
			log.Info().
				Str("topic", r.Topic).
				Int64("sequence", r.OffsetKey.Sequence).
				Msg("record produced")
			d.Commit(r.OffsetKey)
		}
	}
}
