// Command ingestd runs the fleet telemetry ingest pipeline: one TCP
// listener per configured device protocol, decoding frames, running them
// through the per-device pipeline stages, and fanning the result out to
// Postgres and RabbitMQ.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleettrack/ingestd/internal/config"
	"github.com/fleettrack/ingestd/internal/geocache"
	"github.com/fleettrack/ingestd/internal/geocode"
	"github.com/fleettrack/ingestd/internal/listener"
	"github.com/fleettrack/ingestd/internal/metrics"
	"github.com/fleettrack/ingestd/internal/pipeline"
	"github.com/fleettrack/ingestd/internal/publisher"
	"github.com/fleettrack/ingestd/internal/routing"
	"github.com/fleettrack/ingestd/internal/session"
	"github.com/fleettrack/ingestd/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     = flag.String("config", "listeners.yaml", "path to the listener configuration file")
		metricsAddr    = flag.String("metrics-addr", ":9090", "address the /metrics endpoint binds to; empty disables it")
		legacyEpoch    = flag.Bool("legacy-epoch-fix", false, "opt in to the pre-2016 timestamp correction")
		localOffsetMin = flag.Int("local-offset-minutes", 60, "minutes added to the UTC-corrected instant")
		calculateDaily = flag.Bool("calculate-daily", false, "invoke the nightly per-vehicle statistics aggregator instead of ingest")
		dailyDate      = flag.String("date", "", "YYYY-MM-DD target date for --calculate-daily; defaults to yesterday")
	)
	flag.Parse()

	log := newLogger()

	if *calculateDaily {
		return runCalculateDaily(log, *dailyDate)
	}

	return runIngest(log, *configPath, *metricsAddr, *legacyEpoch, *localOffsetMin)
}

func newLogger() *logrus.Entry {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(base)
}

// runCalculateDaily routes to the nightly aggregator. That job is an
// external collaborator: this service only recognizes and
// forwards the contract, it does not reimplement per-vehicle daily
// statistics.
func runCalculateDaily(log *logrus.Entry, date string) int {
	if date == "" {
		date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	}
	log.WithField("date", date).Warn("--calculate-daily is not implemented by this service; see the daily-statistics aggregator")
	return 0
}

func runIngest(log *logrus.Entry, configPath, metricsAddr string, legacyEpoch bool, localOffsetMin int) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("configuration error")
		return 1
	}
	env := config.LoadEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.Open(ctx, env.DatabaseURL, env.StorePoolSize)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		return 1
	}
	defer pg.Close()

	pub, err := publisher.Connect(publisher.Config{
		Host:       env.RabbitMQHost,
		Port:       env.RabbitMQPort,
		Username:   env.RabbitMQUsername,
		Password:   env.RabbitMQPassword,
		Exchange:   env.RabbitMQExchange,
		RoutingKey: env.RabbitMQRoutingKey,
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to connect to message bus")
		return 1
	}
	defer pub.Close()

	geoCache, err := geocache.Open(env.GeofenceCachePath)
	if err != nil {
		log.WithError(err).Error("failed to open geofence cache")
		return 1
	}
	defer geoCache.Close()

	router := routing.NewClient(env.OSRMURL)
	geocoder := geocode.NewClient(env.NominatimURL)
	geofenceSource := store.GeofenceSourceAdapter{Source: pg, Ctx: ctx}

	gateCfg := pipeline.DefaultGateConfig()
	gateCfg.LegacyEpochFix = legacyEpoch
	gateCfg.LocalOffsetMinutes = localOffsetMin
	services := pipeline.NewServices(gateCfg, geofenceSource, geoCache, router, log)

	met := metrics.New(prometheus.DefaultRegisterer)

	depsFor := func(protocol string) session.Deps {
		return session.Deps{
			Store:     pg,
			Services:  services,
			Publisher: pub,
			Geocoder:  geocoder,
			Metrics:   met,
			Log:       log,
			Protocol:  protocol,
		}
	}

	orch := listener.New(cfg.Listeners, depsFor, metricsAddr, log)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(sigCtx) }()

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("listener orchestrator failed")
			return 1
		}
	}

	return 0
}
