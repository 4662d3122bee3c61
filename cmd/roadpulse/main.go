package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roadpulse/roadpulse/internal/cache"
	"github.com/roadpulse/roadpulse/internal/cache/redisstore"
	"github.com/roadpulse/roadpulse/internal/config"
	"github.com/roadpulse/roadpulse/internal/events"
	"github.com/roadpulse/roadpulse/internal/fusion"
	"github.com/roadpulse/roadpulse/internal/health"
	"github.com/roadpulse/roadpulse/internal/httpclient"
	"github.com/roadpulse/roadpulse/internal/logger"
	"github.com/roadpulse/roadpulse/internal/model"
	"github.com/roadpulse/roadpulse/internal/netmon"
	"github.com/roadpulse/roadpulse/internal/observability"
	"github.com/roadpulse/roadpulse/internal/providers"
	"github.com/roadpulse/roadpulse/internal/registry"
	"github.com/roadpulse/roadpulse/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "roadpulse",
		Region:    cfg.Region,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting roadpulse",
		"addr", cfg.Addr,
		"version", Version,
		"region", cfg.Region,
		"redis", cfg.RedisAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	redisCli, err := redisstore.New(connectCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Error("redis connect failed", "err", err)
		return 1
	}
	defer redisCli.Close()

	store, err := cache.New(redisCli, cfg.CachePrefix, appLog,
		cache.WithTTLOverrides(categoryOverrides(cfg.CacheTTLOvr)))
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}

	janitor := cache.NewJanitor(store, cfg.PurgeEvery, cfg.PurgeMaxAge, appLog)
	if err := janitor.Start(); err != nil {
		appLog.Error("cache janitor failed", "err", err)
		return 1
	}
	defer janitor.Stop()

	bus := events.NewBus()
	bus.Subscribe(logSink(appLog))
	if cfg.Kafka.Enabled {
		pub, err := events.NewKafkaPublisher(
			strings.Split(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic, 256, appLog)
		if err != nil {
			appLog.Error("kafka publisher failed", "err", err)
			return 1
		}
		defer pub.Close()
		bus.Subscribe(pub.Handler())
	}

	tracker := health.NewTracker(bus, appLog,
		health.WithFailureThreshold(cfg.BreakerThreshold),
		health.WithCooldown(cfg.BreakerCooldown))

	retry := health.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryAttempts
	retry.AttemptTimeout = cfg.RetryTimeout

	reg := registry.New(registry.Config{
		Credentials: providers.Credentials{
			TomTomKey:      cfg.TomTomKey,
			HereKey:        cfg.HereKey,
			OpenWeatherKey: cfg.OpenWeatherKey,
		},
		Retry: retry,
		H3Res: cfg.H3Res,
	}, tracker, store, bus, httpclient.NewOutbound(), appLog)
	facade := reg.Facade(registry.Region(cfg.Region))

	engine := fusion.NewEngine(facade, bus, fusion.Config{
		PollGood:     cfg.PollGood,
		PollDegraded: cfg.PollDegraded,
	}, appLog, fusion.WithSnapshotStore(store))

	bbox := model.BoundingBox{
		MinLat: cfg.MonitorMinLat, MinLng: cfg.MonitorMinLng,
		MaxLat: cfg.MonitorMaxLat, MaxLng: cfg.MonitorMaxLng,
	}
	if err := engine.StartMonitoring(bbox); err != nil {
		appLog.Error("monitoring start failed", "err", err)
		return 1
	}
	defer engine.StopMonitoring()

	mon := netmon.New(netmon.Config{
		ProbeURL: cfg.ProbeURL,
		Interval: cfg.ProbeInterval,
	}, engine, httpclient.NewOutbound(), appLog)
	mon.Start()
	defer mon.Stop()

	handler := server.NewRouter(appLog, engine, facade, bbox)
	if err := server.Run(ctx, cfg.Addr, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func categoryOverrides(in map[string]time.Duration) map[cache.Category]time.Duration {
	out := make(map[cache.Category]time.Duration, len(in))
	for k, v := range in {
		out[cache.Category(k)] = v
	}
	return out
}

// logSink mirrors bus traffic into the service log.
func logSink(l *slog.Logger) events.Handler {
	return func(ev events.Event) {
		switch ev.Kind {
		case events.KindSegmentUpdate:
			// too chatty for info level
			if ev.Segment != nil {
				l.Debug("segment updated", "id", ev.Segment.ID, "congestion", ev.Segment.Congestion)
			}
		case events.KindFailover:
			l.Warn("provider failover",
				"operation", ev.Failover.Operation,
				"from", ev.Failover.From,
				"to", ev.Failover.To,
				"reason", ev.Failover.Reason)
		case events.KindBreakerOpen:
			l.Warn("circuit opened",
				"provider", ev.BreakerOpen.Provider,
				"failures", ev.BreakerOpen.FailureCount)
		case events.KindDegradedData:
			l.Warn("serving degraded data",
				"operation", ev.Degraded.Operation,
				"source", ev.Degraded.Source,
				"age_minutes", ev.Degraded.AgeMinutes)
		case events.KindAllProvidersOut:
			l.Error("all providers failed",
				"operation", ev.Exhausted.Operation,
				"attempts", ev.Exhausted.Attempts)
		case events.KindOfflineEntered:
			l.Warn("entered offline mode")
		case events.KindOfflineRecover:
			l.Info("recovered from offline mode")
		}
	}
}
