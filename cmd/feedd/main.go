package main

import (
	"context"
	"flag"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketfeed/internal/adapter/kafkasink"
	"marketfeed/internal/adapter/redismirror"
	"marketfeed/internal/aggregate"
	"marketfeed/internal/auth"
	"marketfeed/internal/config"
	"marketfeed/internal/event"
	"marketfeed/internal/feed"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/registry"
	"marketfeed/internal/server"
	"marketfeed/internal/transport"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		logs.Errorf("feedd: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	if cfg.Profiling.ServerAddress != "" {
		name := cfg.Profiling.ApplicationName
		if name == "" {
			name = "marketfeed"
		}
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: name,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	provider := auth.NewHTTPProvider(cfg.Auth.Endpoint, cfg.Auth.ConsumerID, cfg.Auth.ConsumerSecret)
	creds := auth.NewManager(provider, cfg.Auth.Lookahead, cfg.Auth.RetryDelay)
	if err := creds.Start(ctx); err != nil {
		// Not fatal: the transport loop retries acquisition with backoff.
		logs.Warnf("initial credential acquisition failed: %+v", err)
	}

	reg := registry.New()
	bus := event.NewBus()
	engine := aggregate.NewEngine(bus, reg, cfg.Eviction.Staleness)

	client, err := transport.NewClient(transport.Config{
		Dialer:           transport.NewWebSocketDialer(cfg.Feed.URL),
		Tokens:           creds,
		Registry:         reg,
		Apply:            engine.Apply,
		Bus:              bus,
		CandleTimeframes: cfg.Feed.CandleTimeframes,
		MaxRetries:       cfg.Reconnect.MaxRetries,
		Backoff: transport.Backoff{
			Min:    cfg.Reconnect.BackoffMin,
			Max:    cfg.Reconnect.BackoffMax,
			Factor: cfg.Reconnect.Factor,
			Jitter: cfg.Reconnect.Jitter,
		},
	})
	if err != nil {
		return err
	}

	usecase, err := feed.NewUsecase(feed.Config{
		Registry:      reg,
		Client:        client,
		Engine:        engine,
		Bus:           bus,
		Credentials:   creds,
		SweepInterval: cfg.Eviction.Interval,
	})
	if err != nil {
		return err
	}

	if len(cfg.Feed.Symbols) > 0 {
		kinds := cfg.DataKinds()
		if len(kinds) == 0 {
			kinds = []enum.DataKind{enum.DataKindTick, enum.DataKindOrderBook, enum.DataKindCandle, enum.DataKindEvent}
		}
		if err := usecase.Subscribe(cfg.Feed.Symbols, kinds); err != nil {
			return err
		}
	}

	if cfg.Kafka.BrokerURL != "" {
		if err := kafkasink.EnsureTopic(cfg.Kafka.BrokerURL, cfg.Kafka.Topic); err != nil {
			logs.Warnf("ensure kafka topic: %+v", err)
		}
		sink := kafkasink.New(cfg.Kafka.BrokerURL, cfg.Kafka.Topic, usecase.Attach(4096, event.OverflowDropOldest))
		go sink.Run(ctx)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		mirror := redismirror.New(rdb, usecase.Attach(4096, event.OverflowDropOldest), cfg.Redis.TTL)
		go mirror.Run(ctx)
	}

	if cfg.Server.Listen != "" {
		srv := server.New(cfg.Server.Listen, server.NewHub(usecase))
		go func() {
			if err := srv.Run(ctx); err != nil && err != context.Canceled {
				logs.Errorf("push server: %+v", err)
			}
		}()
	}

	return usecase.Run(ctx)
}
