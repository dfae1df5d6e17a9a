package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/api"
	"github.com/fathima-sithara/churchconnect/internal/auth"
	"github.com/fathima-sithara/churchconnect/internal/cache"
	"github.com/fathima-sithara/churchconnect/internal/chat"
	"github.com/fathima-sithara/churchconnect/internal/config"
	"github.com/fathima-sithara/churchconnect/internal/events"
	"github.com/fathima-sithara/churchconnect/internal/hub"
	"github.com/fathima-sithara/churchconnect/internal/logger"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
	"github.com/fathima-sithara/churchconnect/internal/presence"
	"github.com/fathima-sithara/churchconnect/internal/session"
	"github.com/fathima-sithara/churchconnect/internal/signaling"
	"github.com/fathima-sithara/churchconnect/internal/store"
	"github.com/fathima-sithara/churchconnect/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatalw("server exited", "err", err)
	}
}

func run(cfg *config.Config, lg *zap.SugaredLogger) error {
	ctx := context.Background()

	verifier, err := newVerifier(cfg.JWT)
	if err != nil {
		return fmt.Errorf("jwt verifier: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := newPublisher(cfg.Events, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			lg.Warnw("event publisher close", "err", err)
		}
	}()

	m := metrics.New()
	registry := hub.NewRegistry()
	rooms := hub.NewRooms()
	pb := presence.NewBroadcaster(registry, rooms)

	sessionOpts := []session.Option{session.WithMetrics(m)}
	var (
		presenceReader api.PresenceReader
		limiter        *cache.RateLimiter
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			lg.Warnw("redis unreachable, presence mirror will retry per call", "addr", cfg.Redis.Addr, "err", err)
		}
		cancel()
		mirror := cache.NewPresence(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		sessionOpts = append(sessionOpts, session.WithMirror(mirror))
		presenceReader = mirror
		if cfg.HTTP.RateLimitPerMinute > 0 {
			limiter = cache.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.HTTP.RateLimitPerMinute, time.Minute, lg)
		}
	}

	sessions := session.NewManager(st, registry, rooms, pb, lg, sessionOpts...)
	svc := chat.NewService(st, registry, rooms, lg,
		chat.WithPublisher(publisher),
		chat.WithMetrics(m),
		chat.WithOpTimeout(cfg.OpTimeout),
	)
	dispatcher := ws.NewDispatcher(sessions, svc, pb, signaling.NewRelay(registry), m, lg)
	wsSrv := ws.NewServer(verifier, st, sessions, dispatcher, ws.Options{
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		WriteDeadline:   cfg.WriteDeadline,
		MaxMessageSize:  cfg.WS.MaxMessageSizeBytes,
		SendBuffer:      cfg.WS.SendBuffer,
		EventsPerSecond: cfg.WS.EventsPerSecond,
		Burst:           cfg.WS.Burst,
	}, cfg.OpTimeout, m, lg)

	app := api.NewServer(api.Deps{
		Chat:        svc,
		Verifier:    verifier,
		Presence:    presenceReader,
		RateLimiter: limiter,
		Metrics:     m,
		WS:          wsSrv,
		CORSOrigins: cfg.App.CORSOrigins,
		Log:         lg,
	})

	errs := make(chan error, 1)
	go func() {
		lg.Infow("starting churchconnect", "addr", cfg.App.Addr(), "store", cfg.Store.Driver, "events", cfg.Events.Driver)
		errs <- app.Listen(cfg.App.Addr())
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return fmt.Errorf("listen: %w", err)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	// hijacked websocket sockets are not closed by fiber's shutdown
	wsCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	if err := wsSrv.Shutdown(wsCtx); err != nil {
		lg.Warnw("websocket shutdown", "err", err)
	}
	cancel()
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		lg.Warnw("fiber shutdown", "err", err)
	}
	lg.Info("shut down")
	return nil
}

func newVerifier(c config.JWTConfig) (*auth.Verifier, error) {
	if strings.EqualFold(c.Alg, "RS256") {
		return auth.NewRS256FromFile(c.PublicKeyPath)
	}
	return auth.NewHS256(c.Secret)
}

func openStore(ctx context.Context, cfg *config.Config, lg *zap.SugaredLogger) (store.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		lg.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	client, err := store.Connect(ctx, cfg.Mongo.URI, cfg.ConnectTimeout, lg)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	disconnect := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			lg.Warnw("mongo disconnect", "err", err)
		}
	}
	ictx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	st, err := store.NewMongoStore(ictx, client.Database(cfg.Mongo.DB))
	if err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return st, disconnect, nil
}

// newPublisher wraps the configured driver in a circuit breaker and an async queue.
func newPublisher(c config.EventsConfig, lg *zap.SugaredLogger) (events.Publisher, error) {
	var next events.Publisher
	switch c.Driver {
	case "kafka":
		next = events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic)
	case "nats":
		p, err := events.NewNATSPublisher(c.NATSURL, c.NATSPrefix)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		next = p
	default:
		return events.Nop{}, nil
	}
	cooldown := time.Duration(c.BreakerCooldownSeconds) * time.Second
	breaker := events.NewBreaker(next, c.BreakerMaxFailures, cooldown, lg)
	return events.NewAsync(breaker, c.QueueSize, 5*time.Second, lg), nil
}
