package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/carebook/libs/auth"
	"github.com/md-rashed-zaman/carebook/libs/grpcx"
	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/carebook/libs/otel"
	"github.com/md-rashed-zaman/carebook/libs/runtime"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/realtime"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket endpoint and gRPC health server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg serviceConfig) error {
	logger := runtime.NewLoggerWithLevel(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, storeCheck, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := applySeed(ctx, store, cfg.SeedFile, logger); err != nil {
		return err
	}
	checks := []runtime.ReadyCheck{storeCheck}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	hub := realtime.NewHub(logger)
	defer hub.Close()
	if rdb != nil {
		relay := realtime.NewRedisRelay(rdb, realtime.DefaultRelayChannel, logger)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub.DeliverLocal); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", "err", err)
			}
		}()
	}

	dispatcher := notify.NewDispatcher(store, hub, logger, notify.Options{
		DedupWindow: cfg.DedupWindow,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	effects := booking.NewEffects(hub, dispatcher, store, logger, booking.DefaultEffectTimeout)
	svc := booking.NewService(store, effects, logger, booking.Options{
		Margins:         cfg.Margins,
		MinReasonLength: cfg.MinReasonLength,
	})
	engine := availability.NewEngine(store, cfg.Margins, cfg.SlotGranularity)

	publisher := outbox.NewPublisher(store, logger, outbox.PublisherConfig{Brokers: cfg.KafkaBrokers})
	go publisher.Run(ctx)

	resolver := identity.NewJWTResolver(verifier(cfg))

	cors := httpx.CORSPolicy{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	api := http.NewServeMux()
	handlers.Routes{
		Appointments:  handlers.NewAppointmentHandler(svc, logger),
		Providers:     handlers.NewProviderHandler(engine, store, logger),
		Notifications: handlers.NewNotificationHandler(dispatcher, logger),
		Resolver:      resolver,
	}.Register(api)
	mux.Handle("/api/", httpx.Chain(api,
		rateLimit(cfg, rdb, logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	))
	// Upgraded connections cannot pass through the timeout handler.
	mux.Handle("GET /ws", realtime.NewHandler(hub, resolver, dispatcher, logger, cors))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(cors),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcx.NewServer(logger)
	health := grpcx.RegisterHealth(grpcServer, cfg.Service, logger, checks...)
	go health.Run(ctx)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcServer.GracefulStop()
	if err := effects.Drain(shutdownCtx); err != nil {
		logger.Warn("side effects still running at shutdown", "err", err)
	}
	hub.Close()
	logger.Info("http server stopped")
	return nil
}

func verifier(cfg serviceConfig) auth.Verifier {
	v := auth.Verifier{Secret: cfg.JWTSecret}
	if cfg.JWKSURL != "" {
		v.JWKS = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSTTL)
	}
	return v
}

// rateLimit prefers the shared Redis limiter so every instance enforces one
// budget per client.
func rateLimit(cfg serviceConfig, rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "").Middleware(logger, true)
	}
	return httpx.NewRateLimiter(cfg.RateLimitPerMinute).Middleware()
}
