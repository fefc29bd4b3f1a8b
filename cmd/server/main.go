package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/vouch-desk/internal/adapter/handler"
	"github.com/rl1809/vouch-desk/internal/adapter/messaging"
	"github.com/rl1809/vouch-desk/internal/adapter/storage"
	"github.com/rl1809/vouch-desk/internal/config"
	"github.com/rl1809/vouch-desk/internal/core/eventbus"
	"github.com/rl1809/vouch-desk/internal/core/refcode"
	"github.com/rl1809/vouch-desk/internal/core/service"
	"github.com/rl1809/vouch-desk/internal/logger"
	"github.com/rl1809/vouch-desk/internal/metrics"
	"github.com/rl1809/vouch-desk/internal/port"
	"github.com/rl1809/vouch-desk/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.Default()
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := make(map[string]port.HealthChecker)

	// Inventory
	var inventory port.InventoryStore
	switch cfg.Inventory.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		adapter := storage.NewRedisAdapter(rdb, cfg.Inventory.Namespace)
		inventory = adapter
		checks["inventory"] = adapter
		log.Info().Str("addr", cfg.Redis.Addr).Msg("inventory backed by redis")
	default:
		store, err := storage.OpenFileStore(cfg.Inventory.SnapshotPath, log)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Inventory.SnapshotPath).Msg("failed to load inventory snapshot")
		}
		inventory = store
		checks["inventory"] = store
		log.Info().Str("path", cfg.Inventory.SnapshotPath).Msg("inventory backed by snapshot file")
	}

	// Outcome log
	var records port.TransactionRepository = storage.NewMemoryLog()
	if cfg.MySQL.DSN != "" {
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect mysql")
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnLifetime)
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping mysql")
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate mysql")
		}
		records = mysqlAdapter
		checks["mysql"] = mysqlAdapter
		log.Info().Msg("connected to mysql")
	}

	settings, err := config.OpenSettings(cfg.SettingsPath, cfg.Settings)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}
	if s := settings.Current(); s.InboundChannel == "" || s.ReviewChannel == "" || s.SupervisorRole == "" {
		log.Warn().Msg("inbound channel, review channel or supervisor role not set; warranties are refused until configured")
	}

	// Gateway
	var (
		notifier port.Notifier
		channels port.ChannelManager
		consumer *messaging.SignalConsumer
	)
	bus := eventbus.NewBus(log, m)
	if len(cfg.Kafka.Brokers) > 0 {
		kn := messaging.NewKafkaNotifier(messaging.NewNoticeWriter(cfg.Kafka.Brokers, cfg.Kafka.NoticeTopic), log)
		defer kn.Close()
		notifier, channels = kn, kn
		consumer = messaging.NewSignalConsumer(
			messaging.NewSignalReader(cfg.Kafka.Brokers, cfg.Kafka.SignalTopic, cfg.Kafka.GroupID), bus, log)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("gateway connected through kafka")
	} else {
		ln := messaging.NewLogNotifier(log)
		notifier, channels = ln, ln
		log.Warn().Msg("no kafka brokers configured, notices go to the log")
	}

	var proofFilter eventbus.Predicate
	if cfg.Warranty.ProofFilter != "" {
		if proofFilter, err = eventbus.CompileCEL(cfg.Warranty.ProofFilter); err != nil {
			log.Fatal().Err(err).Msg("invalid warranty.proof_filter")
		}
	}
	location, err := time.LoadLocation(cfg.Warranty.DisplayTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Warranty.DisplayTimezone).Msg("unknown display timezone")
	}

	engine := service.NewEngine(service.Deps{
		Inventory: inventory,
		Codes:     refcode.NewGenerator(cfg.Warranty.ReferenceLength),
		Waiter:    eventbus.NewWaiter(bus, m),
		Notifier:  notifier,
		Channels:  channels,
		Records:   records,
		Settings:  settings,
		Metrics:   m,
		Log:       log,
	}, service.Options{
		LockEmoji:    cfg.Warranty.LockEmoji,
		DeleteEmoji:  cfg.Ticket.DeleteEmoji,
		TicketWindow: cfg.Ticket.Window,
		ProofFilter:  proofFilter,
		Location:     location,
	})

	hub := handler.NewHub(log)
	unsubscribe := engine.Subscribe(hub.Broadcast)

	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.AdminRole, cfg.Auth.GatewayRole, func() string {
		return settings.Current().SupervisorRole
	})
	if !auth.Enabled() {
		log.Warn().Msg("jwt secret not set, operator API is unauthenticated")
	}

	// HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(engine, inventory, settings, bus, auth, hub, checks, log).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC server
	grpcServer := grpc.NewServer()
	grpcHealth := handler.NewGRPCHandler(checks, cfg.Server.HealthInterval, log)
	grpcHealth.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return grpcHealth.Run(gctx)
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		log.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info().Msg("gRPC server stopped")

		unsubscribe()
		hub.Close()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("workflows did not stop in time")
		}
		log.Info().Int("pending_waits", bus.Pending()).Msg("workflows stopped")

		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		exit(log, 1)
	}
	log.Info().Msg("connections closed")
}

func exit(log zerolog.Logger, code int) {
	log.Info().Int("code", code).Msg("exiting")
	os.Exit(code)
}
