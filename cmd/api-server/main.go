package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue/internal/api"
	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
	"github.com/hackgods/clinic-queue/internal/events"
	"github.com/hackgods/clinic-queue/internal/lifecycle"
	"github.com/hackgods/clinic-queue/internal/logging"
	"github.com/hackgods/clinic-queue/internal/messaging"
	"github.com/hackgods/clinic-queue/internal/notify"
	redisclient "github.com/hackgods/clinic-queue/internal/redis"
	"github.com/hackgods/clinic-queue/internal/telemetry"
)

const serviceName = "clinic-queue-api"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(serviceName, "dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(serviceName, cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, serviceName, cfg.Otel)
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry setup error")
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
		Addr:      cfg.RedisAddr,
		Username:  cfg.RedisUsername,
		Password:  cfg.RedisPassword,
		PoolSize:  cfg.RedisPoolSize,
		IOTimeout: cfg.RedisTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	// Messaging session
	session := newSession(cfg, rdb, logging.Component(logger, "messaging"))
	session.OnTransition(func(t messaging.Transition) {
		if t.To == messaging.StateAwaitingPairing {
			logger.Warn().Msg("messaging session needs pairing: GET /messaging/pairing")
		}
	})
	if cfg.Messaging.BridgeURL != "" {
		if err := session.Connect(); err != nil {
			logger.Error().Err(err).Msg("messaging connect failed")
		}
	} else {
		logger.Warn().Msg("MESSAGING_BRIDGE_URL not set, notifications are disabled")
	}

	// Notification dispatcher
	dispatcher := notify.NewDispatcher(session, notify.Config{
		QueueSize:   cfg.Notify.QueueSize,
		Spacing:     cfg.Notify.Spacing,
		SendTimeout: cfg.Notify.SendTimeout,
	}, logging.Component(logger, "dispatcher"))

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		dispatcher.Run(workerCtx)
	}()

	// Queue snapshot events
	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logging.Component(logger, "events"))
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing queue snapshots")
	}

	// Booking core
	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	evaluator := appointment.NewQueueEvaluator(repo, cfg.Queue.PerPatientMinutes)
	svc := appointment.NewService(repo, locker, evaluator, logging.Component(logger, "appointment"))
	svc.SetHooks(lifecycle.NewController(evaluator, repo, dispatcher, publisher, cfg.Queue.CascadeWindow, logging.Component(logger, "lifecycle")))

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		Session:    session,
		Dispatcher: dispatcher,
		Postgres:   pgPool.Ping,
		Redis:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Logger:     logging.Component(logger, "http"),
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server failed")
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	// let queued cascades drain while the session is still up
	dispatcher.Close()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Interface("stats", dispatcher.Stats()).Msg("dispatcher drain timed out, dropping pending notifications")
		stopWorker()
		<-workerDone
	}
	stopWorker()

	session.Close()

	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing event publisher")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown error")
	}

	logger.Info().Msg("api-server stopped")
}

func newSession(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) *messaging.Manager {
	var store messaging.CredentialStore
	switch cfg.Messaging.CredentialStore {
	case "redis":
		store = messaging.NewRedisStore(rdb, cfg.Messaging.CredentialKey)
	default:
		store = messaging.NewFileStore(cfg.Messaging.CredentialFile)
	}

	var qr io.Writer
	if cfg.Env == "dev" {
		qr = os.Stderr
	}

	var transport messaging.Transport
	if cfg.Messaging.BridgeURL != "" {
		transport = messaging.NewBridgeTransport(cfg.Messaging.BridgeURL, cfg.Messaging.BridgeToken, logger)
	}
	return messaging.NewManager(transport, store, messaging.Config{
		DefaultRegion:  cfg.Messaging.DefaultRegion,
		ReconnectDelay: cfg.Messaging.ReconnectDelay,
		PollInterval:   cfg.Messaging.SendPollInterval,
		PollAttempts:   cfg.Messaging.SendPollAttempts,
		QRWriter:       qr,
	}, logger)
}
