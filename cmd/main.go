package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	grpcctx "github.com/dtroode/authkeeper/internal/api/grpc/context"
	"github.com/dtroode/authkeeper/internal/api/grpc/router"
	grpcServer "github.com/dtroode/authkeeper/internal/api/grpc/server"
	"github.com/dtroode/authkeeper/internal/config"
	"github.com/dtroode/authkeeper/internal/event"
	"github.com/dtroode/authkeeper/internal/janitor"
	"github.com/dtroode/authkeeper/internal/logger"
	"github.com/dtroode/authkeeper/internal/metrics"
	"github.com/dtroode/authkeeper/internal/model"
	"github.com/dtroode/authkeeper/internal/ops"
	"github.com/dtroode/authkeeper/internal/password"
	"github.com/dtroode/authkeeper/internal/repository/memory"
	"github.com/dtroode/authkeeper/internal/repository/postgres"
	redisrepo "github.com/dtroode/authkeeper/internal/repository/redis"
	"github.com/dtroode/authkeeper/internal/server"
	"github.com/dtroode/authkeeper/internal/service"
	"github.com/dtroode/authkeeper/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

const redisKeyPrefix = "authkeeper:"

type stores struct {
	users    model.UserStore
	sessions model.SessionStore
	checks   map[string]ops.Checker
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.NewWithFormat(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err, "backend", cfg.Session.Backend)
	}
	defer st.close()

	hasher, err := password.NewHasher(password.Params{
		Time:        cfg.Password.Time,
		MemoryKiB:   cfg.Password.MemKiB,
		Parallelism: cfg.Password.Par,
	})
	if err != nil {
		logger.Fatal("failed to initialize password hasher", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	var publisher model.EventPublisher = event.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error("failed to close event publisher", "error", err)
			}
		}()
		publisher = kp
	}

	authService := service.NewAuth(
		st.users,
		st.sessions,
		token.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer),
		hasher,
		service.Config{
			AccessTTL:  cfg.JWT.AccessTTL,
			RefreshTTL: cfg.JWT.RefreshTTL(),
		},
		logger,
		service.WithEvents(publisher),
		service.WithRecorder(m),
	)

	r := router.New(authService, authService.TokenService(), m, grpcctx.NewManager(), logger)
	servers := []model.Server{
		grpcServer.NewGRPCServer(r.Register(), fmt.Sprintf(":%s", cfg.GRPC.Port)),
		ops.NewHTTPServer(ops.NewRouter(registry, st.checks), cfg.Ops.Addr),
	}
	layers := []model.SecurityLayer{
		server.NewSecurityLayer(cfg.GRPC),
		server.NewPlainListener(),
	}

	sweeper := janitor.New(st.sessions, m, cfg.Session.JanitorInterval, cfg.Session.ExpiredRetention, logger)
	sweeper.Start(ctx)

	var wg sync.WaitGroup
	for i, s := range servers {
		wg.Add(1)
		go func(s model.Server, sl model.SecurityLayer) {
			defer wg.Done()
			logger.Info("Starting server on", "address", s.Address())
			if err := s.Start(sl); err != nil {
				logger.Error("failed to start server", "error", err, "address", s.Address())
				stop()
			}
		}(s, layers[i])
	}

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	r.Shutdown()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, s := range servers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Error("error during server shutdown", "error", err, "address", s.Address())
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

// openStores builds user and session stores for the configured backend.
// Users live in postgres unless the memory backend is selected.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Session.Backend == config.BackendMemory {
		return &stores{
			users:    memory.NewUserRepository(),
			sessions: memory.NewRefreshTokenRepository(),
			checks:   map[string]ops.Checker{},
		}, nil
	}

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	st := &stores{
		users:    postgres.NewUserRepository(db),
		sessions: postgres.NewRefreshTokenRepository(db),
		checks:   map[string]ops.Checker{"postgres": db.Ping},
		closers:  []func(){func() { _ = db.Close() }},
	}

	if cfg.Session.Backend == config.BackendRedis {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			st.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		st.sessions = redisrepo.NewRefreshTokenRepository(client, redisKeyPrefix, cfg.Session.ExpiredRetention)
		st.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		st.closers = append(st.closers, func() { _ = client.Close() })
	}

	return st, nil
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
