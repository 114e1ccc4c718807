// Command server wires the contract core: storage, audit log, token service,
// contract lifecycle service and the two HTTP surfaces (authenticated
// management API and the public signing entry point). Business logic lives in
// the internal packages; main only assembles them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fabrica/internal/audit"
	auditKafka "fabrica/internal/audit/kafka"
	auditMemory "fabrica/internal/audit/store/memory"
	auditPostgres "fabrica/internal/audit/store/postgres"
	auditWorker "fabrica/internal/audit/worker"
	contractHandler "fabrica/internal/contract/handler"
	contractService "fabrica/internal/contract/service"
	contractMemory "fabrica/internal/contract/store/memory"
	contractPostgres "fabrica/internal/contract/store/postgres"
	"fabrica/internal/dispatch"
	"fabrica/internal/integrity"
	"fabrica/internal/platform/config"
	"fabrica/internal/platform/httpserver"
	"fabrica/internal/platform/logger"
	platformMetrics "fabrica/internal/platform/metrics"
	platformRedis "fabrica/internal/platform/redis"
	"fabrica/internal/signer"
	signingHandler "fabrica/internal/signing/handler"
	tokenService "fabrica/internal/token/service"
	tokenMemory "fabrica/internal/token/store/memory"
	tokenPostgres "fabrica/internal/token/store/postgres"
	tokenRedis "fabrica/internal/token/store/redis"
)

const mirrorBuffer = 256

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := platformMetrics.New()

	// Storage. Without a Postgres URL everything runs on memory stores, which
	// is fine for local development and nothing else.
	var (
		contractStore contractService.Store
		tokenStore    tokenService.Store
		auditStore    audit.Store
	)
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}

		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Error("open audit pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		contractStore = contractPostgres.New(db)
		tokenStore = tokenPostgres.New(db)
		auditStore = auditPostgres.New(pool)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		contractStore = contractMemory.NewInMemoryStore()
		tokenStore = tokenMemory.NewInMemoryStore()
		auditStore = auditMemory.NewInMemoryStore()
	}

	// Redis replaces the token store when configured; contracts and audit
	// stay in Postgres either way.
	redisClient, err := platformRedis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokenStore = tokenRedis.New(redisClient.Client)
		log.Info("token store backed by redis")
	}

	// Audit log, optionally mirrored to Kafka.
	auditOpts := []audit.Option{audit.WithLogger(log)}
	var mirror chan audit.Event
	var publisher *auditKafka.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = auditKafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		mirror = make(chan audit.Event, mirrorBuffer)
		auditOpts = append(auditOpts, audit.WithMirror(mirror))
		log.Info("audit mirror enabled", "topic", cfg.Kafka.Topic)
	}
	auditLog := audit.New(auditStore, auditOpts...)

	tokens, err := tokenService.New(tokenStore, auditLog,
		tokenService.WithLogger(log),
		tokenService.WithMetrics(metrics),
		tokenService.WithTTL(cfg.Token.TTL),
		tokenService.WithMaxAttempts(cfg.Token.MaxAttempts),
	)
	if err != nil {
		log.Error("build token service", "error", err)
		os.Exit(1)
	}

	contractOpts := []contractService.Option{
		contractService.WithLogger(log),
		contractService.WithMetrics(metrics),
		contractService.WithSigningBaseURL(cfg.Server.SigningBaseURL),
	}
	if cfg.Email.GatewayURL != "" {
		gateway := dispatch.NewGateway(cfg.Email.GatewayURL, cfg.Email.Timeout, log)
		contractOpts = append(contractOpts, contractService.WithDispatcher(gateway))
	} else {
		log.Warn("no email gateway configured, verification codes will not be delivered")
	}

	contracts, err := contractService.New(contractStore, integrity.New(), tokens, auditLog, contractOpts...)
	if err != nil {
		log.Error("build contract service", "error", err)
		os.Exit(1)
	}

	validator := signer.NewValidator(cfg.Signing.JWTSigningKey, cfg.Signing.JWTIssuer)

	router := chi.NewRouter()
	contractHandler.New(contracts, validator, log).Register(router)
	signingHandler.New(contracts, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting contract core", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mirror != nil {
		worker := auditWorker.New(publisher, mirror, log)
		g.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
