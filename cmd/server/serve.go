package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "kycgate/internal/jwt_token"
	"kycgate/internal/kyc/correlation"
	"kycgate/internal/kyc/handler"
	"kycgate/internal/kyc/ledger"
	kycmetrics "kycgate/internal/kyc/metrics"
	"kycgate/internal/kyc/notify"
	"kycgate/internal/kyc/provider"
	"kycgate/internal/kyc/service"
	"kycgate/internal/kyc/webhook"
	"kycgate/internal/platform/config"
	"kycgate/internal/platform/httpserver"
	"kycgate/internal/platform/logger"
	"kycgate/internal/platform/metrics"
	"kycgate/internal/platform/postgres"
	"kycgate/internal/platform/redis"
	"kycgate/pkg/platform/middleware/metadata"
	request "kycgate/pkg/platform/middleware/request"
	"kycgate/pkg/platform/middleware/requesttime"
	"kycgate/pkg/platform/privacy"
)

// sweepInterval is how often the in-process cache drops lapsed entries.
const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway (default)",
	RunE:  runServe,
}

type ledgerStore interface {
	service.Ledger
	FindByTaskID(ctx context.Context, taskID string) (*ledger.Record, error)
	Ping(ctx context.Context) error
}

type publisher interface {
	service.Publisher
	Close() error
}

// app holds everything serve wires together, so shutdown can release it.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *prometheus.Registry
	memCache  *correlation.MemoryCache
	redis     *redis.Client
	db        *sql.DB
	publisher publisher
	router    http.Handler
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(loadOptions()...)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpserver.New(cfg.Server, a.router)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if a.memCache != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := a.memCache.Sweep(); n > 0 {
						log.Debug("swept lapsed cache entries", "count", n)
					}
				}
			}
		})
	}
	return g.Wait()
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	kycMetrics := kycmetrics.New(a.registry)
	httpMetrics := metrics.NewHTTP(a.registry)

	var cache correlation.Cache
	a.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return a, err
	}
	if a.redis != nil {
		cache = correlation.NewRedisCache(a.redis.Client, cfg.Redis.Prefix, kycMetrics)
	} else {
		log.Warn("redis not configured, using in-process correlation cache")
		a.memCache = correlation.NewMemoryCache()
		cache = a.memCache
	}
	store := correlation.NewStore(cache, correlation.WithTimeout(cfg.Redis.Timeout))

	var ledgerDB ledgerStore
	a.db, err = postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return a, err
	}
	if a.db != nil {
		ledgerDB = ledger.NewPostgresStore(a.db, cfg.Postgres.Timeout)
	} else {
		log.Warn("postgres not configured, using in-process ledger")
		ledgerDB = ledger.NewMemoryStore()
	}

	digester, err := privacy.NewDigester([]byte(cfg.Privacy.DigestKey))
	if err != nil {
		return a, fmt.Errorf("payload digester: %w", err)
	}

	providerClient, err := provider.NewHTTPClient(provider.HTTPConfig{
		ProviderID: cfg.Provider.Name,
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		AccountID:  cfg.Provider.AccountID,
		Timeout:    cfg.Provider.Timeout,
	}, provider.WithLogger(log), provider.WithMetrics(kycMetrics))
	if err != nil {
		return a, err
	}

	a.publisher, err = newPublisher(ctx, cfg.Notify, log)
	if err != nil {
		return a, err
	}

	svc, err := service.New(store, ledgerDB, providerClient, digester,
		service.WithLogger(log),
		service.WithMetrics(kycMetrics),
		service.WithPublisher(a.publisher),
		service.WithTTLs(cfg.TTL.Pending, cfg.TTL.Verified),
		service.WithProviderName(cfg.Provider.Name),
	)
	if err != nil {
		return a, err
	}

	reconciler := webhook.NewReconciler(store, ledgerDB,
		webhook.WithLogger(log),
		webhook.WithMetrics(kycMetrics),
		webhook.WithPublisher(a.publisher),
		webhook.WithTerminalTTL(cfg.TTL.Verified),
		webhook.WithProviderName(cfg.Provider.Name),
	)
	webhookHandler, err := webhook.NewHandler([]byte(cfg.Webhook.Secret), reconciler, log, kycMetrics)
	if err != nil {
		return a, err
	}

	jwtService, err := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
	if err != nil {
		return a, err
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(metrics.LatencyMiddleware(httpMetrics))

	handler.New(svc, jwttoken.NewJWTServiceAdapter(jwtService), log,
		handler.WithRetryPolicy(cfg.Backoff.Policy()),
	).Register(r)
	webhookHandler.Register(r)
	handler.NewHealth(log, map[string]handler.Pinger{
		"cache":  store,
		"ledger": ledgerDB,
	}).Register(r)
	if cfg.Admin.Token != "" {
		handler.NewAdmin(cfg.Admin.Token, ledgerDB, log).Register(r)
	}
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	a.router = r
	log.Info("gateway wired",
		"cache", cacheKind(a.redis),
		"ledger", ledgerKind(a.db),
		"notify", cfg.Notify.Driver,
		"provider", cfg.Provider.Name,
	)
	return a, nil
}

func newPublisher(ctx context.Context, cfg config.NotifyConfig, log *slog.Logger) (publisher, error) {
	switch cfg.Driver {
	case "kafka":
		p, err := notify.NewKafkaPublisher(ctx, notify.KafkaConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "nats":
		p, err := notify.NewNATSPublisher(cfg.NATSURL, cfg.Subject, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return notify.NewLogPublisher(log), nil
	}
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("failed to close publisher", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close postgres", "error", err)
		}
	}
}

func cacheKind(c *redis.Client) string {
	if c != nil {
		return "redis"
	}
	return "memory"
}

func ledgerKind(db *sql.DB) string {
	if db != nil {
		return "postgres"
	}
	return "memory"
}
