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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"energy-billing/internal/audit"
	"energy-billing/internal/auth"
	billingapp "energy-billing/internal/billing/application"
	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/billing/infrastructure/cache"
	"energy-billing/internal/billing/infrastructure/catalog"
	billingmemory "energy-billing/internal/billing/infrastructure/memory"
	billingpostgres "energy-billing/internal/billing/infrastructure/postgres"
	"energy-billing/internal/billing/interfaces"
	"energy-billing/internal/config"
	"energy-billing/internal/eventing"
	eventingmemory "energy-billing/internal/eventing/infrastructure/memory"
	eventingpostgres "energy-billing/internal/eventing/infrastructure/postgres"
	eventingredis "energy-billing/internal/eventing/infrastructure/redis"
	"energy-billing/internal/observability/logger"
	"energy-billing/internal/observability/metrics"
)

const outboxBatchSize = 100

type outbox interface {
	eventing.OutboxWriter
	eventing.OutboxStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("timezone error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db          *sql.DB
		store       billingapp.Store
		outboxStore outbox
		auditLogger audit.Logger
	)
	if cfg.UsesMemoryStore() {
		memStore := billingmemory.NewStore()
		cat, err := catalog.Load(cfg.TariffCatalog)
		if err != nil {
			log.Fatal("tariff catalog load error", zap.String("path", cfg.TariffCatalog), zap.Error(err))
		}
		if err := cat.Apply(memStore); err != nil {
			log.Fatal("tariff catalog apply error", zap.Error(err))
		}
		store = memStore
		outboxStore = eventingmemory.NewOutboxStore()
		auditLogger = audit.NewZapLogger(log)
		log.Info("using in-memory store", zap.String("catalog", cfg.TariffCatalog))
	} else {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("db ping error", zap.Error(err))
		}
		store = billingpostgres.NewStore(db)
		outboxStore = eventingpostgres.NewOutboxStore(db)
		auditLogger = audit.NewRepository(db)
	}

	metrics.Init(db, log)

	var tariffs billingapp.TariffReader = store
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rateBands, err := cache.NewRateBandCache(store, redisClient, cfg.RateBandCacheTTL, log)
		if err != nil {
			log.Fatal("rate band cache error", zap.Error(err))
		}
		tariffs = rateBands
	}

	var publisher billingapp.BillPublisher
	switch {
	case redisClient != nil:
		sink, err := eventingredis.NewSink(redisClient, cfg.RedisChannel)
		if err != nil {
			log.Fatal("event sink error", zap.Error(err))
		}
		dispatcher := eventing.NewDispatcher(sink, outboxStore, log)
		go dispatcher.Run(ctx, cfg.OutboxDispatchInterval, outboxBatchSize)
		publisher = interfaces.NewOutboxPublisher(eventing.NewPublisher(outboxStore))
	case db != nil:
		// Rows stay pending until a relay with Redis is configured.
		publisher = interfaces.NewOutboxPublisher(eventing.NewPublisher(outboxStore))
	default:
		publisher = interfaces.NewLoggingPublisher(log)
	}

	attribution, err := billing.ParseMeterAttribution(cfg.MeterAttribution)
	if err != nil {
		log.Fatal("meter attribution error", zap.Error(err))
	}
	resolver, err := billingapp.NewTariffResolver(store, tariffs)
	if err != nil {
		log.Fatal("tariff resolver error", zap.Error(err))
	}
	billService, err := billingapp.NewBillService(resolver, store,
		billingapp.WithPublisher(publisher),
		billingapp.WithLocation(loc),
		billingapp.WithMeterAttribution(attribution),
		billingapp.WithLogger(log))
	if err != nil {
		log.Fatal("bill service error", zap.Error(err))
	}
	batch, err := billingapp.NewBatchGenerator(store, billService, cfg.BatchConcurrency, cfg.BatchRatePerSecond, log)
	if err != nil {
		log.Fatal("batch generator error", zap.Error(err))
	}
	billHandler, err := interfaces.NewBillHandler(billService, batch, auditLogger, log)
	if err != nil {
		log.Fatal("bill handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.AuthJWTSecret), policy, log)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/bills", billHandler)
	mux.Handle("/api/v1/bills/", billHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func loggingMiddleware(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
