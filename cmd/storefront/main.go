package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/automation"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/breaker"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/checkout"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/config"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/fulfillment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/ledger"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/messaging"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/notify"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/orders"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment/duitku"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/payment/midtrans"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/reconcile"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/stockpool"
	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/telemetry"
)

const serviceName = "storefront"

type customerLedger interface {
	reconcile.Ledger
	fulfillment.TierWriter
}

type stockPool interface {
	fulfillment.StockPool
	stockpool.Reader
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	metrics, err := telemetry.NewEngineMetrics(otel.Meter(serviceName))
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = telemetry.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
	}

	store, closeStore, err := openStore(ctx, cfg, db)
	if err != nil {
		logger.Error("failed to open order store", "error", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer closeStore()

	var (
		credits customerLedger
		pool    stockPool
	)
	if db != nil {
		credits = ledger.New(db)
		pool = stockpool.NewRepository(db)
	} else {
		logger.Warn("no POSTGRES_URL, ledger and stock pool are kept in memory")
		credits = ledger.NewMemory()
		pool = stockpool.NewMemory(
			domain.StockAccount{ID: "SA-001", Username: "stock_alpha", Balance: 1500, Status: domain.StockAccountActive},
			domain.StockAccount{ID: "SA-002", Username: "stock_bravo", Balance: 4000, Status: domain.StockAccountActive},
			domain.StockAccount{ID: "SA-003", Username: "stock_charlie", Balance: 12000, Status: domain.StockAccountActive},
		)
	}

	gateways, err := newGatewayRegistry(cfg.Payment, logger)
	if err != nil {
		logger.Error("failed to configure payment gateways", "error", err)
		os.Exit(1)
	}

	automationClient := automation.NewClient(cfg.Automation.ServiceURL, breaker.New("automation", &http.Client{
		Timeout:   cfg.Automation.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, logger))

	var locker reconcile.Locker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, webhook lock will be retried per delivery", "error", err)
		}
		locker = reconcile.NewRedisLock(rdb, cfg.WebhookLockTTL, cfg.WebhookLockWait, logger)
	}

	var publisher notify.Publisher
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}
	notifier := notify.NewNotifier(publisher, logger)

	dispatcher := fulfillment.NewDispatcher(pool, automationClient, credits, metrics, logger)
	reconciler := reconcile.NewReconciler(store, gateways, credits, dispatcher, notifier, locker, metrics, logger)
	checkoutService := checkout.NewService(store, gateways, notifier, cfg.Payment, metrics, logger)

	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	reconcileHandler := reconcile.NewHandler(reconciler, logger)
	ordersHandler := orders.NewHandler(store, logger)
	stockHandler := stockpool.NewHandler(pool, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCheckout))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(ordersHandler.HandleListGroup))
	mux.HandleFunc("GET /orders/{invoiceId}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("POST /webhooks/{provider}", telemetry.WithHTTPRoute(reconcileHandler.HandleWebhook))
	mux.HandleFunc("GET /payments/status", telemetry.WithHTTPRoute(reconcileHandler.HandleStatus))
	mux.HandleFunc("GET /stock-accounts", telemetry.WithHTTPRoute(stockHandler.HandleList))
	mux.HandleFunc("GET /stock-accounts/{id}", telemetry.WithHTTPRoute(stockHandler.HandleGet))
	mux.Handle("GET /metrics", metricsHandler)

	var handler http.Handler = mux
	handler = middleware.Timeout(cfg.RequestTimeout)(handler)
	handler = middleware.Recoverer(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(handler, serviceName,
			otelhttp.WithSpanNameFormatter(telemetry.SpanName),
		),
		ReadTimeout: 10 * time.Second,
		// scheduled delivery waits on the automation service inside the webhook
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", cfg.Port, "store", cfg.StoreDriver,
			"payment_provider", cfg.Payment.Provider, "gateways", gateways.Names())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	notifier.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, db *sql.DB) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		return orders.NewOrderRepository(db), func() {}, nil

	case "mongo":
		mdb, err := orders.ConnectMongoDB(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = mdb.Client().Disconnect(context.Background()) }

		repo := orders.NewMongoRepository(mdb)
		if err := repo.CreateIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create indexes: %w", err)
		}
		return repo, closeFn, nil

	case "memory":
		return orders.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// newGatewayRegistry registers every provider that has credentials, so
// webhooks for a previously active provider still verify after a switch.
func newGatewayRegistry(cfg config.PaymentConfig, logger *slog.Logger) (*payment.Registry, error) {
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var gateways []payment.Gateway
	if cfg.MidtransServerKey != "" {
		gateways = append(gateways, midtrans.New(midtrans.Config{
			ServerKey: cfg.MidtransServerKey,
			SnapURL:   cfg.MidtransSnapURL,
			APIURL:    cfg.MidtransAPIURL,
		}, breaker.New(midtrans.Name, httpClient, logger)))
	}
	if cfg.DuitkuMerchantCode != "" && cfg.DuitkuAPIKey != "" {
		gateways = append(gateways, duitku.New(duitku.Config{
			MerchantCode: cfg.DuitkuMerchantCode,
			APIKey:       cfg.DuitkuAPIKey,
			BaseURL:      cfg.DuitkuBaseURL,
		}, breaker.New(duitku.Name, httpClient, logger)))
	}

	return payment.NewRegistry(cfg.Provider, gateways...)
}
