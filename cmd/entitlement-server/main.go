// cmd/entitlement-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bezhas-entitlements/internal/ai"
	"bezhas-entitlements/internal/api"
	"bezhas-entitlements/internal/billing"
	"bezhas-entitlements/internal/common/auth"
	awsclient "bezhas-entitlements/internal/common/aws"
	"bezhas-entitlements/internal/common/config"
	"bezhas-entitlements/internal/common/database"
	httpclient "bezhas-entitlements/internal/common/http"
	"bezhas-entitlements/internal/common/logger"
	"bezhas-entitlements/internal/common/observability"
	"bezhas-entitlements/internal/cost"
	"bezhas-entitlements/internal/entitlement"
	"bezhas-entitlements/internal/gas"
	"bezhas-entitlements/internal/gate"
	"bezhas-entitlements/internal/ledger"
	"bezhas-entitlements/internal/notify"
	"bezhas-entitlements/internal/staking"
	"bezhas-entitlements/internal/subscription"
	"bezhas-entitlements/internal/tiers"
	"bezhas-entitlements/internal/usage"
)

var version = "dev"

const stateCacheTTL = 30 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting entitlement server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", version))

	obs := observability.New(cfg.App.Name, version)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Catalog and pricing policy ---
	catalog, err := tiers.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		zapLog.Fatal("tier catalog failed to load", zap.Error(err))
	}
	policy := tiers.DefaultPolicy()
	policy.BEZToUSDRate = cfg.Tokenomics.BezToUSDRate
	policy.BaseStakingAPY = cfg.Tokenomics.BaseStakingAPY
	policy.PlatformFeePercent = cfg.Tokenomics.PlatformFeePercent
	policy.NativeTokenUSDPrice = cfg.Tokenomics.NativeTokenUSDPrice

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	checks := []api.Check{{Name: "redis", Ping: rdb.Ping}}

	// --- Subscription store ---
	var store subscription.Store = subscription.NewMemoryStore()
	if cfg.Database.Postgres.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgStore := subscription.NewPostgresStore(pg.DB)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("subscription schema migration failed", zap.Error(err))
		}
		store = pgStore
		checks = append(checks, api.Check{Name: "postgres", Ping: pg.Ping})
		zapLog.Info("PostgreSQL connected successfully")
	} else {
		zapLog.Warn("PostgreSQL disabled; subscription state is kept in memory")
	}
	store = subscription.NewCachedStore(store, rdb.Client, stateCacheTTL, log)

	// --- Entitlement services ---
	subs := subscription.NewService(store, catalog, log)
	resolver := entitlement.NewResolver(store, catalog, nil)

	backend := usage.NewFallbackBackend(usage.NewRedisBackend(rdb.Client), usage.NewMemoryBackend(), log)
	counter := usage.NewCounter(backend, catalog, log)
	limiter := usage.NewAIRateLimiter(backend, catalog, nil)

	oracle := gas.NewHTTPOracle(httpclient.NewClient(config.GetDuration(cfg.Gas.FetchTimeout)), cfg.Gas.OracleURL)
	prices := gas.NewPriceCache(oracle, gas.CacheConfig{
		TTL:          config.GetDuration(cfg.Gas.CacheTTL),
		FetchTimeout: config.GetDuration(cfg.Gas.FetchTimeout),
		DefaultPrice: cfg.Gas.DefaultPriceGwei,
		MaxPrice:     cfg.Gas.MaxPriceGwei,
	}, log)
	estimator := gas.NewEstimator(prices, catalog, policy)
	costs := cost.NewCalculator(nil, catalog, policy, estimator, log)

	secret := cfg.Staking.SignatureSecret
	if secret == "" {
		secret, err = staking.GenerateSecret()
		if err != nil {
			zapLog.Fatal("failed to generate signature secret", zap.Error(err))
		}
		zapLog.Warn("staking.signature_secret not set; using an ephemeral secret, signatures will not survive a restart")
	}
	signer, err := staking.NewSigner(secret, config.GetDuration(cfg.Staking.SignatureTTL), catalog, policy)
	if err != nil {
		zapLog.Fatal("failed to create staking signer", zap.Error(err))
	}
	stakingSvc := staking.NewService(resolver, staking.NewProjector(catalog, policy), signer, policy)

	// --- Charge ledger ---
	var recorder ledger.Recorder = ledger.NopRecorder{}
	if cfg.Ledger.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Ledger.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		recorder = ledger.NewElasticsearchRecorder(es.Client, cfg.Ledger.Elasticsearch.Index, log)
		checks = append(checks, api.Check{Name: "elasticsearch", Ping: es.Ping})
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Notifications ---
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SNS.Enabled {
		var email notify.EmailSender
		var publisher notify.Publisher
		if cfg.Notifications.Email.Enabled {
			sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("failed to create SES client", zap.Error(err))
			}
			email = sesClient
		}
		if cfg.Notifications.SNS.Enabled {
			snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("failed to create SNS client", zap.Error(err))
			}
			publisher = snsClient
		}
		notifier = notify.NewAWSNotifier(email, cfg.Notifications.Email.FromEmail, publisher, cfg.Notifications.SNS.TopicARN, log)
	}

	// --- Billing ---
	webhook := billing.NewWebhookHandler(
		cfg.Billing.Stripe.WebhookSecret,
		subs,
		billing.NewRedisDeduper(rdb.Client, config.GetDuration(cfg.Billing.DedupeTTL)),
		notifier,
		log,
	)
	var checkout *billing.CheckoutService
	if cfg.Billing.Stripe.SecretKey != "" {
		checkout = billing.NewCheckoutService(
			billing.NewStripeSessions(cfg.Billing.Stripe.SecretKey),
			catalog,
			billing.CheckoutConfig{SuccessURL: cfg.Billing.Stripe.SuccessURL, CancelURL: cfg.Billing.Stripe.CancelURL},
			log,
		)
	} else {
		zapLog.Warn("Stripe secret key not set; checkout is disabled")
	}

	// --- Authentication ---
	var authenticator auth.Authenticator
	switch cfg.Auth.Mode {
	case "keycloak":
		authenticator = auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
	default:
		authenticator = auth.NewJWTAuthenticator(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Issuer)
	}

	var generator api.Generator
	if cfg.APIs.GenAI.BaseURL != "" {
		generator = ai.NewGenerator(ai.Config{
			BaseURL:    cfg.APIs.GenAI.BaseURL,
			APIKey:     cfg.APIs.GenAI.APIKey,
			Timeout:    config.GetDuration(cfg.APIs.GenAI.Timeout),
			MaxRetries: cfg.APIs.GenAI.MaxRetries,
			CacheTTL:   time.Hour,
		}, rdb.Client, log)
	}

	g := gate.New(gate.Deps{
		Authenticator: authenticator,
		Resolver:      resolver,
		Counter:       counter,
		AILimiter:     limiter,
		Costs:         costs,
		Gas:           estimator,
		Staking:       stakingSvc,
		Ledger:        recorder,
		Observability: obs,
		Logger:        log,
	})

	srv := api.NewServer(api.Deps{
		Catalog:       catalog,
		Policy:        policy,
		Subscriptions: subs,
		Resolver:      resolver,
		Counter:       counter,
		AILimiter:     limiter,
		Costs:         costs,
		Staking:       stakingSvc,
		Gate:          g,
		Checkout:      checkout,
		Webhook:       webhook,
		Ledger:        recorder,
		Generator:     generator,
		Checks:        checks,
		Observability: obs,
		Logger:        log,
		Version:       version,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLog.Info("Shutting down entitlement server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}
	zapLog.Info("Entitlement server stopped")
}
