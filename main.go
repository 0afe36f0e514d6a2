package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/payment-engine/common/auth"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
	"github.com/yashrajoria/payment-engine/common/logger"
	commonmw "github.com/yashrajoria/payment-engine/common/middleware"
	"github.com/yashrajoria/payment-engine/config"
	"github.com/yashrajoria/payment-engine/controllers"
	"github.com/yashrajoria/payment-engine/database"
	"github.com/yashrajoria/payment-engine/kafka"
	awspkg "github.com/yashrajoria/payment-engine/pkg/aws"
	"github.com/yashrajoria/payment-engine/repository"
	"github.com/yashrajoria/payment-engine/routes"
	"github.com/yashrajoria/payment-engine/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "payment-engine"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Initialize("development", serviceName).Fatal("Config load failed", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- AWS setup ---
	var awsCfg sdkaws.Config
	if cfg.CloudWatchLogs || cfg.MetricsEnabled || cfg.EventSink == "sns" || cfg.StatementBucket != "" {
		if awsCfg, err = awspkg.LoadAWSConfig(rootCtx); err != nil {
			logger.Initialize(cfg.Env, serviceName).Fatal("Failed to load AWS config", zap.Error(err))
		}
	}

	// --- Logger ---
	var cwLogs *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchLogs {
		cwLogs, err = awspkg.NewCloudWatchLogsClient(rootCtx, awsCfg, cfg.CloudWatchGroup, serviceName)
		if err != nil {
			logger.Initialize(cfg.Env, serviceName).Warn("CloudWatch Logs unavailable, logging to stdout only", zap.Error(err))
			cwLogs = nil
		}
	}
	var log *zap.Logger
	if cwLogs != nil {
		log = logger.InitializeWithWriter(cfg.Env, serviceName, cwLogs)
	} else {
		log = logger.Initialize(cfg.Env, serviceName)
	}
	defer log.Sync()

	var metricsClient *awspkg.MetricsClient
	var metrics services.MetricsRecorder
	if cfg.MetricsEnabled {
		metricsClient = awspkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, true)
		metrics = metricsClient
	}

	// --- Storage ---
	var (
		db    *gorm.DB
		store repository.Store
	)
	switch cfg.StoreDriver {
	case "postgres":
		db, err = database.ConnectPostgres(cfg, log)
		if err != nil {
			log.Fatal("DB connection failed", zap.Error(err))
		}
		store = repository.NewGormStore(db)
	default:
		log.Warn("Using in-memory store; state is lost on restart")
		store = repository.NewMemoryStore()
	}

	// --- Collaborators ---
	var notifier services.Notifier
	var producer *kafka.PaymentEventProducer
	switch cfg.EventSink {
	case "sns":
		notifier = services.NewSNSNotifier(awspkg.NewSNSClient(awsCfg), cfg.PaymentSNSTopic)
	case "kafka":
		producer = kafka.NewPaymentEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		notifier = producer
	default:
		notifier = services.NewLogNotifier(log)
	}

	clock := services.Clock(time.Now)

	var nonces services.NonceStore
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(rootCtx).Err(); err != nil {
			log.Fatal("Redis unreachable", zap.Error(err))
		}
		nonces = services.NewRedisNonceStore(redisClient)
	} else {
		log.Warn("REDIS_URL not set, webhook nonces are tracked in memory")
		nonces = services.NewMemoryNonceStore(clock)
	}

	var objects services.ObjectOpener
	if cfg.StatementBucket != "" {
		objects = awspkg.NewObjectReader(awsCfg)
	}

	policy, err := services.NewCommissionPolicy(
		cfg.CommissionTierRates,
		cfg.CommissionDefaultTier,
		cfg.PlatformFeeRate,
		cfg.PlatformFeeBase,
		cfg.CommissionSplit,
	)
	if err != nil {
		log.Fatal("Invalid commission policy", zap.Error(err))
	}

	grammar := services.NewReferenceGrammar(cfg.PaymentPrefix, cfg.RefundPrefix, cfg.AltPrefix)
	account := services.BankAccount{
		BankCode:    cfg.BankCode,
		AccountNo:   cfg.BankAccountNo,
		AccountName: cfg.BankAccountName,
		QRBaseURL:   cfg.QRBaseURL,
	}
	inventory := services.NewInventoryClient(cfg.InventoryServiceURL, log)

	// --- Services ---
	calculator := services.NewCommissionService(store, policy, services.NewLedgerAccounting(clock), clock, log)
	queue := services.NewCommissionQueue(store, calculator, notifier, metrics, services.QueueConfig{
		PollInterval: cfg.CommissionPollInterval,
		BatchSize:    cfg.CommissionBatchSize,
		BaseBackoff:  cfg.CommissionBaseBackoff,
		StaleAfter:   cfg.CommissionStaleAfter,
	}, clock, log)

	payments := services.NewPaymentService(store, services.PaymentServiceConfig{
		Currency: cfg.Currency,
		TTL:      cfg.PaymentTTL,
		Account:  account,
		Grammar:  grammar,
	}, inventory, notifier, metrics, clock, log)

	verifier := services.NewSignatureVerifier(cfg.WebhookSecret, cfg.WebhookWindow, nonces, clock)
	webhooks := services.NewWebhookService(store, verifier, inventory, notifier, queue, metrics, services.WebhookServiceConfig{
		Currency:           cfg.Currency,
		Account:            account,
		Grammar:            grammar,
		CommissionAttempts: cfg.CommissionMaxAttempts,
	}, clock, log)

	refunds := services.NewRefundService(store, grammar, notifier, metrics, clock, log)
	reconciler := services.NewReconciliationService(refunds, grammar, objects, cfg.StatementBucket, metrics, log)

	sweeper := services.NewExpirationSweeper(store, inventory, notifier, metrics, services.SweeperConfig{
		ExpiryInterval:  cfg.ExpirySweepInterval,
		WarningInterval: cfg.WarningSweepInterval,
		WarningWindow:   cfg.WarningWindow,
		BatchSize:       cfg.SweepBatchSize,
		Workers:         cfg.SweepWorkers,
	}, clock, log)

	// --- Background workers ---
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	for _, run := range []func(context.Context){sweeper.Start, queue.Start} {
		workers.Add(1)
		go func(run func(context.Context)) {
			defer workers.Done()
			run(workerCtx)
		}(run)
	}

	// --- HTTP router ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.RequestLogger(log))
	r.Use(commonmw.MetricsMiddleware(metricsClient, serviceName))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORS(cfg.AllowOrigins))
	r.Use(commonmw.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	routes.Register(r, routes.Controllers{
		Payments:       controllers.NewPaymentController(payments, webhooks, log),
		Webhooks:       controllers.NewWebhookController(webhooks, log),
		Refunds:        controllers.NewRefundController(refunds),
		Reconciliation: controllers.NewReconciliationController(reconciler, log),
		Jobs:           controllers.NewJobController(queue),
	}, routes.Options{
		Tokens:           auth.NewTokenParser(cfg.JWTSecret),
		ExternalAPIKey:   cfg.ExternalAPIKey,
		WebhookRateLimit: cfg.WebhookRateLimit,
	})

	// --- HTTP server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Payment engine started",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("event_sink", cfg.EventSink),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	<-rootCtx.Done()
	log.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	cancelWorkers()
	workers.Wait()

	if producer != nil {
		producer.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Redis close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}
	log.Info("Payment engine stopped gracefully")
	if cwLogs != nil {
		cwLogs.Close()
	}
}
