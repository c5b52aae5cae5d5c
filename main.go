// File: hospital/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hospital/config"
	"hospital/cron"
	"hospital/database"
	"hospital/database/repository"
	"hospital/handlers"
	"hospital/middleware"
	"hospital/routes"
	"hospital/services/billing"
	"hospital/services/mpesa"
	"hospital/services/notification"
	"hospital/services/payment"
	"hospital/services/tasks"
	"hospital/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	defer logger.Sync()

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := handlers.RegisterValidators(); err != nil {
		logger.Sugar().Fatalf("main: failed to register validators: %v", err)
	}

	database.InitDB()
	cache := utils.GetCacheClient()

	rootCtx, stopMonitors := context.WithCancel(context.Background())
	defer stopMonitors()
	utils.StartHealthMonitor(rootCtx, cache, database.MongoClient, 60*time.Second)

	// repositories.
	billingRepo := repository.NewMongoBillingRepo()
	transactionRepo := repository.NewMongoTransactionRepo()
	unmatchedRepo := repository.NewMongoUnmatchedCallbackRepo()

	// gateway.
	gateway, err := mpesa.NewClient(mpesa.Config{
		BaseURL:        config.MpesaBaseURL(),
		ConsumerKey:    config.AppConfig.MpesaConsumerKey,
		ConsumerSecret: config.AppConfig.MpesaConsumerSecret,
		Shortcode:      config.AppConfig.MpesaShortcode,
		Passkey:        config.AppConfig.MpesaPasskey,
		CallbackURL:    config.AppConfig.MpesaCallbackURL,
		HTTPTimeout:    config.AppConfig.MpesaHTTPTimeout,
	}, mpesa.NewRedisTokenCache(cache), logger.Named("mpesa"))
	if err != nil {
		logger.Sugar().Fatalf("main: invalid M-Pesa configuration: %v", err)
	}

	// notifications.
	var notifier payment.Notifier = notification.Nop{}
	fcm, err := utils.FirebaseInit(rootCtx)
	if err != nil {
		logger.Sugar().Fatalf("main: %v", err)
	}
	if fcm != nil {
		if notifier, err = notification.NewPaymentNotifier(fcm, logger.Named("notification")); err != nil {
			logger.Sugar().Fatalf("main: %v", err)
		}
	} else {
		logger.Warn("main: FIREBASE_CREDENTIALS_FILE not set, payment notifications disabled")
	}

	// queue.
	queue := asynq.NewClient(cron.RedisOpt())
	defer queue.Close()
	verifier := tasks.NewScheduler(queue, logger.Named("tasks"))

	// services.
	ledger := billing.NewLedger(billingRepo, logger.Named("billing"), config.AppConfig.InvoiceDueDays)
	tracker := payment.NewTracker(transactionRepo, ledger, logger.Named("tracker"))
	coordinator := payment.NewCoordinator(payment.Options{
		Ledger:       ledger,
		Tracker:      tracker,
		Gateway:      gateway,
		Throttle:     payment.NewRedisThrottle(cache),
		Scheduler:    verifier,
		Notifier:     notifier,
		Logger:       logger.Named("payment"),
		Unmatched:    unmatchedRepo,
		PollInterval: config.AppConfig.MpesaPollInterval,
		PollTimeout:  config.AppConfig.MpesaPollTimeout,
	})

	worker, scheduler := cron.InitWorker(&cron.Worker{
		Ledger:      ledger,
		Coordinator: coordinator,
		Tracker:     tracker,
		Scheduler:   verifier,
		Logger:      logger.Named("worker"),
	})

	// handlers.
	billingHandler := handlers.NewBillingHandler(ledger)
	paymentHandler := handlers.NewPaymentHandler(coordinator, config.AppConfig.MpesaCallbackToken, logger.Named("callback"))
	handlerBundle := handlers.NewHandlerBundle(billingHandler, paymentHandler)

	// Create the Gin router.
	router := gin.New()
	if err := router.SetTrustedProxies(config.AppConfig.TrustedProxies); err != nil {
		logger.Sugar().Fatalf("main: invalid TRUSTED_PROXIES: %v", err)
	}
	router.Use(utils.ErrorHandler())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RateLimitMiddleware(config.AppConfig.MaxRequestsPerMin))
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
		// ?wait=true long-polls for up to the poll timeout plus one verification.
		WriteTimeout: config.AppConfig.MpesaPollTimeout + 2*config.AppConfig.MpesaHTTPTimeout,
	}

	logger.Info("Starting server", zap.String("addr", srv.Addr), zap.String("env", config.GetEnv()))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("main: server forced to shutdown", zap.Error(err))
	}
	paymentHandler.Wait()
	scheduler.Shutdown()
	worker.Shutdown()
	if err := database.MongoClient.Disconnect(ctx); err != nil {
		logger.Warn("main: mongo disconnect failed", zap.Error(err))
	}

	logger.Info("main: server stopped gracefully")
}
