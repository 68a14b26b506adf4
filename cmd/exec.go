package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"tickethub/config"
	"tickethub/internal/currency"
	"tickethub/internal/gateway"
	"tickethub/internal/handlers"
	"tickethub/internal/inventory"
	"tickethub/internal/notify"
	"tickethub/internal/purchase"
	"tickethub/security"
	"tickethub/utils"

	_ "tickethub/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, utils.RedisOptions{
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
	})
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Payment gateway client with its retry policy
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, gateway.RetryPolicy{
		MaxAttempts:  cfg.GatewayMaxRetries,
		InitialDelay: cfg.GatewayRetryDelay,
	})

	// Core workflow services
	converter := currency.NewConverter(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey, cfg.RateCacheTTL, redisClient)
	ledger := inventory.NewLedger(app, redisClient, cfg.ReservationTTL)
	store := purchase.NewStore(app)
	issuer := purchase.NewIssuer(store)
	notifier := notify.NewNotifier(pn, cfg.AMQPURL)
	reconciler := purchase.NewReconciler(gatewayClient, store, ledger, issuer, notifier, redisClient)

	callbackURL := cfg.PublicURL + "/tickets/payment/callback"
	service := purchase.NewService(store, ledger, converter, gatewayClient, reconciler, callbackURL)

	// Handlers
	ticketHandler := handlers.NewTicketHandler(app, service, reconciler, store)
	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Create context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	// Register routes
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Purchase and settlement endpoints
		e.Router.POST("/tickets/purchase", ticketHandler.Purchase)
		e.Router.GET("/tickets/payment/callback", ticketHandler.PaymentCallback).
			BindFunc(rateLimiter.LimitByIP("callback", 30, time.Minute))

		// Redemption endpoints
		e.Router.PUT("/tickets/{id}/use", ticketHandler.UseTicket)
		e.Router.POST("/tickets/validate", ticketHandler.ValidateTicket)

		// Buyer history
		e.Router.GET("/tickets/mine", ticketHandler.PurchaseHistory)

		// Monitoring
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		// Release seats held by charges that never confirmed
		go ledger.StartSweeper(ctx, cfg.SweepInterval)

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	return app.Start()
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
