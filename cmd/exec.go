package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"

	"transit-ticket/config"
	"transit-ticket/internal/credential"
	"transit-ticket/internal/handlers"
	"transit-ticket/internal/messaging"
	"transit-ticket/internal/services"
	"transit-ticket/internal/store"
	_ "transit-ticket/migrations"
	"transit-ticket/monitoring"
	"transit-ticket/security"
	"transit-ticket/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pn := messaging.NewPubNub(messaging.PubNubOptions{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UserID:       cfg.PubNubUserID,
	})
	dashboard := messaging.NewPubNubPublisher(pn)

	// Credential signing keys
	pub, priv, generated, err := credential.LoadOrGenerateKeypair(cfg.CredentialKeyDir)
	if err != nil {
		return err
	}
	if generated {
		slog.Warn("Generated a new credential signing key", "dir", cfg.CredentialKeyDir)
	}
	if cfg.CredentialAllowRawID {
		slog.Warn("Raw ticket ids are accepted at scan time; set CREDENTIAL_ALLOW_RAW_ID=false once all apps show signed tokens")
	}
	codec := credential.NewCodec(pub, priv, credential.Options{
		TokenTTL:   cfg.CredentialTokenTTL,
		AllowRawID: cfg.CredentialAllowRawID,
		Logger:     logger,
	})

	monitor := monitoring.NewMonitor()
	storeBreaker := services.NewStoreBreaker(utils.BreakerSettings{
		MaxRequests:  uint32(cfg.StoreBreaker.MaxRequests),
		Interval:     cfg.StoreBreaker.Interval,
		Timeout:      cfg.StoreBreaker.Timeout,
		FailureRatio: cfg.StoreBreaker.FailureRatio,
	})

	// Device fabric
	var (
		mqttClient *messaging.MQTTClient
		devices    messaging.Publisher
		connection handlers.Connection
	)
	if cfg.MQTT.Enabled {
		brokerURL, err := cfg.MQTT.BrokerURL()
		if err != nil {
			return err
		}
		mqttClient = messaging.NewMQTTClient(messaging.MQTTOptions{
			BrokerURL:     brokerURL,
			ClientID:      utils.ClientID(cfg.MQTT.ClientIDPrefix),
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			KeepAlive:     cfg.MQTT.KeepAlive,
			Subscriptions: []string{cfg.MQTT.ScanRequestTopic},
			PresenceTopic: cfg.MQTT.PresenceTopic,
			InboundBuffer: cfg.MQTT.InboundBuffer,
			Logger:        logger,
		})
		mqttClient.OnDrop(func() { monitor.TrackScan("dropped") })
		devices = mqttClient
		connection = mqttClient
	} else {
		slog.Info("MQTT disabled, scan handling is off")
	}

	// Initialize services
	events := services.NewEventPublisher(devices, dashboard, services.EventPublisherOptions{
		TopicFormat: cfg.MQTT.EventTopicFormat,
		Timeout:     cfg.PublishTimeout,
		Monitor:     monitor,
		Logger:      logger,
	})
	ticketService := services.NewTicketService(store.NewPBStore(app), codec, events, services.TicketServiceOptions{
		StoreTimeout: cfg.StoreTimeout,
		Monitor:      monitor,
		Logger:       logger,
	})
	purchaseService := services.NewPurchaseService(redisClient, ticketService, dashboard, services.PurchaseServiceOptions{
		PaymentChannel: cfg.PubNubPaymentChannel,
		Monitor:        monitor,
		Logger:         logger,
	})

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(ticketService)
	paymentHandler := handlers.NewPaymentHandler(ticketService, purchaseService, dashboard)
	adminHandler := handlers.NewAdminHandler(ticketService, redisClient, connection, storeBreaker)
	limiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	var background sync.WaitGroup

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Ticket endpoints
		e.Router.GET("/api/v1/tickets", ticketHandler.ListTickets)
		e.Router.GET("/api/v1/tickets/{ticketId}", ticketHandler.GetTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/validate/start", ticketHandler.StartValidation).BindFunc(limiter.Middleware())
		e.Router.POST("/api/v1/tickets/{ticketId}/validate/confirm", ticketHandler.ConfirmValidation).BindFunc(limiter.Middleware())
		e.Router.DELETE("/api/v1/tickets/{ticketId}", ticketHandler.DeleteTicket).BindFunc(limiter.Middleware())

		// Admin endpoints
		e.Router.GET("/api/v1/admin/tickets/{ticketId}", adminHandler.LookupTicket)

		// Test endpoints for purchases without a payment provider
		if cfg.IsDevelopment() {
			e.Router.POST("/api/v1/test/buy", paymentHandler.TestBuy).BindFunc(limiter.Middleware())
			e.Router.POST("/api/v1/test/simulate-payment", paymentHandler.SimulatePayment).BindFunc(limiter.Middleware())
		}

		// Health check
		e.Router.GET("/health", adminHandler.Health)

		log.Println("Server routes registered")

		startBackground(&background, func() {
			monitor.Run(ctx)
		})
		if cfg.EnableMetrics {
			startBackground(&background, func() {
				monitoring.Serve(ctx, ":"+cfg.MetricsPort)
			})
		}
		if cfg.PubNubSubscribeKey != "" {
			subscriber := messaging.NewPubNubSubscriber(pn, []string{cfg.PubNubPaymentChannel}, logger)
			startBackground(&background, func() {
				subscriber.Run(ctx, purchaseService.HandleNotification)
			})
		} else {
			slog.Warn("PUBNUB_SUBSCRIBE_KEY not set, payment notifications are ignored")
		}
		if mqttClient != nil {
			scanService := services.NewScanService(ticketService, codec, mqttClient, services.ScanServiceOptions{
				RequestTopic:   cfg.MQTT.ScanRequestTopic,
				ResponsePrefix: cfg.MQTT.ScanResponsePrefix,
				PublishTimeout: cfg.PublishTimeout,
				Breaker:        storeBreaker,
				Monitor:        monitor,
				Logger:         logger,
			})
			if err := mqttClient.Connect(ctx); err != nil {
				return err
			}
			startBackground(&background, func() {
				scanService.Run(ctx, mqttClient.Messages())
			})
		}

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		log.Println("Shutting down, draining in-flight work...")
		cancel()
		background.Wait()
		events.Wait()

		if mqttClient != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			mqttClient.Close(closeCtx)
			closeCancel()
		}
		log.Println("Shutdown complete")
		return e.Next()
	})

	// Serve on the configured port unless a command was given explicitly
	if len(os.Args) == 1 {
		app.RootCmd.SetArgs([]string{"serve", "--http=0.0.0.0:" + cfg.Port})
	}

	// Start server
	return app.Start()
}

func startBackground(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
