package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raffle-system/config"
	"raffle-system/internal/handlers"
	"raffle-system/internal/services"
	"raffle-system/internal/services/realtime"
	"raffle-system/internal/services/store"
	"raffle-system/internal/services/store/pbstore"
	"raffle-system/models"
	"raffle-system/monitoring"
	"raffle-system/security"
	"raffle-system/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(utils.RedisOptions{
		URL:      cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	monitor := monitoring.NewMonitor(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Realtime: every feed ends in the local hub
	hub := realtime.NewHub(realtime.WithObserver(func(evt models.TicketEvent) {
		monitor.TrackRealtimeEvent(string(evt.Kind), evt.Keyed)
	}))

	backend, err := openBackend(ctx, app, cfg, hub)
	if err != nil {
		return err
	}
	defer backend.close()

	cached := store.NewCachedStore(backend.store, redisClient, 0)
	hub.SubscribeAll(func(evt models.TicketEvent) {
		cached.Apply(context.Background(), evt)
	})

	files := pbstore.NewFiles(app, cfg.PublicURL, cfg.ReceiptBucket, cfg.ReceiptFallbackBucket, cfg.TicketBucket)

	var notifier services.Notifier = services.LogNotifier{}
	if cfg.MailEnabled {
		notifier = services.NewMailNotifier(app, cfg.MailFromAddress, cfg.MailFromName)
	}

	// Initialize services
	checkoutService := services.NewCheckoutService(cached, backend.feed, files, notifier, monitor, services.CheckoutConfig{
		Brand:            cfg.BrandName,
		SessionTTL:       cfg.SessionTTL,
		SpinRevealDelay:  cfg.SpinRevealDelay,
		BurstRevealDelay: cfg.BurstRevealDelay,
		PageSize:         cfg.GridPageSize,
		RequireEmail:     cfg.RequireEmail,
		SubmitTimeout:    cfg.SubmitTimeout,
		ReceiptsBucket:   cfg.ReceiptBucket,
		FallbackBucket:   cfg.ReceiptFallbackBucket,
		TicketsBucket:    cfg.TicketBucket,
	})
	catalogService := services.NewCatalogService(cached)
	adminService := services.NewAdminService(cached, cfg.PublicURL)

	// Initialize handlers
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, cfg.MaxReceiptSize)
	catalogHandler := handlers.NewCatalogHandler(catalogService, files)
	adminHandler := handlers.NewAdminHandler(adminService, catalogService)
	limiter := security.NewRateLimiter(redisClient, cfg.AntiBotLimit, cfg.AntiBotWindow, monitor)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	app.RootCmd.AddCommand(newSimulateCommand(func() (store.TicketStore, error) {
		return backend.store, nil
	}))

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Start background tasks
		go backend.run(ctx)
		go checkoutService.RunJanitor(ctx, cfg.CleanupInterval)
		if cfg.EnableMetrics {
			go monitor.Run(ctx, cfg.MetricsInterval)
		}

		api := e.Router.Group("/api/v1")
		api.BindFunc(limiter.AntiBot())

		// Catalog endpoints
		api.GET("/raffles", catalogHandler.ListRaffles)
		api.GET("/content/{section}", catalogHandler.Slides)
		api.GET("/tickets/lookup", catalogHandler.LookupTickets)
		api.GET("/files/{bucket}/{path...}", catalogHandler.ServeFile)

		// Checkout endpoints
		api.POST("/raffles/{raffleId}/checkout", checkoutHandler.Open)
		api.GET("/checkout/{sessionId}", checkoutHandler.View)
		api.DELETE("/checkout/{sessionId}", checkoutHandler.Close)
		api.GET("/checkout/{sessionId}/grid", checkoutHandler.Grid)
		api.POST("/checkout/{sessionId}/toggle", checkoutHandler.Toggle)
		api.POST("/checkout/{sessionId}/remove", checkoutHandler.Remove)
		api.POST("/checkout/{sessionId}/clear", checkoutHandler.Clear)
		api.POST("/checkout/{sessionId}/spin", checkoutHandler.Spin)
		api.POST("/checkout/{sessionId}/spin/reroll", checkoutHandler.RerollSpin)
		api.POST("/checkout/{sessionId}/spin/accept", checkoutHandler.AcceptSpin)
		api.POST("/checkout/{sessionId}/spin/cancel", checkoutHandler.CancelSpin)
		api.POST("/checkout/{sessionId}/burst", checkoutHandler.Burst)
		api.POST("/checkout/{sessionId}/burst/reroll", checkoutHandler.RerollBurst)
		api.POST("/checkout/{sessionId}/burst/accept", checkoutHandler.AcceptBurst)
		api.POST("/checkout/{sessionId}/burst/cancel", checkoutHandler.CancelBurst)
		api.POST("/checkout/{sessionId}/form", checkoutHandler.OpenForm)
		api.POST("/checkout/{sessionId}/form/cancel", checkoutHandler.CancelForm)
		api.POST("/checkout/{sessionId}/submit", checkoutHandler.Submit)
		api.GET("/checkout/{sessionId}/tickets/{number}/pdf", checkoutHandler.Document)

		// Admin endpoints
		admin := api.Group("/admin")
		admin.Bind(apis.RequireSuperuserAuth())
		admin.POST("/tickets/verify", adminHandler.VerifyOrder)
		admin.GET("/raffles/{raffleId}/orders", adminHandler.Orders)
		admin.GET("/raffles/{raffleId}/tickets.csv", adminHandler.ExportCSV)
		admin.POST("/raffles/{raffleId}/winner", adminHandler.DrawWinner)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := checkoutService.Shutdown(shutdownCtx); err != nil {
			log.Printf("Checkout shutdown: %v", err)
		}
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
