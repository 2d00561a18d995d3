package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sellora/backend/internal/database"
	mW "github.com/sellora/backend/internal/middleware"
	"github.com/sellora/backend/internal/notify"
	"github.com/sellora/backend/internal/paga"
	"github.com/sellora/backend/internal/services"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("paga.base_url", "PAGA_BASE_URL")
	viper.BindEnv("paga.principal", "PAGA_PRINCIPAL")
	viper.BindEnv("paga.credential", "PAGA_CREDENTIAL")
	viper.BindEnv("paga.hash_key", "PAGA_HASH_KEY")
	viper.BindEnv("paga.funding_callback_url", "PAGA_FUNDING_CALLBACK_URL")
	viper.BindEnv("orders.reservation_window", "ORDER_RESERVATION_WINDOW")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway := paga.NewClient()
	notifier := notify.NewService(db, redisClient)
	mailer := notify.NewLogMailer()

	// Initialize services
	ledger := services.NewLedgerStore(db)
	provisioningService := services.NewProvisioningService(db, ledger, gateway, redisClient, notifier, mailer)
	webhookService := services.NewWebhookService(db, ledger, notifier, mailer)
	walletService := services.NewWalletService(db, ledger, gateway, notifier, mailer)
	orderService := services.NewOrderService(db, gateway, notifier, mailer)
	billingService := services.NewBillingService(db, ledger, gateway, notifier, mailer)
	bankService := services.NewBankService(db, gateway)
	paymentLinkService := services.NewPaymentLinkService(db, gateway)

	// Background sweeps
	stop := make(chan struct{})
	go runSweep(stop, time.Hour, "order expiry", orderService.ReleaseExpiredOrders)
	go runSweep(stop, time.Hour, "order reminders", orderService.RemindPendingOrders)
	go runSweep(stop, 24*time.Hour, "recurring billing", billingService.ChargeDueSubscriptions)
	go runSweep(stop, 24*time.Hour, "missing accounts", provisioningService.ProvisionMissingAccounts)
	go runSweep(stop, 24*time.Hour, "bank refresh", bankService.RefreshBanks)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints: processor callbacks carry no bearer token, and
		// payment-link checkout is customer-facing.
		r.Get("/webhooks/paga/funding", webhookService.HandleFunding)
		r.Post("/webhooks/paga/funding", webhookService.HandleFunding)
		r.Get("/webhooks/paga/payment", orderService.HandlePaymentCallback)
		r.Get("/banks", bankService.GetAllBanks)
		r.Get("/payment-links/{code}", paymentLinkService.GetLink)
		r.Get("/payment-links/{code}/qr", paymentLinkService.CheckoutQR)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", provisioningService.GetAccountInfo)
			r.Get("/wallet/transactions", walletService.ListTransactions)
			r.Post("/wallet/withdraw", walletService.Withdraw)
			r.Post("/wallet/airtime", walletService.BuyAirtime)

			r.Post("/orders", orderService.CreateOrder)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

// runSweep drives one background job on a fixed interval until stop
// closes. Each pass gets its own bounded context so a hung pass cannot
// wedge the ticker.
func runSweep(stop <-chan struct{}, interval time.Duration, name string, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		job(ctx)
	}

	log.Printf("Sweep %q scheduled every %v", name, interval)
	run()
	for {
		select {
		case <-ticker.C:
			run()
		case <-stop:
			return
		}
	}
}
