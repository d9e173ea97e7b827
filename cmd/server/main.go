package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mysticorb/mysticorb-server/internal/achievement"
	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/bonus"
	"github.com/mysticorb/mysticorb-server/internal/config"
	"github.com/mysticorb/mysticorb-server/internal/handler"
	"github.com/mysticorb/mysticorb-server/internal/invoice"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/middleware"
	"github.com/mysticorb/mysticorb-server/internal/referral"
	"github.com/mysticorb/mysticorb-server/internal/service"
	"github.com/mysticorb/mysticorb-server/internal/store"
	"github.com/mysticorb/mysticorb-server/internal/ws"
)

func main() {
	// ── Configuration ──
	_ = godotenv.Load()
	cfg := config.Load()

	if err := logging.Init(cfg.Production); err != nil {
		panic(err)
	}
	defer logging.Sync()
	log := logging.Sugar

	// ── Redis ──
	// Redis only backs idempotency fast paths; the database stays
	// authoritative, so a dead Redis degrades rather than kills us.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnf("redis unavailable, dedup fast paths disabled: %v", err)
		rdb = nil
	} else {
		log.Infof("connected to Redis at %s", cfg.RedisAddr)
	}

	// ── SQL Store ──
	dbDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	st, err := store.NewStore(dbDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	log.Infof("database initialised: %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// ── WebSocket Hub ──
	hub := ws.NewHub()

	// ── Services ──
	userSvc := auth.NewUserService(st.DB())
	ledgerSvc := ledger.NewService(st.DB(), rdb, cfg.WebhookDedupTTL, hub)
	tracker := achievement.NewTracker(st.DB(), ledgerSvc, hub)
	bonusSvc := bonus.NewScheduler(st.DB(), rdb, ledgerSvc, hub, cfg.DailyBonusCredits)
	redeemer := referral.NewRedeemer(st.DB(), ledgerSvc, hub, cfg.ReferralBonusCredits)
	invoiceSvc := invoice.NewService(ledgerSvc, cfg.InvoiceIssuerName, cfg.InvoiceIssuerAddress)
	readingSvc := service.NewReadingService(st.DB(), ledgerSvc, tracker, service.EchoProvider{}, hub, cfg)

	// ── Gin Router ──
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.NewHandler(hub)
	authHandler := handler.NewAuthHandler(userSvc, cfg)
	userHandler := handler.NewUserHandler(userSvc, ledgerSvc, bonusSvc, redeemer, tracker)
	readingHandler := handler.NewReadingHandler(readingSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	webhookHandler := handler.NewWebhookHandler(ledgerSvc)
	adminHandler := handler.NewAdminHandler(userSvc, ledgerSvc, tracker)

	// Public routes
	h.RegisterPublicRoutes(r)
	authHandler.RegisterRoutes(r)

	// Business routes behind API key authentication
	api := r.Group("/api/v1", middleware.APIKeyAuth(userSvc))
	h.RegisterRoutes(api)
	userHandler.RegisterRoutes(api)
	readingHandler.RegisterRoutes(api)
	invoiceHandler.RegisterRoutes(api)

	// Payment provider webhooks behind the shared secret
	webhookHandler.RegisterRoutes(r.Group("/api/v1/webhooks", middleware.WebhookSecretAuth(cfg.WebhookSecret)))

	// Admin routes behind the admin token
	adminHandler.RegisterRoutes(r.Group("/api/v1/admin", middleware.AdminTokenAuth(cfg.AdminToken)))

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown error: %v", err)
	}

	if rdb != nil {
		rdb.Close()
	}
	log.Info("server exited cleanly")
}
