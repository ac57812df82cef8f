package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/gigdesk/realtime-server/internal/auth"
	"github.com/gigdesk/realtime-server/internal/authz"
	"github.com/gigdesk/realtime-server/internal/chat"
	"github.com/gigdesk/realtime-server/internal/config"
	"github.com/gigdesk/realtime-server/internal/handler"
	"github.com/gigdesk/realtime-server/internal/middleware"
	"github.com/gigdesk/realtime-server/internal/notify"
	"github.com/gigdesk/realtime-server/internal/ranking"
	"github.com/gigdesk/realtime-server/internal/registry"
	"github.com/gigdesk/realtime-server/internal/store"
	"github.com/gigdesk/realtime-server/internal/ws"
)

func main() {
	// ── Configuration ──
	cfg := config.Load()

	// ── Redis ──
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("connected to Redis at", cfg.RedisAddr)

	// ── SQL Store ──
	dbDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	st, err := store.NewStore(dbDSN, rdb)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	log.Printf("database initialised: %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// ── Token Verifier ──
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	// ── Realtime Components ──
	reg := registry.New()
	checker := authz.NewChecker(st)
	chatStore := chat.NewChatStore(st, rdb, cfg.ChatCacheTTL, cfg.ChatRecentLimit)
	hub := ws.NewHub(reg, checker, chatStore, st, st)
	ranker := ranking.NewRanker(st)
	notifier := notify.NewNotifier(ranker, hub, cfg.RankRadiusKm, cfg.RankLimit)

	// ── Gin Router ──
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger())

	h := handler.NewHandler(hub, verifier, checker, chatStore, st, notifier)
	h.RegisterRoutes(r,
		middleware.BearerAuth(verifier),
		middleware.ServiceTokenAuth(cfg.ServiceToken),
	)

	// ── HTTP Server with graceful shutdown ──
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	// ── Graceful Shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	rdb.Close()
	log.Println("server exited cleanly")
}
