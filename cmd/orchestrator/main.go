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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/account"
	"github.com/pixelmint/orchestrator/internal/balance"
	"github.com/pixelmint/orchestrator/internal/chain"
	"github.com/pixelmint/orchestrator/internal/config"
	"github.com/pixelmint/orchestrator/internal/httpapi"
	"github.com/pixelmint/orchestrator/internal/market"
	"github.com/pixelmint/orchestrator/internal/minting"
	"github.com/pixelmint/orchestrator/internal/signer"
	"github.com/pixelmint/orchestrator/internal/sponsor"
	"github.com/pixelmint/orchestrator/internal/store"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	db, err := store.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatal("postgres init failed", zap.Error(err))
	}
	defer db.Close()

	// ── Chain context (relayer key + contract bindings) ───────────────────────
	onchain, err := chain.NewClient(cfg)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}

	// ── Address derivation ────────────────────────────────────────────────────
	deriver, err := account.NewDeriver(
		onchain.Factory.Address(),
		onchain.EntryPoint,
		cfg.Chain.AccountCreationCode,
	)
	if err != nil {
		log.Fatal("address deriver init failed", zap.Error(err))
	}

	// ── Components ────────────────────────────────────────────────────────────
	sponsorMgr, err := sponsor.NewManager(onchain, rdb, cfg.Sponsor, log)
	if err != nil {
		log.Fatal("sponsorship manager init failed", zap.Error(err))
	}

	registry := account.NewRegistry(deriver, onchain.ChainID(), onchain, sponsorMgr, log)
	resolver := signer.NewResolver(onchain.ChainID())
	balances := balance.NewCache(rdb, onchain, time.Duration(cfg.Balance.TTLSec)*time.Second, log)
	minter := minting.NewOrchestrator(onchain, registry, sponsorMgr, db, rdb, cfg.Minting.VoteThreshold, log)
	marketplace := market.NewOrchestrator(onchain, resolver, balances, db, log)

	// ── Mint reconciler (chain truth → store, at-least-once) ─────────────────
	go minting.RunReconciler(ctx, onchain, db, log)

	log.Info("orchestrator ready",
		zap.String("relayer", onchain.RelayerAddress().Hex()),
		zap.String("factory", onchain.Factory.Address().Hex()),
		zap.String("chain_id", onchain.ChainID().String()),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	httpapi.NewHandler(registry, minter, marketplace, balances, log).Register(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
