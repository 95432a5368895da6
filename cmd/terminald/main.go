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

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/authority"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	backendhttp "github.com/millerdave152-droid/quotation-app-sub010/internal/backend/httpclient"
	backendmemory "github.com/millerdave152-droid/quotation-app-sub010/internal/backend/memory"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/cart"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/config"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/httpapi"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/localstate"
	statememory "github.com/millerdave152-droid/quotation-app-sub010/internal/localstate/memory"
	statepg "github.com/millerdave152-droid/quotation-app-sub010/internal/localstate/postgres"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/pricing"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/register"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/totals"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	var state localstate.Store
	if cfg.DatabaseURL != "" {
		pg, err := statepg.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start without persistence", err)
		}
		state = pg
		closers = append(closers, pg.Close)
		log.Println("local state: postgres")
	} else {
		state = statememory.New()
		log.Println("local state: in-memory")
	}

	tierCache := pricing.TierCache(pricing.NoopTierCache{})
	if cfg.RedisAddr != "" {
		redisCache := pricing.NewRedisTierCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop tier cache", err)
		} else {
			tierCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("tier cache: redis")
		}
	} else {
		log.Println("tier cache: noop")
	}

	var (
		authorityClient backend.AuthorityClient
		pricingClient   pricing.Client
		tradeInClient   backend.TradeInClient
		settleClient    backend.SettlementClient
	)
	if cfg.BackendBaseURL != "" {
		client := backendhttp.New(cfg.BackendBaseURL, func() string { return cfg.BackendToken })
		authorityClient, pricingClient, tradeInClient, settleClient = client, client, client, client
		log.Println("backend: http")
	} else {
		dev := backendmemory.NewSeeded()
		authorityClient, pricingClient, tradeInClient, settleClient = dev, dev, dev, dev
		log.Println("backend: in-memory dev stub")
	}

	carts, err := cart.NewManager(ctx, state, tradeInClient, cfg.DefaultJurisdiction)
	if err != nil {
		log.Fatalf("cart recovery failed: %v", err)
	}

	adjuster := pricing.NewAdjuster(pricingClient, tierCache, cfg.VolumeTierTTL)
	totalsFn := func(cartState domain.CartState) domain.Totals {
		return totals.Compute(cartState, adjuster)
	}
	held, err := cart.NewHeldManager(ctx, state, carts, totalsFn, cfg.HeldCartCapacity)
	if err != nil {
		log.Fatalf("held-cart recovery failed: %v", err)
	}

	engine := authority.NewEngine(authorityClient, decimal.NewFromInt(int64(cfg.CommissionRatePercent)))
	svc := register.New(carts, held, adjuster, engine, authorityClient, settleClient, state, cfg.TerminalID, cfg.StoreID, cfg.EscalationPollInterval)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPINHash)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%s", cfg.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("terminal daemon listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	svc.StopSession()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("terminal daemon stopped")
}
