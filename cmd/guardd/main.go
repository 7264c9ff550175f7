package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/jedoz/abuseguard/internal/blacklist"
	"github.com/jedoz/abuseguard/internal/captcha"
	"github.com/jedoz/abuseguard/internal/config"
	"github.com/jedoz/abuseguard/internal/device"
	"github.com/jedoz/abuseguard/internal/duplicate"
	"github.com/jedoz/abuseguard/internal/guard"
	"github.com/jedoz/abuseguard/internal/messaging"
	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/migrate"
	"github.com/jedoz/abuseguard/internal/moderation"
	"github.com/jedoz/abuseguard/internal/ratelimit"
	"github.com/jedoz/abuseguard/internal/shadowban"
	"github.com/jedoz/abuseguard/internal/store"
)

var errNoCaptchaProvider = errors.New("captcha: no provider configured")

func main() {
	log.Println("Starting abuse guard service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// Postgres setup.
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if cfg.DatabaseMigrate {
		if err := migrate.Up(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	// NATS setup. Signals are best effort, so the guard runs without it.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "abuseguard-guardd"

	var publisher guard.Publisher
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("[guardd] NATS unavailable, moderation signals disabled: %v", err)
	} else {
		publisher = natsClient
	}

	pipeline := guard.New(buildComponents(cfg, rdb, db, publisher))

	// Background fingerprint pruning.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	fingerprints := store.NewFingerprintRepository(db)
	go fingerprints.StartPruning(bgCtx, cfg.Retention.Fingerprints, cfg.Retention.PruneInterval)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/v1", pipeline.Routes())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	log.Printf("Abuse guard service running")
	log.Printf("  listen_addr:    %s", cfg.ListenAddr)
	log.Printf("  redis_addr:     %s", cfg.RedisAddr)
	log.Printf("  nats_url:       %s", natsConfig.URL)
	log.Printf("  duplicate:      threshold=%.2f action=%s", cfg.Duplicate.Threshold, cfg.Duplicate.Action)
	log.Printf("  spam:           block=%d review=%d", cfg.Spam.Thresholds.Block, cfg.Spam.Thresholds.Review)
	log.Printf("  captcha:        %v", cfg.Captcha.Enabled)
	log.Printf("  trusted_proxies: %d", len(cfg.TrustedProxies))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	bgCancel()
	if natsClient != nil {
		natsClient.Close()
	}
	db.Close()
	rdb.Close()
}

func buildComponents(cfg config.Config, rdb *redis.Client, db *sql.DB, publisher guard.Publisher) guard.Components {
	var blacklistStore blacklist.Store = store.NewBlacklistRepository(db)
	if cfg.Blacklist.CacheTTL > 0 {
		blacklistStore = blacklist.NewCachedStore(blacklistStore, rdb, cfg.Blacklist.CacheTTL)
	}

	if cfg.Captcha.Enabled {
		log.Printf("[guardd] captcha enabled without a provider; tokens follow CAPTCHA_ON_ERROR=%s", cfg.Captcha.OnError)
	}
	verifier := captcha.VerifierFunc(func(context.Context, string, string) (bool, error) {
		return false, errNoCaptchaProvider
	})

	return guard.Components{
		Blacklist: blacklist.NewGuard(blacklistStore, cfg.Blacklist.OnStoreError),
		Limiter: ratelimit.NewLimiter(
			ratelimit.NewRedisWindow(rdb),
			ratelimit.WithFailurePolicy(cfg.RateLimit.OnStoreError),
		),
		Presets:        cfg.RateLimit.Presets,
		Devices:        device.NewLinker(store.NewDeviceRepository(db)),
		Scorer:         moderation.NewScorer(cfg.Spam.Keywords),
		Thresholds:     cfg.Spam.Thresholds,
		Duplicates:     duplicate.NewEnforcer(store.NewFingerprintRepository(db), cfg.Duplicate),
		Shadowban:      shadowban.NewFilter(store.NewProfileRepository(db), cfg.Shadowban),
		Captcha:        captcha.NewGuard(cfg.Captcha.Enabled, verifier, cfg.Captcha.OnError),
		Publisher:      publisher,
		DeviceHeader:   cfg.DeviceHeader,
		TrustedProxies: cfg.TrustedProxies,
	}
}
