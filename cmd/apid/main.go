package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smarter-guild/bytes-core/internal/activity"
	"github.com/smarter-guild/bytes-core/internal/announce"
	"github.com/smarter-guild/bytes-core/internal/api"
	"github.com/smarter-guild/bytes-core/internal/appconfig"
	"github.com/smarter-guild/bytes-core/internal/cache"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/guildconfig"
	"github.com/smarter-guild/bytes-core/internal/ledger"
	"github.com/smarter-guild/bytes-core/internal/logger"
	"github.com/smarter-guild/bytes-core/internal/observability"
	"github.com/smarter-guild/bytes-core/internal/squads"
	"github.com/smarter-guild/bytes-core/internal/store"
)

func main() {
	cfg := appconfig.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("bytes-core starting")

	zone, err := time.LoadLocation(cfg.GuildTimezone)
	if err != nil {
		log.Warn().Err(err).Str("zone", cfg.GuildTimezone).Msg("invalid guild timezone, falling back to UTC")
		zone = time.UTC
	}

	st, err := store.Open(cfg.DatabaseURL, 20)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer st.Close()

	if err := store.Migrate(st.DB(), "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("migrations applied")

	clock := clockid.SystemClock{}
	ids := clockid.UUIDGenerator{}

	gc := guildconfig.New(st.DB(), clock)

	var rdb *cache.Client
	if cfg.RedisURL != "" {
		rc, err := cache.New(cfg.RedisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing with TTL-only guild config cache")
		} else if pingErr := rc.Ping(context.Background()); pingErr != nil {
			log.Warn().Err(pingErr).Msg("redis ping failed — continuing with TTL-only guild config cache")
		} else {
			rdb = rc
			gc.WithInvalidation(rdb)
			listenCtx, cancelListen := context.WithCancel(context.Background())
			defer cancelListen()
			go gc.ListenForInvalidation(listenCtx)
			log.Info().Msg("redis connected, guild config invalidation fan-out active")
		}
	}

	ldg := ledger.New(st, gc, clock, ids, zone)
	act := activity.New(st, clock, ids)
	sq := squads.New(st, clock, ids, gc.CampaignActiveFor)
	sq.OnTouch(func(guildID, squadID string) { act.Invalidate(guildID, squadID) })

	webhook := announce.NewHTTPWebhook(announce.DiscordWebhookURL)
	ann := announce.New(st, clock, webhook, cfg.BeaconTimeout)

	metrics := observability.NewMetrics(clock, log)

	srv := api.NewServer(cfg, st, gc, ldg, sq, act, ann, metrics, rdb, clock, log)
	handler := api.NewRouter(srv)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("bytes-core listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("bytes-core stopped gracefully")
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
}
