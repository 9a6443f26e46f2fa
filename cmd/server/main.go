package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"candleduel/internal/api"
	"candleduel/internal/auth"
	"candleduel/internal/broadcast"
	"candleduel/internal/candle"
	"candleduel/internal/config"
	"candleduel/internal/disconnect"
	"candleduel/internal/matchmaker"
	"candleduel/internal/metrics"
	"candleduel/internal/position"
	"candleduel/internal/room"
	"candleduel/internal/scheduler"
	"candleduel/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	st, err := store.New(cfg.Database.URL)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	candles, err := candle.NewProvider(os.Getenv("POLYGON_API_KEY"), cfg.Candles.DataRoot, log)
	if err != nil {
		log.Fatal("create candle provider", zap.Error(err))
	}
	defer candles.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Broadcast.Host + ":" + strconv.Itoa(cfg.Broadcast.Port),
		Password: cfg.Broadcast.Password,
	})
	defer rdb.Close()

	rooms := room.NewManager(log)
	positions := position.NewStore()
	hub := broadcast.NewHub()
	defer hub.Stop()
	bcast := broadcast.NewBroadcaster(hub, rdb, []byte(cfg.Auth.SigningSecret), cfg.Server.InstanceID, log)
	leases := scheduler.NewLeaseStore(rdb, cfg.Server.InstanceID)
	sched := scheduler.NewManager(log, st, positions, rooms, bcast, leases)

	mm := matchmaker.NewManager(log, st, rooms, sched, candles, bcast, matchmaker.Policy{
		Symbols:         cfg.Candles.Symbols,
		DurationMinutes: 10,
		StartingBalance: 100_000,
	})
	disc := disconnect.NewSupervisor(log, rooms, st, sched, bcast, cfg.Scheduler.DisconnectTTL)
	defer disc.Stop()

	var previousKey []byte
	if cfg.Auth.PreviousSigningSecret != "" {
		previousKey = []byte(cfg.Auth.PreviousSigningSecret)
	}
	verifier := auth.NewVerifier([]byte(cfg.Auth.SigningSecret), previousKey)
	go sweepNonces(verifier)

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	srv := api.NewServer(log, cfg, st, rooms, positions, sched, mm, disc, bcast, hub, candles, verifier, met, registry)
	defer srv.Shutdown()

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Info("starting server", zap.String("addr", cfg.Server.ListenAddr), zap.String("instance_id", cfg.Server.InstanceID))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
}

// sweepNonces periodically bounds the upgrade-nonce table's size, mirroring
// the sweep-ticker idiom this codebase uses everywhere instead of a timer
// per entry.
func sweepNonces(v *auth.Verifier) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		v.SweepExpiredNonces(24 * time.Hour)
	}
}
