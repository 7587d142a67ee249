package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"flextraff.org/internal/audit"
	"flextraff.org/internal/auth"
	"flextraff.org/internal/config"
	"flextraff.org/internal/httpapi"
	"flextraff.org/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FLEXTRAFF_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres is optional for local runs; without it the service keeps
	// everything in memory.
	var (
		db    *sql.DB
		store auth.Store
		sink  audit.Sink
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
		sink = audit.NewPGSink(db)
	} else {
		log.Print("no FLEXTRAFF_PG_DSN set, using in-memory store")
		store = auth.NewMemoryStore()
		sink = audit.NewMemorySink()
	}
	store = auth.NewTimeoutStore(store, cfg.StoreTimeout)

	var cache *auth.GrantCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cache = auth.NewGrantCache(client, cfg.GrantCacheTTL)
	}

	codec, err := auth.NewTokenCodec([]byte(cfg.AuthSecret), auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	recorder := audit.NewRecorder(sink)
	service := auth.NewService(store, codec, recorder,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithGrantCache(cache),
	)
	admin := auth.NewAdmin(store, recorder, service,
		auth.WithAdminGrantCache(cache),
	)

	apiOpts := []httpapi.Option{
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: db}),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitRPS),
	}
	if cache != nil {
		apiOpts = append(apiOpts, httpapi.WithAuthorizer(auth.NewStoreAuthorizer(store.Grants(), cache)))
	}
	api := httpapi.New(service, admin, apiOpts...)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting flextraff-access %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Print("shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Print("stopped")
}
