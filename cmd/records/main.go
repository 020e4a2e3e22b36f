package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"portafirmas.dev/internal/backend"
	"portafirmas.dev/internal/config"
	"portafirmas.dev/internal/httpapi"
	"portafirmas.dev/internal/migrate"
	"portafirmas.dev/internal/obs"
	"portafirmas.dev/internal/realtime"
	"portafirmas.dev/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.LoadRecords()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store *pg.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DSN != "" {
		store, err = pg.Open(cfg.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		probe = httpapi.ReadyProbe{DB: store.DB()}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrate.NewRunner(store.DB()).Up(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
	}

	var tokens *backend.TokenService
	if cfg.TokenSecret != "" {
		tokens, err = backend.NewTokenService(cfg.TokenSecret, cfg.Issuer, cfg.TokenTTL)
		if err != nil {
			log.Fatalf("tokens: %v", err)
		}
	}

	hub := realtime.NewHub()

	var svc *backend.Service
	if store != nil {
		svc = backend.NewService(store, tokens, hub)
	}

	api := httpapi.New(svc, hub, probe, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket event connections are held open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting records-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
