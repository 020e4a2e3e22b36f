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

	"portafirmas.dev/internal/config"
	"portafirmas.dev/internal/gateway"
	"portafirmas.dev/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.LoadPortal()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	gw := gateway.New(cfg, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Long write timeout: the /events stream is a held connection.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting portal %s on %s", version, srv.Addr)

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
	_ = gw.Close(ctx)
	log.Println("Stopped")
}
