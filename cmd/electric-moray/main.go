// Command electric-moray runs the bucket key/value store with its HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joyent/electric-moray/pkg/config"
	"github.com/joyent/electric-moray/pkg/moray"
	"github.com/joyent/electric-moray/pkg/server"
)

func main() {
	cfg := config.FromEnv()

	db, err := moray.Open(cfg.DataDir, &moray.Config{
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		Serializer: cfg.Serializer,
	})
	if err != nil {
		log.Fatalf("[main] opening database: %v", err)
	}
	defer db.Close()

	srv := server.New(&server.Config{
		Address: cfg.Address,
		Port:    cfg.Port,
	}, db)
	if err := srv.Start(); err != nil {
		log.Fatalf("[main] starting server: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("[main] closing database: %v", err)
	}
}
