package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	httpserver "example.com/behavior-fleet/internal/http"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "controller.db"
	}

	server, err := httpserver.NewServer(dbPath, os.Getenv("MQTT_BROKER"))
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Printf("server error: %v", err)
	}
}
