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

	"github.com/joho/godotenv"

	"github.com/Gao-Garrix/chatserver/internal/auth"
	"github.com/Gao-Garrix/chatserver/internal/common"
	"github.com/Gao-Garrix/chatserver/internal/config"
	"github.com/Gao-Garrix/chatserver/internal/dispatch"
	"github.com/Gao-Garrix/chatserver/internal/pubsub"
	"github.com/Gao-Garrix/chatserver/internal/registry"
	"github.com/Gao-Garrix/chatserver/internal/server"
	"github.com/Gao-Garrix/chatserver/internal/store"
	"github.com/Gao-Garrix/chatserver/pkg/database"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	// command invalid! example: ./chatserver 127.0.0.1 6000
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "command invalid! example: ./chatserver 127.0.0.1 6000")
		os.Exit(-1)
	}
	ip := os.Args[1]
	port := os.Args[2]

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, using environment variables")
	}

	cfg := config.Load()
	cfg.ListenAddr = ip
	cfg.ListenPort = port
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	log.Println("connecting to postgres...")
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	log.Println("connected to postgres")

	st := store.New(db)

	log.Println("connecting to redis...")
	bus, err := pubsub.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer bus.Close()
	log.Println("connected to redis")

	// Repair any state a previous crash left behind before a single client
	// can connect: I1 and scenario 6 (crash recovery) both depend on no
	// stale "online" rows surviving a restart.
	st.ResetAllOnlineToOffline(context.Background())

	reg := registry.New()
	d := dispatch.New(reg, st, bus)
	bus.SetOnMessage(d.OnBusMessage)

	var adminHandler = noAdminConfigured
	if cfg.AdminPasswordHash != "" {
		issuer := auth.NewAdminIssuer(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.AdminTokenExpiry)
		adminHandler = issuer.Handler()
	}

	srv := server.New(d, server.Options{
		Addr:        cfg.ListenAddr + ":" + cfg.ListenPort,
		Environment: cfg.Environment,
		Workers:     cfg.Workers,
		AdminToken:  adminHandler,
	})

	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(serverCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server stopped: %v", err)
	case <-quit:
		log.Println("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	cancelServer()

	// Mirror the original ctrl+C handler: reset every online user back to
	// offline before the process actually exits.
	st.ResetAllOnlineToOffline(context.Background())
	log.Println("server stopped")
}

func noAdminConfigured(w http.ResponseWriter, r *http.Request) {
	common.NotFound(w, "admin token issuance not configured")
}
