/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bank-of-record server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, flag overrides)
  2. Initialize SQLite store
  3. Connect the mirror adapter (JSON-RPC client, or a no-op stub when
     mirroring is disabled)
  4. Build the ledger engine and query service
  5. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides SERVER_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bank.db"

  # Run against a local mirror node
  MIRROR_RPC_URL=http://localhost:8545 MIRROR_CONTRACT=0xabc ./server

SEE ALSO:
  - config/config.go: environment variables
  - api/server.go:    router configuration
  - ledger/engine.go: transaction semantics
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/bank-ledger/api"
	"github.com/warp/bank-ledger/config"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/mirror"
	"github.com/warp/bank-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags win over environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	adapter := buildMirror(cfg)

	opts := []ledger.Option{}
	if cfg.StrictMirror {
		opts = append(opts, ledger.WithStrictMirror())
	}
	engine := ledger.NewEngine(store, adapter, opts...)
	query := ledger.NewQuery(store)

	handler := api.NewHandler(engine, query, cfg.AdminToken)
	srv := api.NewServer(handler, *port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🏦 Bank ledger listening on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// buildMirror picks the mirror adapter. A disabled mirror degrades every
// submission to a recorded=false outcome without touching the network.
func buildMirror(cfg *config.Config) mirror.Adapter {
	if !cfg.MirrorEnabled {
		log.Println("Mirror disabled; external submissions will be skipped")
		return mirror.Disabled{}
	}
	log.Printf("Mirror enabled at %s (contract %s)", cfg.MirrorEndpoint, cfg.MirrorContract)
	return mirror.NewClient(mirror.ClientConfig{
		Endpoint:      cfg.MirrorEndpoint,
		Contract:      cfg.MirrorContract,
		SubmitTimeout: cfg.MirrorTimeout,
	})
}
