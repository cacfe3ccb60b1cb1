// Command example is a small demo API that ships its logs to a tinylog server.
// It runs its own queue and worker and forwards records over HTTP, so the app
// never blocks on the log server.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/sdk"
	"github.com/nicktill/tinylog/pkg/sdk/httpx"
	sdkruntime "github.com/nicktill/tinylog/pkg/sdk/runtime"
	"github.com/nicktill/tinylog/pkg/sdk/transport"
	"github.com/nicktill/tinylog/pkg/worker"
)

const (
	defaultEndpoint = "http://localhost:8080/v1/logs"
	listenAddr      = ":3001"
)

var startTime = time.Now()

func main() {
	endpoint := os.Getenv("TINYLOG_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	forwarder, err := transport.NewHTTP(endpoint, os.Getenv("TINYLOG_API_KEY"))
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}

	q := queue.New()
	client, err := sdk.New(q, sdk.ClientConfig{Service: "example-app", MinLevel: record.LevelDebug})
	if err != nil {
		log.Fatalf("Failed to create tinylog client: %v", err)
	}

	// Retention belongs to the server; this worker only forwards
	cfg := worker.DefaultConfig()
	cfg.FlushInterval = 2 * time.Second
	cfg.RetentionHours = 0
	w, err := worker.New(q, forwarder, cfg)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	// The worker outlives the traffic context so the final flush can run
	if err := w.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	logger := slog.New(client.Handler())

	mux := http.NewServeMux()
	setupHandlers(mux, client, logger)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: httpx.Middleware(client)(mux),
	}

	go func() {
		log.Printf("Starting example app on %s, forwarding logs to %s", listenAddr, endpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go startTrafficSimulator(ctx, "http://localhost"+listenAddr, logger)
	go sdkruntime.NewCollector(client, 30*time.Second, sdkruntime.Thresholds{}).Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down example app...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	// One last cycle for what the shutdown itself logged
	if res, ok := w.Flush(shutdownCtx); ok && res.Drained > 0 {
		log.Printf("Final flush forwarded %d of %d records", res.Persisted, res.Drained)
	}
	if err := w.Close(); err != nil {
		log.Printf("Worker close warning: %v", err)
	}

	emitted, filtered := client.Stats()
	log.Printf("Example app exited (%d records emitted, %d filtered, %d forwarded)",
		emitted, filtered, forwarder.Delivered())
}
