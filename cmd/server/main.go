package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinylog/pkg/config"
	sdkruntime "github.com/nicktill/tinylog/pkg/sdk/runtime"
	"github.com/nicktill/tinylog/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
)

func main() {
	log.Println("Starting tinylog server...")

	cfg := server.LoadConfig()
	log.Printf("Configuration: backend=%s, storage limit=%.2f GB, flush every %v (max %d), retention %dh",
		cfg.Backend, float64(cfg.MaxStorageBytes())/(1024*1024*1024),
		cfg.Worker.FlushInterval, cfg.Worker.MaxPerCycle, cfg.Worker.RetentionHours)

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	components, err := server.InitializeComponents(store, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		components.Hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for live tail")

	if err := components.Worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	// The server logs its own runtime health through its pipeline
	collector := sdkruntime.NewCollector(components.Client, config.RuntimeReportInterval,
		sdkruntime.Thresholds{Goroutines: config.RuntimeMaxGoroutines})
	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Start(ctx)
	}()

	// Start BadgerDB garbage collection (reclaims disk space after purges)
	stopGC := make(chan bool)
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	stopStorageCheck := make(chan bool)
	wg.Add(1)
	go server.RunStorageCheck(components.StorageMonitor, config.StorageCheckInterval, stopStorageCheck, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, components, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   POST /v1/logs            - Ingest log records")
		log.Println("   GET  /v1/logs            - Query log records")
		log.Println("   GET  /v1/stats           - Pipeline statistics")
		log.Println("   GET  /v1/health          - Flush/purge health")
		log.Println("   POST /v1/admin/flush     - Run a flush cycle now")
		log.Println("   POST /v1/admin/purge     - Run a purge cycle now")
		log.Println("   GET  /v1/export          - Export records (json/csv)")
		log.Println("   POST /v1/admin/import    - Import a JSON archive")
		log.Println("   GET  /v1/ws              - Live tail")
		log.Println("   GET  /metrics            - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting records before the worker goes away
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	if err := components.Worker.Stop(shutdownCtx); err != nil {
		log.Printf("Worker stop warning: %v", err)
	}
	if err := components.Worker.Close(); err != nil {
		log.Printf("Worker close warning: %v", err)
	}

	cancel()
	close(stopGC)
	close(stopStorageCheck)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("tinylog server exited cleanly")
}
