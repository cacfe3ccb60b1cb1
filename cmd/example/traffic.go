package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// startTrafficSimulator requests the demo endpoints in turn so logs keep flowing
func startTrafficSimulator(ctx context.Context, baseURL string, logger *slog.Logger) {
	// Give server a moment to fully start
	time.Sleep(500 * time.Millisecond)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	endpoints := []string{"/api/users", "/api/orders", "/api/products"}
	logger.Info("traffic simulator started", "category", "simulator", "endpoints", len(endpoints))

	reqCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			endpoint := endpoints[reqCount%len(endpoints)]
			reqCount++

			go func(ep string) {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+ep, nil)
				if err != nil {
					return
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					logger.Warn("simulated request failed", "category", "simulator", "endpoint", ep, "error", err)
					return
				}
				resp.Body.Close()
			}(endpoint)
		}
	}
}
