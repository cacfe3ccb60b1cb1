package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/nicktill/tinylog/pkg/sdk"
)

var errPaymentDeclined = errors.New("payment provider declined the card")

// setupHandlers configures the demo endpoints. Request records come from the
// middleware; the handlers add domain records of their own.
func setupHandlers(mux *http.ServeMux, client *sdk.Client, logger *slog.Logger) {
	orders := client.Logger("orders")

	mux.HandleFunc("/api/users", handleUsers(logger))
	mux.HandleFunc("/api/orders", handleOrders(orders))
	mux.HandleFunc("/api/products", handleProducts())
	mux.HandleFunc("/health", handleHealth())
}

// handleUsers fails about 2% of requests
func handleUsers(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latency := time.Duration(50+rand.Intn(50)) * time.Millisecond
		time.Sleep(latency)

		if rand.Float32() < 0.02 {
			logger.Error("user lookup failed", "category", "users", "latency", latency)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Debug("users listed", "category", "users", "count", 2)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"users": [{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}]}`))
	}
}

// handleOrders declines about 5% of orders
func handleOrders(orders *sdk.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(80+rand.Intn(40)) * time.Millisecond)

		id := rand.Intn(100000)
		if rand.Float32() < 0.05 {
			orders.Error(fmt.Sprintf("order %d rejected", id), errPaymentDeclined)
			http.Error(w, "Payment Required", http.StatusPaymentRequired)
			return
		}

		orders.Info(fmt.Sprintf("order %d placed", id))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"order": {"id": %d, "total": 99.99}}`, id)
	}
}

func handleProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(30+rand.Intn(30)) * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"products": [{"id": 1, "name": "Widget"}, {"id": 2, "name": "Gadget"}]}`))
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": "healthy", "uptime": %q}`, time.Since(startTime).Round(time.Second).String())
	}
}
