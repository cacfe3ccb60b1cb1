/*
Package sdk is the producer side of tinylog: application code emits records
through a Client, which hands them to the in-memory queue and returns at once.

# Quick Start

	q := queue.New()
	client, err := sdk.New(q, sdk.ClientConfig{
	    Service:  "billing",
	    MinLevel: record.LevelInfo,
	})
	if err != nil {
	    log.Fatal(err)
	}

	// Category loggers
	invoices := client.Logger("billing.invoices")
	invoices.Info("invoice sent")
	invoices.Error("charge failed", err)

	// Or route log/slog through the same pipeline
	logger := slog.New(client.Handler())
	logger.Warn("retrying", "attempt", 3, "category", "billing.retry")

A separate worker (package worker) drains the queue into storage.

# Level filtering

Records below MinLevel are dropped before they reach the queue. A MinLevel of
record.LevelNone disables emission entirely, and records emitted at
record.LevelNone are always dropped.

# HTTP middleware

Package sdk/httpx wraps an http.Handler and emits one record per request.

# Remote servers

A producer in another process runs its own queue and worker with
sdk/transport.HTTPTransport as the persistence port; records are forwarded to
a tinylog server's POST /v1/logs. Package sdk/runtime emits periodic runtime
health records through any client.
*/
package sdk
