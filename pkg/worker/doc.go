/*
Package worker moves buffered log records from the ingestion queue into a
persistence port on a timer, and purges expired records on a second timer.

# Usage

	q := queue.New()
	w, err := worker.New(q, store, worker.DefaultConfig())
	if err != nil {
	    log.Fatal(err)
	}
	w.Start(ctx)
	defer w.Close()

	q.Push(record.New(record.LevelInfo, "billing", "invoice sent", ""))

# Flush cycle

Every FlushInterval the worker drains at most MaxPerCycle records and persists
each one in its own call, with at most Concurrency calls in flight. The cycle
waits for every call before it ends. If a tick arrives while a cycle is still
running, the tick is skipped; the backlog is picked up by the next tick.

A record whose Persist fails is dropped and counted. Delivery is at most once.

# Purge cycle

Every PurgeInterval the worker deletes records stamped strictly before
Clock() - RetentionHours. A failed purge is logged and retried on the next
schedule. RetentionHours <= 0 disables purging.

# Shutdown

Stop cancels in-flight work and waits for it, bounded by the caller's context.
Close additionally drops whatever is still queued.
*/
package worker
