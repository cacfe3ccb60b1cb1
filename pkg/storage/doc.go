/*
Package storage provides the pluggable persistence abstraction for tinylog records.

# Persistence Port

The flush worker only needs two operations, so it depends on the narrow Port:

	type Port interface {
	    Persist(ctx context.Context, rec *record.Record, iso sql.IsolationLevel) error
	    Purge(ctx context.Context, before time.Time) (int64, error)
	}

Both calls may be slow (disk or network bound) and are always invoked from the
worker's goroutines, never from a producer. Each call is its own unit of work:
a failed or cancelled Persist leaves nothing behind, and a failed Purge leaves
the remaining records untouched.

Backends that can also be read back implement Storage, which adds Query, Stats
and Close. The HTTP API and the live tail work against Storage.

# Backends

  - memory: slice-backed, for tests and ephemeral runs
  - badger: BadgerDB (LSM tree), msgpack values compressed with zstd
  - sqlstore: any database/sql driver, statements rendered by a Dialect;
    the server runs it on SQLite

# Purge boundary

Purge(before) deletes records whose timestamp is strictly before the cutoff.
With a 24h retention, a record exactly 24h old survives and one 24h+1ns old
does not.

# Isolation

The isolation level is passed through by sqlstore; drivers that cannot
lower it (SQLite) run serializable. Badger transactions are always
serialisable snapshot isolation and memory has no transactions, so both ignore it.
*/
package storage
