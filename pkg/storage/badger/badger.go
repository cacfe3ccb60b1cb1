package badger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

const (
	// recordPrefix marks record keys; everything else is metadata.
	recordPrefix byte = 'r'

	// keyLen is prefix + timestamp + source hash + id
	keyLen = 1 + 8 + 8 + 8

	// idLease is how many identifiers the sequence reserves per disk write
	idLease = 1000

	// ctxCheckEvery is how often long scans look at the context
	ctxCheckEvery = 1000
)

var sequenceKey = []byte("meta/record-id")

// Key timestamps are unsigned nanoseconds since the epoch.
var (
	minKeyTime = time.Unix(0, 0)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits: 16 MB memtable unless told otherwise
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		// Values are already zstd-compressed, so skip block compression
		WithCompression(options.None).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING).

		// Memory table configuration
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).

		// Block and index caching
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).

		// LSM tree configuration
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).

		// Value log configuration
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, idLease)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Storage{db: db, seq: seq, enc: enc, dec: dec}, nil
}

// Persist writes one record in its own transaction and assigns its identifier.
// Badger transactions are serialisable, so the isolation level is ignored.
func (s *Storage) Persist(ctx context.Context, rec *record.Record, _ sql.IsolationLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID() != 0 {
		return record.ErrIDAssigned
	}

	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate record id: %w", err)
	}
	id := int64(next) + 1 // sequences start at zero

	entry := rec.Entry()
	entry.ID = id
	value, err := s.encode(entry)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Set(makeKey(rec.Timestamp(), rec.Host(), rec.Category(), id), value); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	// Last chance to abandon the write; Discard rolls it back.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	return rec.AssignID(id)
}

// Purge removes records with a timestamp strictly before the cutoff.
// Deletes are committed in as few transactions as badger allows; each one is
// atomic, and a cancelled ctx stops before the next commit.
func (s *Storage) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{recordPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts, _, _ := parseKey(it.Item().Key())
			if !ts.Before(before) {
				// Keys are time-ordered; everything after is newer.
				break
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired records: %w", err)
	}

	var removed int64
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	pending := int64(0)
	for _, key := range keys {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if err := txn.Commit(); err != nil {
				return removed, fmt.Errorf("failed to commit purge: %w", err)
			}
			removed += pending
			pending = 0
			txn = s.db.NewTransaction(true)
			err = txn.Delete(key)
		}
		if err != nil {
			return removed, fmt.Errorf("failed to delete record: %w", err)
		}
		pending++
	}

	if pending > 0 {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := txn.Commit(); err != nil {
			return removed, fmt.Errorf("failed to commit purge: %w", err)
		}
		removed += pending
	}

	return removed, nil
}

// Query retrieves records matching the request, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []*record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		opts.Prefix = []byte{recordPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(seekKey(req.Start)); it.Valid(); it.Next() {
			iterCount++
			if iterCount%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			ts, _, _ := parseKey(item.Key())
			if ts.After(req.End) {
				break
			}

			err := item.Value(func(val []byte) error {
				entry, err := s.decode(val)
				if err != nil {
					return err
				}
				r := record.FromEntry(entry)
				if req.Matches(r) {
					results = append(results, r)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if req.Limit > 0 && len(results) >= req.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return results, nil
}

// Stats returns storage statistics from keys alone, without decoding values
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{recordPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		sources := make(map[uint64]struct{})
		for it.Rewind(); it.Valid(); it.Next() {
			if stats.TotalRecords%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts, source, _ := parseKey(it.Item().Key())
			stats.TotalRecords++
			sources[source] = struct{}{}

			if stats.OldestRecord.IsZero() {
				stats.OldestRecord = ts
			}
			stats.NewestRecord = ts
		}

		stats.TotalSources = uint64(len(sources))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)

	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: rewrite a file if this fraction of it can be discarded (0.5 = 50%).
// badger.ErrNoRewrite means there was nothing to reclaim.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close releases the id sequence and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	seqErr := s.seq.Release()
	s.enc.Close()
	s.dec.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return seqErr
}

// makeKey creates a time-ordered key: prefix + timestamp + source hash + id
func makeKey(ts time.Time, host, category string, id int64) []byte {
	key := make([]byte, keyLen)
	key[0] = recordPrefix
	binary.BigEndian.PutUint64(key[1:9], keyNanos(ts))
	binary.BigEndian.PutUint64(key[9:17], sourceHash(host, category))
	binary.BigEndian.PutUint64(key[17:25], uint64(id))
	return key
}

// seekKey is the smallest key at or after ts
func seekKey(ts time.Time) []byte {
	key := make([]byte, 9)
	key[0] = recordPrefix
	if !ts.IsZero() {
		binary.BigEndian.PutUint64(key[1:9], keyNanos(ts))
	}
	return key
}

// keyNanos clamps ts into the range UnixNano can represent, so pre-epoch
// records sort first instead of wrapping past every current key.
func keyNanos(ts time.Time) uint64 {
	switch {
	case ts.Before(minKeyTime):
		return 0
	case ts.After(maxKeyTime):
		return math.MaxInt64
	}
	return uint64(ts.UnixNano())
}

// parseKey extracts timestamp, source hash and id from a record key
func parseKey(key []byte) (time.Time, uint64, int64) {
	if len(key) != keyLen || key[0] != recordPrefix {
		return time.Time{}, 0, 0
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(key[1:9]))).UTC()
	source := binary.BigEndian.Uint64(key[9:17])
	id := int64(binary.BigEndian.Uint64(key[17:25]))
	return ts, source, id
}

// sourceHash identifies a host/category pair
func sourceHash(host, category string) uint64 {
	var buf bytes.Buffer
	buf.Grow(len(host) + len(category) + 1)
	buf.WriteString(host)
	buf.WriteByte(0)
	buf.WriteString(category)
	return xxhash.Sum64(buf.Bytes())
}

// encode serializes an entry with msgpack and compresses it
func (s *Storage) encode(e record.Entry) ([]byte, error) {
	raw, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(raw, nil), nil
}

// decode reverses encode
func (s *Storage) decode(data []byte) (record.Entry, error) {
	var e record.Entry
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return e, fmt.Errorf("failed to decompress record: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("failed to decode record: %w", err)
	}
	return e, nil
}
