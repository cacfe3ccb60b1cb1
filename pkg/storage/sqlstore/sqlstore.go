// Package sqlstore persists log records to a relational database through
// database/sql. Statements come from a Dialect; each Persist and Purge runs
// in its own transaction on a pooled connection that is returned afterwards.
//
// With a ReadDialect the store also serves Query and Stats and satisfies
// storage.Storage.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

var (
	// ErrNilDB is returned when no database handle is supplied
	ErrNilDB = errors.New("sqlstore: db is required")

	// ErrNilDialect is returned when no dialect is supplied
	ErrNilDialect = errors.New("sqlstore: dialect is required")

	// ErrReadUnsupported is returned by Query and Stats when the dialect
	// cannot render reads
	ErrReadUnsupported = errors.New("sqlstore: dialect does not support reads")
)

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// OwnDB makes Close close the database handle.
func OwnDB() Option {
	return func(s *Store) { s.ownDB = true }
}

// Store implements storage.Port on top of database/sql, and storage.Storage
// when its dialect is a ReadDialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
	ownDB   bool
}

// New creates a store. Unless OwnDB is given, the caller owns db and closes it.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if dialect == nil {
		return nil, ErrNilDialect
	}
	s := &Store{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Persist inserts one record. When the driver reports LastInsertId the value
// becomes the record identifier.
func (s *Store) Persist(ctx context.Context, rec *record.Record, iso sql.IsolationLevel) error {
	stmt := s.dialect.RenderInsert(rec.Entry())

	var id int64
	err := s.exec(ctx, iso, stmt, func(res sql.Result) {
		if v, err := res.LastInsertId(); err == nil {
			id = v
		}
	})
	if err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	if id > 0 {
		return rec.AssignID(id)
	}
	return nil
}

// Purge deletes records strictly older than the cutoff and returns the
// affected row count.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	stmt := s.dialect.RenderPurge(before)

	var removed int64
	err := s.exec(ctx, sql.LevelReadCommitted, stmt, func(res sql.Result) {
		if n, err := res.RowsAffected(); err == nil {
			removed = n
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	return removed, nil
}

// Query reads records matching req, oldest first. Reads run outside a
// transaction.
func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]*record.Record, error) {
	rd, ok := s.dialect.(ReadDialect)
	if !ok {
		return nil, ErrReadUnsupported
	}
	stmt := rd.RenderSelect(req)

	rows, err := s.db.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []*record.Record
	for rows.Next() {
		var (
			e         record.Entry
			level     int
			exception sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Host, &e.Timestamp, &level, &e.Category, &e.Message, &exception); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		e.Level = record.Level(level)
		e.Exception = exception.String
		results = append(results, record.FromEntry(e))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return results, nil
}

// Stats reports row and source counts and the stored time range. SizeBytes
// is left at zero; database/sql has no portable way to ask for it.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	rd, ok := s.dialect.(ReadDialect)
	if !ok {
		return nil, ErrReadUnsupported
	}

	stats := &storage.Stats{}
	count := rd.RenderCount()
	if err := s.db.QueryRowContext(ctx, count.Query, count.Args...).Scan(&stats.TotalRecords, &stats.TotalSources); err != nil {
		return nil, fmt.Errorf("stats failed: %w", err)
	}
	if stats.TotalRecords == 0 {
		return stats, nil
	}

	for _, edge := range []struct {
		newest bool
		dst    *time.Time
	}{{false, &stats.OldestRecord}, {true, &stats.NewestRecord}} {
		stmt := rd.RenderEdge(edge.newest)
		if err := s.db.QueryRowContext(ctx, stmt.Query, stmt.Args...).Scan(edge.dst); err != nil {
			return nil, fmt.Errorf("stats failed: %w", err)
		}
		*edge.dst = edge.dst.UTC()
	}
	return stats, nil
}

// Close closes the database handle when the store owns it.
func (s *Store) Close() error {
	if s.ownDB {
		return s.db.Close()
	}
	return nil
}

// exec runs stmt inside a transaction: begin, execute, commit, or roll back
// on any error including cancellation.
func (s *Store) exec(ctx context.Context, iso sql.IsolationLevel, stmt Statement, onResult func(sql.Result)) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: iso})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			// Rollback after a ctx cancel may already have happened inside database/sql.
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if onResult != nil {
		onResult(res)
	}
	return nil
}
