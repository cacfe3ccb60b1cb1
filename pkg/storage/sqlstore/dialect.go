package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

// Statement is a rendered SQL command and its bind arguments.
type Statement struct {
	Query string
	Args  []any
}

// Dialect renders the statements the store executes. The store never builds
// SQL itself.
type Dialect interface {
	RenderInsert(e record.Entry) Statement
	RenderPurge(cutoff time.Time) Statement
}

// ReadDialect is a Dialect that can also render the read side. A store whose
// dialect implements it supports Query and Stats.
//
// RenderSelect must return the columns id, host, utc_timestamp, level,
// logger, message, exception in that order, oldest first. RenderCount returns
// one row: total records and distinct host/logger pairs. RenderEdge returns
// the utc_timestamp of the oldest (or newest) row.
type ReadDialect interface {
	Dialect
	RenderSelect(req storage.QueryRequest) Statement
	RenderCount() Statement
	RenderEdge(newest bool) Statement
}

// Placeholder styles for TableDialect.
type Placeholder int

const (
	// Question renders ?, ?, ? (MySQL, SQLite)
	Question Placeholder = iota
	// Dollar renders $1, $2, $3 (PostgreSQL)
	Dollar
	// AtP renders @p1, @p2, @p3 (SQL Server via go-mssqldb). Row limits use
	// OFFSET/FETCH instead of LIMIT.
	AtP
)

// Columns of the log table, in insert order.
var Columns = []string{"host", "utc_timestamp", "level", "logger", "message", "exception"}

// TableDialect writes to a single table with the standard log columns plus
// an auto-assigned id.
type TableDialect struct {
	Table       string
	Placeholder Placeholder
}

// RenderInsert renders a parameterised insert of one entry. An empty
// exception is stored as NULL.
func (d TableDialect) RenderInsert(e record.Entry) Statement {
	var exception any
	if e.Exception != "" {
		exception = e.Exception
	}

	return Statement{
		Query: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			d.Table, strings.Join(Columns, ", "), d.placeholders(1, len(Columns))),
		Args: []any{e.Host, e.Timestamp.UTC(), int(e.Level), e.Category, e.Message, exception},
	}
}

// RenderPurge deletes rows strictly older than the cutoff.
func (d TableDialect) RenderPurge(cutoff time.Time) Statement {
	return Statement{
		Query: fmt.Sprintf("DELETE FROM %s WHERE utc_timestamp < %s", d.Table, d.placeholders(1, 1)),
		Args:  []any{cutoff.UTC()},
	}
}

// RenderSelect renders a filtered, time-ordered read. Start and End are
// inclusive, matching storage.QueryRequest.
func (d TableDialect) RenderSelect(req storage.QueryRequest) Statement {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, d.placeholders(len(args), 1)))
	}

	add("utc_timestamp >= %s", req.Start.UTC())
	add("utc_timestamp <= %s", req.End.UTC())
	if req.MinLevel > record.LevelTrace {
		add("level >= %s", int(req.MinLevel))
	}
	if req.Category != "" {
		add("logger = %s", req.Category)
	}
	if req.Host != "" {
		add("host = %s", req.Host)
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s ORDER BY utc_timestamp, id",
		strings.Join(Columns, ", "), d.Table, strings.Join(where, " AND "))
	return Statement{Query: query + d.limit(req.Limit), Args: args}
}

// RenderCount counts rows and distinct host/logger sources.
func (d TableDialect) RenderCount() Statement {
	return Statement{Query: fmt.Sprintf(
		"SELECT COUNT(*), (SELECT COUNT(*) FROM (SELECT DISTINCT host, logger FROM %s) sources) FROM %s",
		d.Table, d.Table)}
}

// RenderEdge selects the oldest or newest timestamp.
func (d TableDialect) RenderEdge(newest bool) Statement {
	order := "ASC"
	if newest {
		order = "DESC"
	}
	return Statement{Query: fmt.Sprintf("SELECT utc_timestamp FROM %s ORDER BY utc_timestamp %s%s",
		d.Table, order, d.limit(1))}
}

func (d TableDialect) limit(n int) string {
	switch {
	case n <= 0:
		return ""
	case d.Placeholder == AtP:
		return fmt.Sprintf(" OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
	default:
		return fmt.Sprintf(" LIMIT %d", n)
	}
}

// placeholders renders n bind markers numbered from first.
func (d TableDialect) placeholders(first, n int) string {
	parts := make([]string, n)
	for i := range parts {
		switch d.Placeholder {
		case Dollar:
			parts[i] = fmt.Sprintf("$%d", first+i)
		case AtP:
			parts[i] = fmt.Sprintf("@p%d", first+i)
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
