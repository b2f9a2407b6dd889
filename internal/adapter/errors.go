package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/roach88/viewql/internal/schema"
)

// ErrorKind categorizes adapter failures by how callers should react.
type ErrorKind string

const (
	// KindPoolExhausted means no connection was checked out within the
	// acquire timeout. Retryable after backoff.
	KindPoolExhausted ErrorKind = "POOL_EXHAUSTED"

	// KindTransient means the connection or network failed mid-call.
	// Retryable a bounded number of times.
	KindTransient ErrorKind = "TRANSIENT"

	// KindQuery means the database rejected the statement or returned data
	// that is not a document. Never retried.
	KindQuery ErrorKind = "QUERY"
)

// AdapterError wraps a driver error with its classification.
// Err holds the raw driver error for logs; Error() is safe to log but must
// not be shown to clients.
type AdapterError struct {
	Kind   ErrorKind
	Target schema.Target
	View   string
	Err    error
}

func (e *AdapterError) Error() string {
	if e.View != "" {
		return fmt.Sprintf("%s: %s: view %s: %v", e.Kind, e.Target, e.View, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Target, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the kind is worth another attempt.
func (e *AdapterError) Retryable() bool {
	return e.Kind == KindPoolExhausted || e.Kind == KindTransient
}

// IsPoolExhausted checks if an error is a pool exhaustion error.
func IsPoolExhausted(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == KindPoolExhausted
}

// IsTransient checks if an error is a transient connection error.
func IsTransient(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == KindTransient
}

// IsQueryError checks if an error is a query execution error.
func IsQueryError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == KindQuery
}

// IsRetryable reports whether err is an AdapterError of a retryable kind.
func IsRetryable(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Retryable()
}

// MySQL error numbers that indicate a retryable condition.
var mysqlTransient = map[uint16]bool{
	1040: true, // too many connections
	1205: true, // lock wait timeout
	1213: true, // deadlock
	2006: true, // server gone away
	2013: true, // lost connection during query
}

// SQL Server error numbers that indicate a retryable condition.
var mssqlTransient = map[int32]bool{
	1205:  true, // deadlock victim
	4060:  true, // database unavailable
	40197: true, // service error, retry
	40501: true, // service busy
	40613: true, // database not currently available
	49918: true, // not enough resources
}

// classify maps a driver error to an error kind. Context errors are
// reported as transient so callers holding a live context can retry.
func classify(err error) ErrorKind {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return KindTransient
		}
		return KindQuery
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if mysqlTransient[myErr.Number] {
			return KindTransient
		}
		return KindQuery
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			pgErr.Code == "40001", // serialization failure
			pgErr.Code == "40P01", // deadlock
			pgErr.Code == "53300", // too many connections
			pgErr.Code == "57P01": // admin shutdown
			return KindTransient
		}
		return KindQuery
	}
	if pgconn.SafeToRetry(err) {
		return KindTransient
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		if mssqlTransient[msErr.Number] {
			return KindTransient
		}
		return KindQuery
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindQuery
}
