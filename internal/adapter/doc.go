// Package adapter executes lowered queries against a database view and
// returns each row's document column.
//
// SQLAdapter works for every target through database/sql; the driver for a
// target is registered by this package (pgx, go-sql-driver/mysql,
// mattn/go-sqlite3, go-mssqldb). Checkouts are bounded by a weighted
// semaphore so pool exhaustion surfaces as KindPoolExhausted after a
// timeout.
//
// Failure handling:
//   - KindPoolExhausted and KindTransient are retried with backoff
//   - KindQuery is returned immediately
//   - after retries run out the error still unwraps to *AdapterError, so
//     callers can tell "try again later" from "this query is invalid"
package adapter
