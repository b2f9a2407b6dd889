package adapter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/roach88/viewql/internal/schema"
)

// DriverName returns the database/sql driver registered for a target.
func DriverName(target schema.Target) (string, error) {
	switch target {
	case schema.TargetPostgres:
		return "pgx", nil
	case schema.TargetMySQL:
		return "mysql", nil
	case schema.TargetSQLite:
		return "sqlite3", nil
	case schema.TargetSQLServer:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("no driver for target %q", target)
	}
}

// Open connects to a database and verifies the connection.
// SQLite targets get the same pragmas as OpenSQLite.
func Open(ctx context.Context, target schema.Target, dsn string, opts ...Option) (*SQLAdapter, error) {
	if target == schema.TargetSQLite {
		return OpenSQLite(dsn, opts...)
	}
	if target == schema.TargetMySQL {
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	driverName, err := DriverName(target)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a, err := New(db, target, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// mysqlDSN forces utf8mb4 so JSON text round-trips.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["charset"] = "utf8mb4"
	return cfg.FormatDSN(), nil
}

// OpenSQLite opens a SQLite database file (or ":memory:").
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, so ":memory:" databases are shared by all queries
func OpenSQLite(path string, opts ...Option) (*SQLAdapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	a, err := New(db, schema.TargetSQLite, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
