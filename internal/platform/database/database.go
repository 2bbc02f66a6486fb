package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tollgate/internal/platform/config"
)

// DB wraps *sql.DB with the driver name so repositories can rebind
// placeholders for postgres without caring which store is underneath.
type DB struct {
	*sql.DB
	driver string
}

func New(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &DB{DB: db, driver: cfg.Driver}, nil
}

// Wrap adopts an already-open connection. Used by tests with in-memory
// sqlite and sqlmock.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{DB: db, driver: driver}
}

func (d *DB) DriverName() string {
	return d.driver
}

// Rebind converts ? placeholders to $N for postgres. Queries in this
// repository layer are written with ? and rebound at execution time.
func (d *DB) Rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
