package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tollgate/internal/platform/config"
)

func main() {
	var (
		command    = flag.String("command", "up", "Migration command: up, down, version")
		steps      = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		dir        = flag.String("dir", "migrations", "Migrations directory")
		configPath = flag.String("config", "configs/config.yaml", "Path to config file")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	m, cleanup, err := newMigrator(cfg.Database, *dir)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	defer cleanup()

	switch *command {
	case "up":
		err = run(m, true, *steps)
	case "down":
		err = run(m, false, *steps)
	case "version":
		var v uint
		var dirty bool
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("Current migration version: %d (dirty=%v)\n", v, dirty)
			return
		}
	default:
		log.Fatalf("Unknown command: %s (supported: up, down, version)", *command)
	}

	if err != nil {
		log.Fatalf("Migration %s failed: %v", *command, err)
	}
	fmt.Println("Migration completed successfully")
}

func newMigrator(cfg config.DatabaseConfig, dir string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	var driver database.Driver
	switch cfg.Driver {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite3":
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		db.Close()
		return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, cfg.Driver, driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, func() { db.Close() }, nil
}

func run(m *migrate.Migrate, up bool, steps int) error {
	if steps > 0 {
		if !up {
			steps = -steps
		}
		if err := m.Steps(steps); err != nil && err != migrate.ErrNoChange {
			return err
		}
		return nil
	}
	if up {
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return err
		}
		return nil
	}
	return m.Down()
}
