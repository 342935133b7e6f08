package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	_ "github.com/golang-migrate/migrate/v4/source/file"     // file:// migrations loader
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		dsn = flag.String("database", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN")
		dir = flag.String("path", "db/migrations", "directory containing SQL migrations")
	)
	flag.Parse()

	if *dsn == "" {
		return errors.New("-database flag or POSTGRES_DSN required")
	}
	args := flag.Args()
	if len(args) == 0 {
		return errors.New("command required (up|down)")
	}

	m, err := migrate.New("file://"+*dir, "pgx5://"+trimScheme(*dsn))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// trimScheme lets the same POSTGRES_DSN env serve both pgxpool and migrate.
func trimScheme(dsn string) string {
	for _, p := range []string{"postgres://", "postgresql://"} {
		if len(dsn) > len(p) && dsn[:len(p)] == p {
			return dsn[len(p):]
		}
	}
	return dsn
}
