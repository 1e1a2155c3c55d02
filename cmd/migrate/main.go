// Standalone migration runner for deployments where the server binary
// cannot reach the database with DDL rights. Takes the DSN from
// DATABASE_URL or the first argument; the schema itself ships embedded
// in the binary.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/veridian/veridian/internal/store/postgres"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	dsn := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		dsn = os.Args[1]
	}
	if dsn == "" {
		return errors.New("usage: migrate <dsn> (or set DATABASE_URL)")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	fmt.Println("Applying initial schema...")
	if _, err := db.ExecContext(ctx, postgres.InitialSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	fmt.Println("Migration complete.")
	return nil
}
