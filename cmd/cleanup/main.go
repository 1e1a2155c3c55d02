// Operator utility that purges expired web sessions. The server runs the
// same purge on an hourly ticker; this exists for deployments that want
// it cron-driven or need a one-off sweep after an incident.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/veridian/veridian/internal/config"
	"github.com/veridian/veridian/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	purged, err := postgres.NewSessionRepository(db).DeleteExpired()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session cleanup failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Purged %d expired sessions.\n", purged)
}
