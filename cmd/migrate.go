package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pitchcoach/internal/config"
	"github.com/pitchcoach/internal/database"
	"github.com/pitchcoach/internal/jobqueue"
)

// MigrateCommand returns the CLI command for applying the database schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the conversation store schema and, when the queue is enabled, River's job schema",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.NewDB(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return err
			}

			if cfg.Queue.Enabled {
				dbURL, err := database.ResolveURL(cfg.Database.URL)
				if err != nil {
					return fmt.Errorf("failed to resolve database URL: %w", err)
				}
				if err := jobqueue.Migrate(c.Context, dbURL); err != nil {
					return err
				}
			}

			fmt.Println("Migrations applied")
			return nil
		},
	}
}
