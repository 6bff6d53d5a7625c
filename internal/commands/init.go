// Package commands defines the murmur CLI commands
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/database"
	"github.com/tildaslashalef/murmur/internal/utils"
)

// InitCommand returns the CLI command for initializing Murmur
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the Murmur environment",
		Description: "Sets up the Murmur environment including the configuration directory " +
			"and database with necessary tables. Use this command for first-time setup " +
			"or to update your database schema after upgrading Murmur to a new version.",
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing Murmur")

			homeDir, err := os.UserHomeDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to get user home directory: %s", err))
				return fmt.Errorf("failed to get user home directory: %w", err)
			}

			configDir := filepath.Join(homeDir, ".murmur")
			utils.PrintInfo("Configuration directory: " + configDir)

			if err := os.MkdirAll(configDir, 0755); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to create config directory: %s", err))
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			cfg, err := config.LoadFromEnv(configDir, "")
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			migrationsApplied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("Murmur initialized successfully!")

			if migrationsApplied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", migrationsApplied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintKeyValue("Database location", cfg.Database.Path)
			utils.PrintKeyValue("Log file location", cfg.Logging.Output)
			fmt.Println("")
			utils.PrintInfo("You can now start a conversation with 'murmur chat new'.")

			return nil
		},
	}
}
