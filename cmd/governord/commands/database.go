package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/db"
	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/logger"
)

// loadConfig honors the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the database at the configured path.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = "governor.db"
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}

	return database, nil
}
