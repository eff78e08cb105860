package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/ratelimit"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database operations",
	Long: `Database operations.

Examples:
  governord db migrate   # Apply pending schema migrations
  governord db sweep     # Delete expired rate limit counters`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete rate limit counters older than one day",
	RunE:  runDbSweep,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbSweepCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// openDatabase migrates as a side effect of opening
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Migrations applied")
	return nil
}

func runDbSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	cutoff := time.Now().Add(-24 * time.Hour).UnixMilli()
	deleted, err := ratelimit.NewSQLStore(database).Sweep(cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d expired counter window(s)\n", deleted)
	return nil
}
