package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/database"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts.Config())
			if err != nil {
				return err
			}
			utils.InfoLogger.Info("schema is up to date")
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return closeDB(db)
		},
	}
}

// openDB connects and migrates; every command that touches the database
// goes through it.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
