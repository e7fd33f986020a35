package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vidscope/am"
	"github.com/teranos/vidscope/db"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/logger"
)

// DbCmd groups database maintenance commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the vidscope metadata database",
	Long: `db: Manage the vidscope metadata database

Examples:
  vidscope db status    # List migrations and whether they are applied
  vidscope db migrate   # Apply pending migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		pterm.Success.Printf("Database %s is up to date\n", cfg.GetDatabasePath())
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	database, err := db.Open(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	migrations, err := db.Status(database)
	if err != nil {
		return errors.Wrap(err, "failed to read migration status")
	}

	data := pterm.TableData{{"Version", "File", "Applied"}}
	pending := 0
	for _, m := range migrations {
		applied := "yes"
		if !m.Applied {
			applied = "no"
			pending++
		}
		data = append(data, []string{m.Version, m.File, applied})
	}
	pterm.Info.Printf("Database: %s\n", cfg.GetDatabasePath())
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if pending > 0 {
		pterm.Warning.Printf("%d pending migration(s), run 'vidscope db migrate'\n", pending)
	}
	return nil
}
