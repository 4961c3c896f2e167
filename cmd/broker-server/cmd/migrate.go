package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/coregx/broker"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "list migrations without applying them")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("--db-url required")
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if statusOnly, _ := cmd.Flags().GetBool("status"); !statusOnly {
		if err := broker.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	statuses, err := broker.Migrations(ctx, db)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tAPPLIED\tAPPLIED AT\tDURATION")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%t\t%s\t%dms\n", s.ID, s.Applied, s.AppliedAt, s.ExecutionMs)
	}
	return w.Flush()
}
