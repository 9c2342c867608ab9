package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"snowpulse/internal/schema"
	"snowpulse/pkg/errors"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the snowpulse warehouse schema",
	Long: `Apply or roll back the embedded migrations that create the COMMON audit
tables (quality log, alert log, watermarks) and the RAW landing tables.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *schema.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations, all of them when steps is omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return errors.ValidationError("steps", args[0], "must be a positive integer")
			}
			steps = n
		}
		return withMigrator(cmd, func(m *schema.Migrator) error {
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, m)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *schema.Migrator) error {
			return printVersion(cmd, m)
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Set the schema version without running migrations and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil || version < -1 {
			return errors.ValidationError("version", args[0], "must be an integer >= -1")
		}
		return withMigrator(cmd, func(m *schema.Migrator) error {
			if err := m.Force(version); err != nil {
				return err
			}
			return printVersion(cmd, m)
		})
	},
}

func withMigrator(cmd *cobra.Command, fn func(m *schema.Migrator) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	db, err := a.db(cmd.Context())
	if err != nil {
		return err
	}
	m, err := schema.NewMigrator(db, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			a.logger.WithError(err).Debug("Failed to close migrator")
		}
	}()
	return fn(m)
}

func printVersion(cmd *cobra.Command, m *schema.Migrator) error {
	version, err := m.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}
