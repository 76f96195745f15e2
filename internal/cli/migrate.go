package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/securyflex/accountguard/store/pgstore"
	"github.com/spf13/cobra"
)

func newMigrateCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	run := func(fn func(m *pgstore.Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if st.settings.DatabaseURL == "" {
				return errors.New("migrate needs database_url")
			}
			store, err := pgstore.Open(cmd.Context(), st.settings.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := store.NewMigrator(st.logger)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(m *pgstore.Migrator, _ []string) error {
				return m.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: run(func(m *pgstore.Migrator, _ []string) error {
				return m.Down()
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: run(func(m *pgstore.Migrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				return st.printJSON(map[string]any{"version": v, "dirty": dirty})
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(m *pgstore.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("version must be a number: %w", err)
				}
				return m.Force(v)
			}),
		},
	)
	return cmd
}
