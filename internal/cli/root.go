// Package cli implements the securyflexctl command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type state struct {
	configPath string
	viper      *viper.Viper
	settings   Settings
	logger     *zap.Logger
	closeLog   func()
	stdout     io.Writer
	stderr     io.Writer
}

// NewRootCommand returns the securyflexctl root command wired to the
// process stdio.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the root command writing to out and errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	st := &state{viper: viper.New(), stdout: out, stderr: errOut, closeLog: func() {}}

	cmd := &cobra.Command{
		Use:           "securyflexctl",
		Short:         "Operate the SecuryFlex account security service",
		Long:          "securyflexctl runs the account security HTTP API, applies database migrations and gives operators access to lockouts and the security event log.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(st.viper, st.configPath)
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(s.Log, st.stderr)
			if err != nil {
				return err
			}
			st.settings = s
			st.logger = logger
			st.closeLog = closeLog
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			st.closeLog()
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&st.configPath, "config", "c", "", "config file (default: securyflex.yaml in /etc/securyflex, ~/.securyflex or .)")
	flags.String("backend", "", "storage backend: memory, redis or postgres")
	flags.String("database-url", "", "postgres connection string")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	_ = st.viper.BindPFlag("backend", flags.Lookup("backend"))
	_ = st.viper.BindPFlag("database_url", flags.Lookup("database-url"))
	_ = st.viper.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(
		newServeCmd(st),
		newMigrateCmd(st),
		newAccountsCmd(st),
		newEventsCmd(st),
		newReportCmd(st),
	)
	return cmd
}

func (st *state) printJSON(v any) error {
	enc := json.NewEncoder(st.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
