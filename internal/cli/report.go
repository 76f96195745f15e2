package cli

import (
	accountguard "github.com/securyflex/accountguard"
	"github.com/spf13/cobra"
)

type reportOutput struct {
	Report accountguard.SecurityReport `json:"report"`
	Health accountguard.HealthStatus   `json:"health"`
}

func newReportCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the effective security configuration and backend health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), st.settings, st.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return st.printJSON(reportOutput{
				Report: a.engine.SecurityReport(),
				Health: a.engine.Health(cmd.Context()),
			})
		},
	}
}
