package cli

import (
	"fmt"
	"time"

	accountguard "github.com/securyflex/accountguard"
	"github.com/spf13/cobra"
)

func newEventsCmd(st *state) *cobra.Command {
	var (
		kinds []string
		email string
		since time.Duration
		limit int
		stats bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the security event log, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), st.settings, st.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().UTC().Add(-since)
			}

			if stats {
				out, err := a.engine.SecurityStats(cmd.Context(), from)
				if err != nil {
					return fmt.Errorf("security stats: %w", err)
				}
				return st.printJSON(out)
			}

			filter := accountguard.EventFilter{Email: email, Since: from}
			for _, k := range kinds {
				filter.Kinds = append(filter.Kinds, accountguard.EventKind(k))
			}
			events, err := a.engine.SecurityEvents(cmd.Context(), filter, limit)
			if err != nil {
				return fmt.Errorf("security events: %w", err)
			}
			if events == nil {
				events = []accountguard.SecurityEvent{}
			}
			return st.printJSON(events)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&kinds, "kind", nil, "event kinds to include (repeatable)")
	f.StringVar(&email, "email", "", "only events for this email")
	f.DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	f.IntVar(&limit, "limit", accountguard.DefaultEventLimit, "maximum number of events")
	f.BoolVar(&stats, "stats", false, "print counts per kind instead of events")
	return cmd
}
