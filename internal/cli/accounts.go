package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	accountguard "github.com/securyflex/accountguard"
	"github.com/spf13/cobra"
)

// operatorContext acts as the admin named by --as, or the first allow-listed
// admin. The engine resolves the account behind the email and still runs the
// full admin gate, so an unknown or unverified operator is refused and
// recorded like any other.
func operatorContext(ctx context.Context, st *state, as, command string) (context.Context, error) {
	if as == "" {
		if len(st.settings.Admin.Emails) == 0 {
			return nil, errors.New("no admin emails configured; pass --as")
		}
		as = st.settings.Admin.Emails[0]
	}
	ctx = accountguard.WithPrincipal(ctx, accountguard.Principal{
		Email: as,
		Role:  accountguard.RoleAdmin,
	})
	ctx = accountguard.WithRequestPath(ctx, "securyflexctl "+command)
	return accountguard.WithUserAgent(ctx, "securyflexctl"), nil
}

func newAccountsCmd(st *state) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage account security state",
	}
	cmd.PersistentFlags().StringVar(&as, "as", "", "admin email to act as (default: first admin.emails entry)")

	action := func(use, short string, fn func(*accountguard.Engine, context.Context, string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " EMAIL",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context(), st.settings, st.logger)
				if err != nil {
					return err
				}
				defer a.Close()

				ctx, err := operatorContext(cmd.Context(), st, as, "accounts "+use)
				if err != nil {
					return err
				}
				out, err := fn(a.engine, ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s %s: %w", use, args[0], err)
				}
				return st.printJSON(out)
			},
		}
	}

	cmd.AddCommand(
		newProvisionAdminCmd(st),
		action("show", "Show lockout state of an account", func(e *accountguard.Engine, ctx context.Context, email string) (any, error) {
			return e.AccountSecurity(ctx, email)
		}),
		action("unlock", "Clear the lockout of an account", func(e *accountguard.Engine, ctx context.Context, email string) (any, error) {
			acct, err := e.AdminUnlockAccount(ctx, email)
			if err != nil {
				return nil, err
			}
			return e.AccountSecurity(ctx, acct.Email)
		}),
		action("suspend", "Suspend an account", func(e *accountguard.Engine, ctx context.Context, email string) (any, error) {
			acct, err := e.SuspendAccount(ctx, email)
			if err != nil {
				return nil, err
			}
			return e.AccountSecurity(ctx, acct.Email)
		}),
		action("reactivate", "Reactivate a suspended account", func(e *accountguard.Engine, ctx context.Context, email string) (any, error) {
			acct, err := e.ReactivateAccount(ctx, email)
			if err != nil {
				return nil, err
			}
			return e.AccountSecurity(ctx, acct.Email)
		}),
	)
	return cmd
}

type provisionedAdmin struct {
	AccountID string                     `json:"account_id"`
	Email     string                     `json:"email"`
	Role      accountguard.Role          `json:"role"`
	Status    accountguard.AccountStatus `json:"status"`
}

func newProvisionAdminCmd(st *state) *cobra.Command {
	var password, name string
	cmd := &cobra.Command{
		Use:   "provision-admin EMAIL",
		Short: "Create a verified admin account for an allow-listed email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SECURYFLEX_ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("pass --password or set SECURYFLEX_ADMIN_PASSWORD")
			}

			a, err := openApp(cmd.Context(), st.settings, st.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.engine.ProvisionAdmin(cmd.Context(), accountguard.CreateAccountInput{
				Email:       args[0],
				DisplayName: name,
				Password:    password,
			})
			if err != nil {
				return fmt.Errorf("provision-admin %s: %w", args[0], err)
			}
			return st.printJSON(provisionedAdmin{
				AccountID: acct.ID,
				Email:     acct.Email,
				Role:      acct.Role,
				Status:    acct.Status,
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "initial password (default: $SECURYFLEX_ADMIN_PASSWORD)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}
