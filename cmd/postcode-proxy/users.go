package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webuildtrades/postcode-lookup/internal/account"
	"github.com/webuildtrades/postcode-lookup/internal/admin"
	"github.com/webuildtrades/postcode-lookup/internal/config"
	"github.com/webuildtrades/postcode-lookup/internal/obfuscate"
)

var (
	manageAPIBaseURL string
	managementToken  string
)

// readPassword is replaced in tests.
var readPassword = func() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	return string(b), err
}

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user profiles through the management API",
	}
	cmd.PersistentFlags().StringVar(&manageAPIBaseURL, "manage-api-base-url", config.EnvOrDefault("MANAGE_API_BASE_URL", "http://localhost:8080"), "Base URL of the management API")
	cmd.PersistentFlags().StringVar(&managementToken, "management-token", "", "Management token (default: MANAGEMENT_TOKEN, or prompt)")

	var email, fullName, id string
	var isAdmin bool
	register := &cobra.Command{
		Use:   "register",
		Short: "Create a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient()
			if err != nil {
				return err
			}
			p, err := c.RegisterUser(commandContext(cmd.Context()), account.Registration{ID: id, Email: email, FullName: fullName, IsAdmin: isAdmin})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", p.ID, p.Email)
			return nil
		},
	}
	register.Flags().StringVar(&email, "email", "", "Email address")
	register.Flags().StringVar(&fullName, "name", "", "Full name")
	register.Flags().StringVar(&id, "id", "", "Profile id (default: generated)")
	register.Flags().BoolVar(&isAdmin, "admin", false, "Grant the administrator role")
	_ = register.MarkFlagRequired("email")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List profiles",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newAdminClient()
				if err != nil {
					return err
				}
				users, err := c.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tEMAIL\tAPI KEY\tRATE LIMIT\tREQUESTS\tLAST REQUEST")
				for _, u := range users {
					last := "-"
					if u.LastRequestAt != nil {
						last = u.LastRequestAt.Format(time.RFC3339)
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", u.ID, u.Email, obfuscate.Key(u.APIKey), u.RateLimit, u.RequestCount, last)
				}
				return w.Flush()
			},
		},
		register,
		&cobra.Command{
			Use:   "set-rate-limit <id> <limit>",
			Short: "Change a profile's rate limit (0 = unlimited)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				limit, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid limit %q", args[1])
				}
				c, err := newAdminClient()
				if err != nil {
					return err
				}
				p, err := c.SetRateLimit(commandContext(cmd.Context()), args[0], limit)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rate limit for %s is now %d\n", p.ID, p.RateLimit)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a profile and its usage history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newAdminClient()
				if err != nil {
					return err
				}
				if err := c.DeleteUser(commandContext(cmd.Context()), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

// resolveManagementToken uses the flag, then MANAGEMENT_TOKEN, then prompts.
func resolveManagementToken() (string, error) {
	if managementToken != "" {
		return managementToken, nil
	}
	if t := os.Getenv("MANAGEMENT_TOKEN"); t != "" {
		return t, nil
	}
	fmt.Fprint(os.Stderr, "Management token: ")
	t, err := readPassword()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read management token: %w", err)
	}
	t = strings.TrimSpace(t)
	if t == "" {
		return "", fmt.Errorf("management token is required")
	}
	return t, nil
}

func newAdminClient() (*admin.APIClient, error) {
	token, err := resolveManagementToken()
	if err != nil {
		return nil, err
	}
	return admin.NewAPIClient(manageAPIBaseURL, token), nil
}

// commandContext returns ctx, or a background context for commands run
// without one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
