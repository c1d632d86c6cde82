// Command devtoken mints bearer tokens for local development against tool-gateway.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/upb/tool-governance/auth"
)

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		tenant  string
		subject string
		role    string
		email   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Issue a signed bearer token for a tenant",
		Long: `Issue an HS256 token accepted by tool-gateway.

Examples:
  devtoken --tenant 6f1c...                 # member token valid for one hour
  devtoken --tenant 6f1c... --role admin    # admin token for quota and config routes
  devtoken --tenant 6f1c... --ttl 10m       # short-lived token`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("signing secret required: set JWT_SECRET or pass --secret")
			}
			tenantID, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			if !auth.ValidRole(role) {
				return fmt.Errorf("invalid --role %q: want admin, member or viewer", role)
			}
			if subject == "" {
				subject = uuid.NewString()
			}

			token, err := auth.NewSigner(auth.Config{Secret: secret, Issuer: issuer}).
				Issue(subject, tenantID, role, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	flags.StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "tool-gateway"), "token issuer")
	flags.StringVarP(&tenant, "tenant", "t", "", "tenant UUID")
	flags.StringVarP(&subject, "subject", "s", "", "user UUID (random when empty)")
	flags.StringVarP(&role, "role", "r", auth.RoleMember, "admin, member or viewer")
	flags.StringVar(&email, "email", "", "email claim")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
