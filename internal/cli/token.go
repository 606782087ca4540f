package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vserve/internal/app"
	"github.com/raphaelgruber/vserve/internal/identity"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API access tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed access token for --user",
	Long: `Issue a signed access token for the API and for --token.

Examples:
  vserve token issue --user u1 --role user --email u1@example.com
  vserve token issue --user ops --ttl 1h`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{offline: "true"},
	RunE:        runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.AddCommand(tokenIssueCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("VSERVE_JWT_SECRET is required to sign tokens")
	}
	if flagUser == "" {
		return fmt.Errorf("--user is required")
	}
	token, err := identity.NewTokens(cfg.JWTSecret, app.TokenIssuer).Issue(identity.Principal{
		UserID: flagUser,
		Role:   flagRole,
		Email:  flagEmail,
	}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
