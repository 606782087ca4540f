// Package cli provides the command-line interface for vserve.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vserve/internal/app"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/config"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// offline marks commands that run without a document store connection.
const offline = "offline"

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	flagUser  string
	flagRole  string
	flagEmail string
	flagToken string

	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	backends *app.Backends
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vserve",
	Short: "Customer-support chat and ticket desk",
	Long: `vserve runs the support portal backend: per-user chat sessions with the
service assistant, and the ticket desk where admins approve, progress and
close service requests.

Commands act as the identity given by --user/--role or by a signed --token.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)

		if cmd.Annotations[offline] == "true" {
			return nil
		}

		return openBackends(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if backends != nil {
			if err := backends.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
			backends = nil
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "operator", "act as this user id")
	rootCmd.PersistentFlags().StringVar(&flagRole, "role", identity.RoleAdmin, "role of --user")
	rootCmd.PersistentFlags().StringVar(&flagEmail, "email", "", "email of --user")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "act as the holder of this signed token")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(ticketsCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(tokenCmd)
}

// signIn resolves the acting principal from the global flags.
func signIn() (*identity.Scope, error) {
	if flagToken != "" {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("VSERVE_JWT_SECRET is required to verify --token")
		}
		p, err := identity.NewTokens(cfg.JWTSecret, app.TokenIssuer).Verify(flagToken)
		if err != nil {
			return nil, err
		}
		return identity.ForPrincipal(p, logger), nil
	}
	if flagUser == "" {
		return nil, identity.ErrUnauthorized
	}
	return identity.ForPrincipal(identity.Principal{
		UserID: flagUser,
		Role:   flagRole,
		Email:  flagEmail,
	}, logger), nil
}

func openBackends(ctx context.Context) error {
	var err error
	backends, err = app.Open(ctx, cfg, logger)
	return err
}

func newChatStore() *chat.Store {
	return chat.New(backends.Docs, chat.WithLogger(logger))
}

func newTicketManager() (*tickets.Manager, error) {
	return app.NewTicketManager(cfg, backends, logger)
}
