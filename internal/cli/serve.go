package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vserve/internal/app"
)

var serveWipe bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the portal HTTP API",
	Long: `Run the portal HTTP API with live ticket updates over websocket.

Examples:
  vserve serve
  VSERVE_STORE=redis vserve serve
  vserve serve --wipe   # testing only`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWipe, "wipe", false, "wipe all portal data on startup (testing only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWipe {
		if err := backends.WipeData(ctx); err != nil {
			return fmt.Errorf("wipe data: %w", err)
		}
		logger.Warn("portal data wiped")
	}
	return app.Serve(ctx, cfg, backends, logger)
}
