// Package cmd implements the vaultshell command line.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/illarion/vaultshell/internal/config"
	"github.com/illarion/vaultshell/internal/log"
	"github.com/spf13/cobra"
)

// annotationOwnInterrupt marks commands that handle SIGINT themselves.
const annotationOwnInterrupt = "own-interrupt"

var (
	cfg      config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vaultshell",
	Short: "Password vault with an embedded local engine",
	Long: `vaultshell keeps an encrypted password vault and serves it to a browser UI
through an embedded loopback engine.

Run 'vaultshell shell' to open the UI, or use the subcommands to manage the
vault from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		log.Configure(log.Config{Level: cfg.Log.Level})

		if _, ok := cmd.Annotations[annotationOwnInterrupt]; !ok {
			// Commands without their own handling are cancelled by Ctrl-C.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			cobra.OnFinalize(stop)
			cmd.SetContext(ctx)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// Execute runs the command line.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
