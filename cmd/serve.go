package cmd

import (
	"fmt"
	"net"

	"github.com/illarion/vaultshell/internal/engine"
	"github.com/illarion/vaultshell/internal/log"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault engine without the shell",
	Long: `Runs the engine in the foreground. The UI is reachable in any browser at
the printed address; shell-only features such as import fall back or are
unavailable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := cfg.Engine.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		return engine.Run(cmd.Context(), addr, cfg.DataDir(), func(a net.Addr) {
			fmt.Fprintf(cmd.OutOrStdout(), "Engine listening on http://%s\n", a)
		}, engine.WithServiceOptions(engine.WithLogger(log.WithComponent("service"))))
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from engine.addr)")
	rootCmd.AddCommand(serveCmd)
}
