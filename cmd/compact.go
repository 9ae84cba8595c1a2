package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/illarion/vaultshell/internal/engine"
	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the vault database to reclaim disk space",
	Long: `Compacts the vault database. This runs automatically after 'passwd' but
can be run manually after deleting many passwords. Does not require a password.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		path := filepath.Join(cfg.DataDir(), engine.DatabaseFile)
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		sizeBefore := info.Size()

		if err := v.svc.Compact(); err != nil {
			return err
		}

		info, err = os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
