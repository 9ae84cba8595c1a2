package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/illarion/vaultshell/internal/transfer"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the vault",
	Long: `Writes the encrypted export of the vault to file, or to standard output
when file is "-". Without file the export is written to the current directory
under a timestamped name. Entries stay encrypted; the export is protected by
the current master password.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, master, err := unlockVault("Enter master password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(master)

		pairs, err := v.svc.ExportPasswords(string(master), "")
		if err != nil {
			return err
		}
		if pairs == nil {
			pairs = []engine.Pair{}
		}
		data, err := json.Marshal(pairs)
		if err != nil {
			return err
		}

		path := transfer.ExportFileName(cfg.Transfer.ExportLabel, time.Now())
		if len(args) == 1 {
			path = args[0]
		}
		if path == "-" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := renameio.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d passwords to %s\n", max(len(pairs)-1, 0), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
