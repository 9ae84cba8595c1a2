package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/spf13/cobra"
)

var importAskPassword bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an export into the vault",
	Long: `Merges an export into the vault. Passwords whose name and value already
exist are skipped. Use --decrypt-password when the export was made under a
different master password. file may be "-" for standard input. The file is
left in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read import: %w", err)
		}
		var pairs []engine.Pair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return engine.ErrDeserializeFailed
		}

		v, master, err := unlockVault("Enter master password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(master)

		var decrypt []byte
		if importAskPassword {
			decrypt, err = readSecret("Export password: ")
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(decrypt)
		}

		count, err := v.svc.ImportPasswords(string(master), string(decrypt), engine.ImportSource{Data: pairs})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d\n", count.Insert, count.Ignore)
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importAskPassword, "decrypt-password", false, "prompt for the password the export was made with")
	rootCmd.AddCommand(importCmd)
}
