package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/keyring"
	"github.com/illarion/vaultshell/internal/terminal"
	"github.com/spf13/cobra"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password",
	Long: `Changes the master password. Stored passwords stay encrypted under the
same data key; only the wrapped key is rewritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, currentPassword, err := unlockVault("Enter current password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(currentPassword)

		newPassword, err := terminal.ReadPasswordConfirm("Enter new password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(newPassword)

		if err := v.svc.ChangePassword(string(currentPassword), string(newPassword)); err != nil {
			return err
		}

		// Refresh the keyring entry if one exists so it does not go stale.
		if vaultID, err := v.svc.VaultID(); err == nil && keyring.HasPassword(vaultID) {
			if err := keyring.SavePassword(vaultID, string(newPassword)); err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Keyring updated with new password")
			}
		}

		if err := v.svc.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "password changed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}
