package cmd

import (
	"fmt"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the master password of a new vault",
	Long: `Creates the vault in the data directory and sets its master password.
The password is not stored anywhere unless you run 'vaultshell keyring save'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		set, err := v.svc.IsMasterPasswordSet()
		if err != nil {
			return err
		}
		if set {
			return fmt.Errorf("vault in %s: %w", cfg.DataDir(), engine.ErrAlreadyInitialized)
		}

		password, err := GetPasswordForInit()
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(password)

		if err := v.svc.SetMasterPassword(string(password)); err != nil {
			return err
		}
		if _, err := v.svc.VaultID(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vault initialized in %s\n", cfg.DataDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
