package cmd

import (
	"fmt"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/illarion/vaultshell/internal/keyring"
	"github.com/illarion/vaultshell/internal/terminal"
	"github.com/spf13/cobra"
)

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the master password stored in the OS keyring",
}

var keyringSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the master password to the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()
		if err := v.requireInitialized(); err != nil {
			return err
		}

		password, err := terminal.ReadPassword("Enter master password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(password)

		ok, err := v.svc.VerifyMasterPassword(string(password))
		if err != nil {
			return err
		}
		if !ok {
			return engine.ErrWrongPassword
		}

		vaultID, err := v.svc.VaultID()
		if err != nil {
			return err
		}
		if err := keyring.SavePassword(vaultID, string(password)); err != nil {
			return fmt.Errorf("failed to save to keyring: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password saved to keyring")
		return nil
	},
}

var keyringDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the master password from the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		vaultID, err := currentVaultID()
		if err != nil {
			return err
		}
		if err := keyring.DeletePassword(vaultID); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No password stored in keyring")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Password removed from keyring")
		return nil
	},
}

var keyringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the master password is stored in the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		vaultID, err := currentVaultID()
		if err != nil {
			return err
		}
		if keyring.HasPassword(vaultID) {
			fmt.Fprintln(cmd.OutOrStdout(), "Password: stored in keyring")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Password: not stored")
		}
		return nil
	},
}

func currentVaultID() (string, error) {
	v, err := openVault()
	if err != nil {
		return "", err
	}
	defer v.Close()
	return v.svc.VaultID()
}

func init() {
	keyringCmd.AddCommand(keyringSaveCmd, keyringDeleteCmd, keyringStatusCmd)
	rootCmd.AddCommand(keyringCmd)
}
