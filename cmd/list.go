package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/spf13/cobra"
)

var listShow bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored passwords",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, password, err := unlockVault("Enter master password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(password)

		items, err := v.svc.ListPasswords(string(password))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No passwords in the vault")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, item := range items {
			if !listShow {
				fmt.Fprintf(w, "%d\t%s\n", item.ID, item.Name)
				continue
			}
			p, err := v.svc.GetPassword(string(password), item.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", item.ID, p.Name, p.Password)
		}
		return w.Flush()
	},
}

var (
	addGenerate bool
	addLength   int
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Store a password",
	Long: `Stores a password under name. The password is read from a prompt, or
generated with --generate using upper and lower case letters, digits and
symbols.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, master, err := unlockVault("Enter master password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(master)

		var secret string
		if addGenerate {
			secret, err = v.svc.MakePassword(crypto.PasswordOptions{
				Length: addLength, Uppercase: true, Lowercase: true, Digit: true, Special: true,
			})
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("invalid length %d", addLength)
			}
		} else {
			raw, err := readSecret("Password for " + args[0] + ": ")
			if err != nil {
				return err
			}
			secret = string(raw)
			crypto.ClearBytes(raw)
		}

		id, err := v.svc.AddPassword(string(master), args[0], secret)
		if err != nil {
			return err
		}
		if addGenerate {
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q as %d: %s\n", args[0], id, secret)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %q as %d\n", args[0], id)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		v, master, err := unlockVault("Enter master password: ")
		if err != nil {
			return err
		}
		defer v.Close()
		defer crypto.ClearBytes(master)

		if err := v.svc.DeletePassword(string(master), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", id)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listShow, "show", false, "print the passwords as well")
	addCmd.Flags().BoolVarP(&addGenerate, "generate", "g", false, "generate the password")
	addCmd.Flags().IntVar(&addLength, "length", 20, "length of a generated password")
	rootCmd.AddCommand(listCmd, addCmd, rmCmd)
}

// formatSize formats a file size in human-readable form
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
