package zaxcli

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("storage-root", "", "bbolt storage file path (default under the config directory)")
}

var registerCmd = &cobra.Command{
	Use:   "register [identity]",
	Short: "Create (or reopen) a local identity and print its public key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg.CurrentIdentity = args[0]
		if root, _ := cmd.Flags().GetString("storage-root"); root != "" {
			cfg.StorageRoot = root
		}
		driver, err := storageDriver()
		if err != nil {
			fmt.Println("Error opening local storage:", err)
			return
		}

		m, err := openMailboxFor(args[0], driver)
		if err != nil {
			fmt.Println("Error creating identity:", err)
			return
		}

		if err := saveConfigGlobal(); err != nil {
			fmt.Println("Warning: failed to save config:", err)
		}

		pub := m.GetPubCommKey()
		fmt.Printf("Identity %q ready.\n", args[0])
		fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(pub[:]))
		fmt.Printf("Relay address (hpk): %s\n", m.GetHpk())
	},
}
