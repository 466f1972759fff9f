package zaxcli

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
)

func init() {
	rootCmd.AddCommand(addGuestCmd)
}

var addGuestCmd = &cobra.Command{
	Use:   "add-guest [tag] [base64-public-key]",
	Short: "Register a guest's public key under a local tag",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		tag, pkB64 := args[0], args[1]
		raw, err := base64.StdEncoding.DecodeString(pkB64)
		if err != nil || len(raw) != zaxcrypto.KeyLen {
			fmt.Println("Invalid public key")
			return
		}
		var pub [zaxcrypto.KeyLen]byte
		copy(pub[:], raw)

		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if err := m.AddGuest(cmdContext(), tag, pub); err != nil {
			fmt.Println("Error adding guest:", err)
			return
		}
		cfg.Guests[tag] = pkB64
		if err := saveConfigGlobal(); err != nil {
			fmt.Println("Warning: failed to save config:", err)
		}
		fmt.Printf("Guest %q added.\n", tag)
	},
}
