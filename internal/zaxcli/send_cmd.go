package zaxcli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Bool("plain", false, "deposit the message unencrypted")
}

var sendCmd = &cobra.Command{
	Use:   "send [guest] [message]",
	Short: "Upload a message to a guest's mailbox",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		plain, _ := cmd.Flags().GetBool("plain")
		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		token, err := m.Upload(cmdContext(), relayURL(cmd), args[0], args[1], !plain)
		if err != nil {
			fmt.Println("Error sending message:", err)
			return
		}
		fmt.Printf("Sent. Storage token: %s\n", token)
	},
}
