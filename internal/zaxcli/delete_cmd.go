package zaxcli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
}

var deleteCmd = &cobra.Command{
	Use:   "delete [nonce...]",
	Short: "Delete messages by their relay-facing nonce identifiers",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		remaining, err := m.Delete(cmdContext(), relayURL(cmd), args)
		if err != nil {
			fmt.Println("Error deleting:", err)
			return
		}
		fmt.Printf("Deleted. %d message(s) remaining.\n", remaining)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [storage-token]",
	Short: "Report a message's relay-side status (-2 missing, -1 never-expires, or seconds remaining)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		status, err := m.MessageStatus(cmdContext(), relayURL(cmd), args[0])
		if err != nil {
			fmt.Println("Error checking status:", err)
			return
		}
		fmt.Println(status)
	},
}
