package zaxcli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vault12/zaxmail/internal/mailbox"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and print every waiting message",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		msgs, err := m.Download(cmdContext(), relayURL(cmd))
		if err != nil {
			fmt.Println("Error downloading:", err)
			return
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, msg := range msgs {
			printMessage(msg)
		}
	},
}

func printMessage(msg mailbox.Message) {
	switch msg.Kind {
	case mailbox.KindText:
		fmt.Printf("[%s] from %s: %s\n", msg.Kind, msg.SenderTag, msg.Data)
	case mailbox.KindFileMetadata:
		fmt.Printf("[%s] from %s: file %q (%d bytes), upload %s\n",
			msg.Kind, msg.SenderTag, msg.File.Name, msg.File.OrigSize, msg.UploadID)
	case mailbox.KindPlain:
		fmt.Printf("[%s] from unknown hpk %s: %s\n", msg.Kind, msg.From, msg.Data)
	}
}
