package zaxcli

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
)

func init() {
	rootCmd.AddCommand(recvFileCmd)
}

var recvFileCmd = &cobra.Command{
	Use:   "recv-file [upload-id] [dest-path]",
	Short: "Reassemble a file announced by a previously downloaded metadata message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		uploadID, dest := args[0], args[1]
		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		url := relayURL(cmd)
		meta, err := m.GetFileMetadata(cmdContext(), url, uploadID)
		if err != nil {
			fmt.Println("Error finding file metadata:", err)
			return
		}

		skeyRaw, err := base64.StdEncoding.DecodeString(meta.SKey)
		if err != nil || len(skeyRaw) != zaxcrypto.SecretboxKeyLen {
			fmt.Println("Corrupt file key in metadata")
			return
		}
		var skey [zaxcrypto.SecretboxKeyLen]byte
		copy(skey[:], skeyRaw)

		var out []byte
		for part := 0; int64(len(out)) < meta.OrigSize; part++ {
			chunk, err := m.DownloadFileChunk(cmdContext(), url, uploadID, part, skey)
			if err != nil {
				fmt.Println("Error downloading chunk:", err)
				return
			}
			out = append(out, chunk...)
		}

		if err := os.WriteFile(dest, out, 0600); err != nil {
			fmt.Println("Error writing file:", err)
			return
		}
		fmt.Printf("Received %q (%d bytes).\n", meta.Name, len(out))
	},
}
