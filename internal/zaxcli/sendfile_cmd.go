package zaxcli

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vault12/zaxmail/internal/mailbox"
)

func init() {
	rootCmd.AddCommand(sendFileCmd)
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file [guest] [path]",
	Short: "Chunk-upload a file to a guest, announced via an encrypted metadata message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		guest, path := args[0], args[1]
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Println("Error reading file:", err)
			return
		}

		m, err := openMailbox()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		sum := md5.Sum(content)
		meta := mailbox.FileUploadMetadata{
			Name:     filepath.Base(path),
			OrigSize: int64(len(content)),
			MD5:      hex.EncodeToString(sum[:]),
		}

		url := relayURL(cmd)
		result, err := m.StartFileUpload(cmdContext(), url, guest, meta, int64(len(content)))
		if err != nil {
			fmt.Println("Error starting upload:", err)
			return
		}

		chunkSize := result.MaxChunkSize
		if chunkSize <= 0 {
			chunkSize = 64 * 1024
		}
		total := (len(content) + chunkSize - 1) / chunkSize
		if total == 0 {
			total = 1
		}
		for i := 0; i < total; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(content) {
				end = len(content)
			}
			if err := m.UploadFileChunk(cmdContext(), url, result.UploadID, content[start:end], i, total, result.SKey); err != nil {
				fmt.Println("Error uploading chunk:", err)
				return
			}
		}

		fmt.Printf("File sent. Upload ID: %s\n", result.UploadID)
	},
}
