package mailbox

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileTransferEndToEnd(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)
	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))
	require.NoError(t, bob.AddGuest(ctx, "alice", alice.GetPubCommKey()))

	meta := FileUploadMetadata{Name: "report.pdf", OrigSize: 9}
	result, err := alice.StartFileUpload(ctx, url, "bob", meta, 9)
	require.NoError(t, err)
	require.NotEmpty(t, result.UploadID)

	chunks := [][]byte{[]byte("abc"), []byte("def"), []byte("ghi")}
	for i, c := range chunks {
		require.NoError(t, alice.UploadFileChunk(ctx, url, result.UploadID, c, i, len(chunks), result.SKey))
	}

	status, err := bob.FileStatus(ctx, url, result.UploadID)
	require.NoError(t, err)
	require.Equal(t, "COMPLETE", status)

	msgs, err := bob.Download(ctx, url)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, KindFileMetadata, msgs[0].Kind)
	require.Equal(t, "report.pdf", msgs[0].File.Name)
	require.Equal(t, result.UploadID, msgs[0].UploadID)

	gotMeta, err := bob.GetFileMetadata(ctx, url, result.UploadID)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", gotMeta.Name)

	var assembled bytes.Buffer
	for i := range chunks {
		chunk, err := bob.DownloadFileChunk(ctx, url, result.UploadID, i, result.SKey)
		require.NoError(t, err)
		assembled.Write(chunk)
	}
	require.Equal(t, "abcdefghi", assembled.String())

	status, err = alice.DeleteFile(ctx, url, result.UploadID)
	require.NoError(t, err)
	require.Equal(t, "OK", status)

	status2, err := bob.FileStatus(ctx, url, result.UploadID)
	require.NoError(t, err)
	require.Equal(t, "NOT_FOUND", status2)
}

func TestUploadFileChunkRejectsOutOfRangePart(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)
	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))

	result, err := alice.StartFileUpload(ctx, url, "bob", FileUploadMetadata{Name: "x"}, 1)
	require.NoError(t, err)

	err = alice.UploadFileChunk(ctx, url, result.UploadID, []byte("x"), 5, 2, result.SKey)
	require.Error(t, err)
}
