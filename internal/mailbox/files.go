package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
)

// StartFileUploadResult is what StartFileUpload hands back to the
// caller to drive the rest of the chunked transfer, per spec §4.5.5.
type StartFileUploadResult struct {
	UploadID     string
	MaxChunkSize int
	StorageToken string
	SKey         [zaxcrypto.SecretboxKeyLen]byte
}

// StartFileUpload generates a fresh per-file symmetric key, embeds it
// in metadata, encrypts the whole metadata object toward guestTag, and
// announces the upload to the relay.
func (m *Mailbox) StartFileUpload(ctx context.Context, url, guestTag string, metadata FileUploadMetadata, fileSize int64) (*StartFileUploadResult, error) {
	guestPub, err := m.guestKey(guestTag)
	if err != nil {
		return nil, err
	}

	skeyRaw, err := zaxcrypto.RandomBytes(zaxcrypto.SecretboxKeyLen)
	if err != nil {
		return nil, err
	}
	var skey [zaxcrypto.SecretboxKeyLen]byte
	copy(skey[:], skeyRaw)
	metadata.SKey = base64.StdEncoding.EncodeToString(skeyRaw)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return nil, err
	}
	ct := zaxcrypto.Box(metaJSON, nonce, guestPub, m.GetPrivateCommKey())

	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return nil, err
	}

	lines, err := session.Command(ctx, m.GetHpk(), "startFileUpload", map[string]any{
		"to":        hpkOf(guestPub),
		"file_size": fileSize,
		"metadata": map[string]any{
			"nonce": base64.StdEncoding.EncodeToString(nonce[:]),
			"ctext": base64.StdEncoding.EncodeToString(ct),
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return nil, zaxerr.Crypto("mailbox.StartFileUpload", err)
	}

	var resp struct {
		UploadID     string `json:"upload_id"`
		MaxChunkSize int    `json:"max_chunk_size"`
		StorageToken string `json:"storage_token"`
	}
	if err := json.Unmarshal(plain, &resp); err != nil {
		return nil, zaxerr.Protocol("mailbox.StartFileUpload", url, "startFileUpload", err)
	}

	return &StartFileUploadResult{
		UploadID:     resp.UploadID,
		MaxChunkSize: resp.MaxChunkSize,
		StorageToken: resp.StorageToken,
		SKey:         skey,
	}, nil
}

// UploadFileChunk symmetric-encrypts chunk under skey with a fresh
// timestamped nonce and uploads it as part part of totalParts.
func (m *Mailbox) UploadFileChunk(ctx context.Context, url, uploadID string, chunk []byte, part, totalParts int, skey [zaxcrypto.SecretboxKeyLen]byte) error {
	if part < 0 || part >= totalParts {
		return zaxerr.Protocol("mailbox.UploadFileChunk", url, "uploadFileChunk", fmt.Errorf("part %d out of range [0,%d)", part, totalParts))
	}

	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return err
	}
	ct := zaxcrypto.Secretbox(chunk, nonce, skey)

	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return err
	}

	_, err = session.Command(ctx, m.GetHpk(), "uploadFileChunk", map[string]any{
		"upload_id":  uploadID,
		"part":       part,
		"last_chunk": part == totalParts-1,
		"nonce":      base64.StdEncoding.EncodeToString(nonce[:]),
	}, ct)
	return err
}

// DownloadFileChunk fetches chunk part of uploadID and decrypts it
// with skey, per spec §4.4.4's three-line downloadFileChunk response.
func (m *Mailbox) DownloadFileChunk(ctx context.Context, url, uploadID string, part int, skey [zaxcrypto.SecretboxKeyLen]byte) ([]byte, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return nil, err
	}

	lines, err := session.Command(ctx, m.GetHpk(), "downloadFileChunk", map[string]any{
		"upload_id": uploadID,
		"part":      part,
	}, nil)
	if err != nil {
		return nil, err
	}

	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return nil, zaxerr.Crypto("mailbox.DownloadFileChunk", err)
	}

	var env struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, zaxerr.Protocol("mailbox.DownloadFileChunk", url, "downloadFileChunk", err)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return nil, zaxerr.Protocol("mailbox.DownloadFileChunk", url, "downloadFileChunk", fmt.Errorf("bad chunk nonce"))
	}
	var nonce [zaxcrypto.NonceLen]byte
	copy(nonce[:], nonceRaw)

	rawChunk, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return nil, zaxerr.Protocol("mailbox.DownloadFileChunk", url, "downloadFileChunk", fmt.Errorf("bad chunk ciphertext"))
	}

	plainChunk, err := zaxcrypto.SecretboxOpen(rawChunk, nonce, skey)
	if err != nil {
		return nil, zaxerr.Crypto("mailbox.DownloadFileChunk", err)
	}
	return plainChunk, nil
}

// FileStatus returns the relay's status string for uploadID (e.g.
// "PENDING", "COMPLETE").
func (m *Mailbox) FileStatus(ctx context.Context, url, uploadID string) (string, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return "", err
	}
	lines, err := session.Command(ctx, m.GetHpk(), "fileStatus", map[string]any{"upload_id": uploadID}, nil)
	if err != nil {
		return "", err
	}
	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return "", zaxerr.Crypto("mailbox.FileStatus", err)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(plain, &resp); err != nil {
		return "", zaxerr.Protocol("mailbox.FileStatus", url, "fileStatus", err)
	}
	return resp.Status, nil
}

// DeleteFile removes uploadID and every chunk stored under it.
func (m *Mailbox) DeleteFile(ctx context.Context, url, uploadID string) (string, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return "", err
	}
	lines, err := session.Command(ctx, m.GetHpk(), "deleteFile", map[string]any{"upload_id": uploadID}, nil)
	if err != nil {
		return "", err
	}
	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return "", zaxerr.Crypto("mailbox.DeleteFile", err)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(plain, &resp); err != nil {
		return "", zaxerr.Protocol("mailbox.DeleteFile", url, "deleteFile", err)
	}
	return resp.Status, nil
}

// GetFileMetadata downloads every message and returns the
// FileUploadMetadata announced under uploadID, per spec §4.5.5.
func (m *Mailbox) GetFileMetadata(ctx context.Context, url, uploadID string) (*FileUploadMetadata, error) {
	msgs, err := m.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.Kind == KindFileMetadata && msg.UploadID == uploadID {
			return msg.File, nil
		}
	}
	return nil, zaxerr.Invariant("mailbox.GetFileMetadata", "no file metadata found for upload "+uploadID)
}
