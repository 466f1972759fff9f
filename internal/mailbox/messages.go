package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
)

// rawRecord is the relay's own representation of one stored message,
// returned (JSON-encoded, inside the session envelope) by the download
// command.
type rawRecord struct {
	Kind  string `json:"kind"`
	From  string `json:"from"`
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
	Time  int64  `json:"time"`
}

// fileRecordEnvelope is the shape of a "file" record's Data field: the
// box envelope around a FileUploadMetadata, plus the uploadID it
// announces.
type fileRecordEnvelope struct {
	Nonce    string `json:"nonce"`
	Ctext    string `json:"ctext"`
	UploadID string `json:"uploadID"`
}

// Upload encrypts message toward guestTag (unless encrypt is false,
// in which case it is deposited as plaintext) and deposits it in
// guestTag's mailbox on url, per spec §4.5.4. It returns the relay's
// opaque storage token.
func (m *Mailbox) Upload(ctx context.Context, url, guestTag, message string, encrypt bool) (string, error) {
	guestPub, err := m.guestKey(guestTag)
	if err != nil {
		return "", err
	}

	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return "", err
	}
	data := message
	if encrypt {
		ct := zaxcrypto.Box([]byte(message), nonce, guestPub, m.GetPrivateCommKey())
		data = base64.StdEncoding.EncodeToString(ct)
	}

	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return "", err
	}

	lines, err := session.Command(ctx, m.GetHpk(), "upload", map[string]any{
		"to":    hpkOf(guestPub),
		"kind":  "message",
		"data":  data,
		"nonce": base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil)
	if err != nil {
		return "", err
	}
	return lines[0], nil
}

// Download fetches and decodes every message waiting in this
// identity's mailbox on url, per spec §4.5.4.
func (m *Mailbox) Download(ctx context.Context, url string) ([]Message, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return nil, err
	}

	lines, err := session.Command(ctx, m.GetHpk(), "download", nil, nil)
	if err != nil {
		return nil, err
	}

	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return nil, zaxerr.Crypto("mailbox.Download", err)
	}

	var records []rawRecord
	if err := json.Unmarshal(plain, &records); err != nil {
		return nil, zaxerr.Protocol("mailbox.Download", url, "download", err)
	}

	out := make([]Message, 0, len(records))
	for _, rec := range records {
		msg, err := m.decodeRecord(url, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *Mailbox) decodeRecord(url string, rec rawRecord) (Message, error) {
	senderTag, known := m.keyring.GetTagByHpk(rec.From)
	if !known {
		return Message{Kind: KindPlain, Data: rec.Data, From: rec.From, Nonce: rec.Nonce, Time: rec.Time}, nil
	}

	switch rec.Kind {
	case "message":
		return Message{
			Kind:      KindText,
			Data:      m.decryptText(senderTag, rec),
			SenderTag: senderTag,
			Nonce:     rec.Nonce,
			Time:      rec.Time,
		}, nil
	case "file":
		meta, uploadID, err := m.decryptFileMetadata(senderTag, rec)
		if err != nil {
			return Message{}, err
		}
		return Message{
			Kind:      KindFileMetadata,
			File:      meta,
			SenderTag: senderTag,
			UploadID:  uploadID,
			Nonce:     rec.Nonce,
			Time:      rec.Time,
		}, nil
	default:
		return Message{}, zaxerr.Protocol("mailbox.Download", url, "download", fmt.Errorf("unrecognized record kind %q", rec.Kind))
	}
}

// decryptText implements the spec §4.5.4 passthrough rule for a
// box_open authentication failure, and additionally falls through on
// malformed base64/nonce input rather than raising a ProtocolError
// (spec §9 reserves ProtocolError for malformed ciphertext). This is
// deliberately more lenient than the letter of §9: an unencrypted
// upload (scenario 4) still carries a valid nonce, but its data is the
// raw message text, which need not be valid base64, so "data doesn't
// decode" and "sender didn't encrypt" are indistinguishable from here,
// and both must produce the same plaintext passthrough.
func (m *Mailbox) decryptText(senderTag string, rec rawRecord) string {
	senderPub, ok := m.keyring.GetGuestKey(senderTag)
	if !ok {
		return rec.Data
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return rec.Data
	}
	var nonce [zaxcrypto.NonceLen]byte
	copy(nonce[:], nonceRaw)

	ct, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return rec.Data
	}
	plain, err := zaxcrypto.BoxOpen(ct, nonce, senderPub, m.GetPrivateCommKey())
	if err != nil {
		return rec.Data
	}
	return string(plain)
}

// decryptFileMetadata has no passthrough path: a malformed file
// envelope is always a ProtocolError, per spec §9 (the passthrough
// rule is documented for text messages only).
func (m *Mailbox) decryptFileMetadata(senderTag string, rec rawRecord) (*FileUploadMetadata, string, error) {
	var env fileRecordEnvelope
	if err := json.Unmarshal([]byte(rec.Data), &env); err != nil {
		return nil, "", zaxerr.Protocol("mailbox.Download", "", "download", fmt.Errorf("malformed file record: %w", err))
	}

	senderPub, ok := m.keyring.GetGuestKey(senderTag)
	if !ok {
		return nil, "", zaxerr.Invariant("mailbox.Download", "guest vanished mid-decode: "+senderTag)
	}

	nonceRaw, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return nil, "", zaxerr.Protocol("mailbox.Download", "", "download", fmt.Errorf("bad file envelope nonce"))
	}
	var nonce [zaxcrypto.NonceLen]byte
	copy(nonce[:], nonceRaw)

	ct, err := base64.StdEncoding.DecodeString(env.Ctext)
	if err != nil {
		return nil, "", zaxerr.Protocol("mailbox.Download", "", "download", fmt.Errorf("bad file envelope ctext"))
	}

	plain, err := zaxcrypto.BoxOpen(ct, nonce, senderPub, m.GetPrivateCommKey())
	if err != nil {
		return nil, "", zaxerr.Crypto("mailbox.Download", err)
	}

	var meta FileUploadMetadata
	if err := json.Unmarshal(plain, &meta); err != nil {
		return nil, "", zaxerr.Protocol("mailbox.Download", "", "download", err)
	}
	return &meta, env.UploadID, nil
}

// Count returns the number of messages waiting in this identity's
// mailbox on url.
func (m *Mailbox) Count(ctx context.Context, url string) (int, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return 0, err
	}
	lines, err := session.Command(ctx, m.GetHpk(), "count", nil, nil)
	if err != nil {
		return 0, err
	}
	plain, err := session.DecryptEnvelope(lines[0], lines[1])
	if err != nil {
		return 0, zaxerr.Crypto("mailbox.Count", err)
	}
	var n int
	if err := json.Unmarshal(plain, &n); err != nil {
		return 0, zaxerr.Protocol("mailbox.Count", url, "count", err)
	}
	return n, nil
}

// MessageStatus returns the relay's redis-TTL-shaped status for token:
// -2 missing, -1 never-expires, >=0 seconds remaining. Per spec §9
// these are surfaced verbatim, never remapped to 0.
func (m *Mailbox) MessageStatus(ctx context.Context, url, token string) (int, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return 0, err
	}
	lines, err := session.Command(ctx, m.GetHpk(), "messageStatus", map[string]any{"token": token}, nil)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, zaxerr.Protocol("mailbox.MessageStatus", url, "messageStatus", err)
	}
	return n, nil
}

// Delete removes the messages identified by nonces and returns the
// mailbox's remaining message count.
func (m *Mailbox) Delete(ctx context.Context, url string, nonces []string) (int, error) {
	session, err := m.prepareRelay(ctx, url)
	if err != nil {
		return 0, err
	}
	lines, err := session.Command(ctx, m.GetHpk(), "delete", map[string]any{"nonces": nonces}, nil)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(lines[0])
	if err != nil {
		return 0, zaxerr.Protocol("mailbox.Delete", url, "delete", err)
	}
	return n, nil
}
