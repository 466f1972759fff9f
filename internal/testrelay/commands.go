package testrelay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vault12/zaxmail/internal/wire"
	"github.com/vault12/zaxmail/internal/zaxcrypto"
)

// commandPayload is the union of every field any of the ten recognized
// commands carries, decrypted from a /command request's box envelope.
type commandPayload struct {
	Cmd       string         `json:"cmd"`
	To        string         `json:"to,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Data      string         `json:"data,omitempty"`
	Nonce     string         `json:"nonce,omitempty"`
	Token     string         `json:"token,omitempty"`
	Nonces    []string       `json:"nonces,omitempty"`
	FileSize  int64          `json:"file_size,omitempty"`
	Metadata  *metadataParam `json:"metadata,omitempty"`
	UploadID  string         `json:"upload_id,omitempty"`
	Part      int            `json:"part,omitempty"`
	LastChunk bool           `json:"last_chunk,omitempty"`
}

type metadataParam struct {
	Nonce string `json:"nonce"`
	Ctext string `json:"ctext"`
}

func (r *Relay) handleCommand(w http.ResponseWriter, req *http.Request) {
	body, err := readBody(req)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	lines := wire.SplitLines(body)
	if len(lines) < 3 {
		http.Error(w, "expected at least 3 lines", http.StatusBadRequest)
		return
	}
	hpk := lines[0]

	r.mu.Lock()
	sess, ok := r.active[hpk]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "no active session", http.StatusUnauthorized)
		return
	}

	nonce, ct, err := decodeNonceCt(lines[1], lines[2])
	if err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	plain, err := zaxcrypto.BoxOpen(ct, nonce, sess.sessionPub, sess.relayKeys.Secret)
	if err != nil {
		http.Error(w, "box open failed", http.StatusUnauthorized)
		return
	}

	var cmd commandPayload
	if err := json.Unmarshal(plain, &cmd); err != nil {
		http.Error(w, "malformed command", http.StatusBadRequest)
		return
	}

	var extraRaw []byte
	if len(lines) == 4 {
		extraRaw, err = base64.StdEncoding.DecodeString(lines[3])
		if err != nil {
			http.Error(w, "bad extra line", http.StatusBadRequest)
			return
		}
	}

	switch cmd.Cmd {
	case "upload":
		r.cmdUpload(w, hpk, sess, cmd)
	case "download":
		r.cmdDownload(w, hpk, sess)
	case "count":
		r.cmdCount(w, hpk, sess)
	case "messageStatus":
		r.cmdMessageStatus(w, cmd)
	case "delete":
		r.cmdDelete(w, hpk, cmd)
	case "startFileUpload":
		r.cmdStartFileUpload(w, hpk, sess, cmd)
	case "uploadFileChunk":
		r.cmdUploadFileChunk(w, sess, cmd, extraRaw)
	case "downloadFileChunk":
		r.cmdDownloadFileChunk(w, sess, cmd)
	case "fileStatus":
		r.cmdFileStatus(w, sess, cmd)
	case "deleteFile":
		r.cmdDeleteFile(w, sess, cmd)
	default:
		http.Error(w, "unrecognized command", http.StatusBadRequest)
	}
}

// encryptEnvelope box-seals obj toward the caller's session key, the
// mirror image of relay.Session.DecryptEnvelope.
func encryptEnvelope(sess *activeSession, obj any) (nonceB64, ctB64 string, err error) {
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", "", err
	}
	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return "", "", err
	}
	ct := zaxcrypto.Box(payload, nonce, sess.sessionPub, sess.relayKeys.Secret)
	return base64.StdEncoding.EncodeToString(nonce[:]), base64.StdEncoding.EncodeToString(ct), nil
}

func writeEnvelope(w http.ResponseWriter, sess *activeSession, obj any) {
	nonceB64, ctB64, err := encryptEnvelope(sess, obj)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, wire.JoinLines(nonceB64, ctB64))
}

func (r *Relay) cmdUpload(w http.ResponseWriter, fromHpk string, sess *activeSession, cmd commandPayload) {
	token := uuid.New().String()
	rec := record{Kind: cmd.Kind, From: fromHpk, Data: cmd.Data, Nonce: cmd.Nonce, Time: time.Now().Unix()}

	r.mu.Lock()
	r.mailboxes[cmd.To] = append(r.mailboxes[cmd.To], rec)
	r.tokens[token] = cmd.Nonce
	r.mu.Unlock()

	fmt.Fprint(w, token)
}

func (r *Relay) cmdDownload(w http.ResponseWriter, hpk string, sess *activeSession) {
	r.mu.Lock()
	recs := append([]record{}, r.mailboxes[hpk]...)
	r.mu.Unlock()
	writeEnvelope(w, sess, recs)
}

func (r *Relay) cmdCount(w http.ResponseWriter, hpk string, sess *activeSession) {
	r.mu.Lock()
	n := len(r.mailboxes[hpk])
	r.mu.Unlock()
	writeEnvelope(w, sess, n)
}

func (r *Relay) cmdMessageStatus(w http.ResponseWriter, cmd commandPayload) {
	// This in-memory relay implements no real TTL expiry: a present
	// record never expires (-1), a missing one has been deleted (-2).
	r.mu.Lock()
	_, ok := r.tokens[cmd.Token]
	r.mu.Unlock()
	if !ok {
		fmt.Fprint(w, "-2")
		return
	}
	fmt.Fprint(w, "-1")
}

func (r *Relay) cmdDelete(w http.ResponseWriter, hpk string, cmd commandPayload) {
	remove := make(map[string]bool, len(cmd.Nonces))
	for _, n := range cmd.Nonces {
		remove[n] = true
	}

	r.mu.Lock()
	kept := r.mailboxes[hpk][:0]
	for _, rec := range r.mailboxes[hpk] {
		if !remove[rec.Nonce] {
			kept = append(kept, rec)
		}
	}
	r.mailboxes[hpk] = kept
	n := len(kept)
	for token, nonce := range r.tokens {
		if remove[nonce] {
			delete(r.tokens, token)
		}
	}
	r.mu.Unlock()

	fmt.Fprint(w, strconv.Itoa(n))
}

func (r *Relay) cmdStartFileUpload(w http.ResponseWriter, fromHpk string, sess *activeSession, cmd commandPayload) {
	if cmd.Metadata == nil {
		http.Error(w, "missing metadata", http.StatusBadRequest)
		return
	}
	uploadID := uuid.New().String()
	storageToken := uuid.New().String()
	const maxChunkSize = 64 * 1024

	fileEnv := map[string]string{
		"nonce":    cmd.Metadata.Nonce,
		"ctext":    cmd.Metadata.Ctext,
		"uploadID": uploadID,
	}
	data, err := json.Marshal(fileEnv)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}

	rec := record{Kind: "file", From: fromHpk, Data: string(data), Nonce: cmd.Metadata.Nonce, Time: time.Now().Unix()}

	r.mu.Lock()
	r.mailboxes[cmd.To] = append(r.mailboxes[cmd.To], rec)
	r.files[uploadID] = &fileUploadState{owner: cmd.To, maxChunkSize: maxChunkSize, chunks: make(map[int]chunkEntry)}
	r.tokens[storageToken] = cmd.Metadata.Nonce
	r.mu.Unlock()

	writeEnvelope(w, sess, map[string]any{
		"upload_id":      uploadID,
		"max_chunk_size": maxChunkSize,
		"storage_token":  storageToken,
	})
}

func (r *Relay) cmdUploadFileChunk(w http.ResponseWriter, sess *activeSession, cmd commandPayload, extraRaw []byte) {
	r.mu.Lock()
	state, ok := r.files[cmd.UploadID]
	if ok {
		state.chunks[cmd.Part] = chunkEntry{ciphertext: extraRaw, nonceB64: cmd.Nonce}
		if cmd.LastChunk {
			state.complete = true
		}
	}
	r.mu.Unlock()
	if !ok {
		http.Error(w, "unknown upload", http.StatusBadRequest)
		return
	}
	writeEnvelope(w, sess, map[string]any{"ok": true})
}

func (r *Relay) cmdDownloadFileChunk(w http.ResponseWriter, sess *activeSession, cmd commandPayload) {
	r.mu.Lock()
	state, ok := r.files[cmd.UploadID]
	var chunk chunkEntry
	if ok {
		chunk, ok = state.chunks[cmd.Part]
	}
	r.mu.Unlock()
	if !ok {
		http.Error(w, "unknown chunk", http.StatusBadRequest)
		return
	}

	nonceB64, ctB64, err := encryptEnvelope(sess, map[string]string{"nonce": chunk.nonceB64})
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, wire.JoinLines(nonceB64, ctB64, base64.StdEncoding.EncodeToString(chunk.ciphertext)))
}

func (r *Relay) cmdFileStatus(w http.ResponseWriter, sess *activeSession, cmd commandPayload) {
	r.mu.Lock()
	state, ok := r.files[cmd.UploadID]
	r.mu.Unlock()

	status := "NOT_FOUND"
	if ok && !state.deleted {
		if state.complete {
			status = "COMPLETE"
		} else {
			status = "PENDING"
		}
	}
	writeEnvelope(w, sess, map[string]string{"status": status})
}

// cmdDeleteFile removes uploadID regardless of which identity calls it
// — the relay has no ownership check beyond an active session, matching
// spec §4.4.4's treatment of deleteFile as an unauthenticated-by-role
// relay command. The file record is pruned from its recipient's
// mailbox (state.owner), not from the caller's own hpk.
func (r *Relay) cmdDeleteFile(w http.ResponseWriter, sess *activeSession, cmd commandPayload) {
	r.mu.Lock()
	state, ok := r.files[cmd.UploadID]
	status := "NOT_FOUND"
	if ok {
		owner := state.owner
		state.deleted = true
		delete(r.files, cmd.UploadID)
		kept := r.mailboxes[owner][:0]
		for _, rec := range r.mailboxes[owner] {
			var env struct {
				UploadID string `json:"uploadID"`
			}
			if rec.Kind == "file" && json.Unmarshal([]byte(rec.Data), &env) == nil && env.UploadID == cmd.UploadID {
				continue
			}
			kept = append(kept, rec)
		}
		r.mailboxes[owner] = kept
		status = "OK"
	}
	r.mu.Unlock()
	writeEnvelope(w, sess, map[string]string{"status": status})
}
