package testrelay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vault12/zaxmail/internal/wire"
	"github.com/vault12/zaxmail/internal/zaxcrypto"
)

func readBody(req *http.Request) (string, error) {
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Relay) handleStartSession(w http.ResponseWriter, req *http.Request) {
	body, err := readBody(req)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	lines := wire.SplitLines(body)
	if len(lines) != 1 {
		http.Error(w, "expected 1 line", http.StatusBadRequest)
		return
	}
	clientToken, err := base64.StdEncoding.DecodeString(lines[0])
	if err != nil {
		http.Error(w, "bad client token", http.StatusBadRequest)
		return
	}

	relayToken, err := zaxcrypto.RandomBytes(32)
	if err != nil {
		http.Error(w, "rng failure", http.StatusInternalServerError)
		return
	}

	h2ClientToken := zaxcrypto.H2(clientToken)
	key := base64.StdEncoding.EncodeToString(h2ClientToken[:])

	r.mu.Lock()
	r.pending[key] = &pendingHandshake{
		clientToken: clientToken,
		relayToken:  relayToken,
		difficulty:  r.Difficulty,
	}
	r.mu.Unlock()

	r.logger.Info("testrelay: start_session", "difficulty", r.Difficulty)
	fmt.Fprint(w, wire.JoinLines(
		base64.StdEncoding.EncodeToString(relayToken),
		strconv.Itoa(int(r.Difficulty)),
	))
}

func (r *Relay) handleVerifySession(w http.ResponseWriter, req *http.Request) {
	body, err := readBody(req)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	lines := wire.SplitLines(body)
	if len(lines) != 2 {
		http.Error(w, "expected 2 lines", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	pending, ok := r.pending[lines[0]]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}

	sessionHandshake, err := base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		http.Error(w, "bad handshake", http.StatusBadRequest)
		return
	}

	handshake := append(append([]byte{}, pending.clientToken...), pending.relayToken...)
	if pending.difficulty == 0 {
		want := zaxcrypto.H2(handshake)
		if string(want[:]) != string(sessionHandshake) {
			http.Error(w, "bad handshake digest", http.StatusUnauthorized)
			return
		}
	} else {
		candidate := append(append([]byte{}, handshake...), sessionHandshake...)
		sum := zaxcrypto.H2(candidate)
		if !zaxcrypto.ZeroBits(sum, pending.difficulty) {
			http.Error(w, "proof of work rejected", http.StatusUnauthorized)
			return
		}
	}

	relayKeys, err := zaxcrypto.Keypair()
	if err != nil {
		http.Error(w, "rng failure", http.StatusInternalServerError)
		return
	}

	r.mu.Lock()
	pending.relayKeys = relayKeys
	r.mu.Unlock()

	fmt.Fprint(w, base64.StdEncoding.EncodeToString(relayKeys.Public[:]))
}

type proveInnerPayload struct {
	PubKey string `json:"pub_key"`
	Nonce  string `json:"nonce"`
	Ctext  string `json:"ctext"`
}

func (r *Relay) handleProve(w http.ResponseWriter, req *http.Request) {
	body, err := readBody(req)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	lines := wire.SplitLines(body)
	if len(lines) != 4 {
		http.Error(w, "expected 4 lines", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	pending, ok := r.pending[lines[0]]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}

	sessionPubRaw, err := base64.StdEncoding.DecodeString(lines[1])
	if err != nil || len(sessionPubRaw) != zaxcrypto.KeyLen {
		http.Error(w, "bad session public key", http.StatusBadRequest)
		return
	}
	var sessionPub [zaxcrypto.KeyLen]byte
	copy(sessionPub[:], sessionPubRaw)

	outerNonce, outerCt, err := decodeNonceCt(lines[2], lines[3])
	if err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	innerJSON, err := zaxcrypto.BoxOpen(outerCt, outerNonce, sessionPub, pending.relayKeys.Secret)
	if err != nil {
		http.Error(w, "outer box failed", http.StatusUnauthorized)
		return
	}
	var inner proveInnerPayload
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		http.Error(w, "malformed inner payload", http.StatusBadRequest)
		return
	}

	ownerPubRaw, err := base64.StdEncoding.DecodeString(inner.PubKey)
	if err != nil || len(ownerPubRaw) != zaxcrypto.KeyLen {
		http.Error(w, "bad owner public key", http.StatusBadRequest)
		return
	}
	var ownerPub [zaxcrypto.KeyLen]byte
	copy(ownerPub[:], ownerPubRaw)

	innerNonce, innerCt, err := decodeNonceCt(inner.Nonce, inner.Ctext)
	if err != nil {
		http.Error(w, "bad inner envelope", http.StatusBadRequest)
		return
	}

	signature, err := zaxcrypto.BoxOpen(innerCt, innerNonce, ownerPub, pending.relayKeys.Secret)
	if err != nil {
		http.Error(w, "inner box failed", http.StatusUnauthorized)
		return
	}

	want := zaxcrypto.H2(concat(sessionPub[:], pending.relayToken, pending.clientToken))
	if string(want[:]) != string(signature) {
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	hpk := hpkOf(ownerPub)

	r.mu.Lock()
	r.active[hpk] = &activeSession{
		ownerPub:   ownerPub,
		sessionPub: sessionPub,
		relayKeys:  pending.relayKeys,
	}
	delete(r.pending, lines[0])
	count := len(r.mailboxes[hpk])
	r.mu.Unlock()

	r.logger.Info("testrelay: session proved", "hpk", hpk)
	fmt.Fprint(w, strconv.Itoa(count))
}

func decodeNonceCt(nonceB64, ctB64 string) ([zaxcrypto.NonceLen]byte, []byte, error) {
	var nonce [zaxcrypto.NonceLen]byte
	nonceRaw, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return nonce, nil, fmt.Errorf("bad nonce")
	}
	copy(nonce[:], nonceRaw)
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nonce, nil, fmt.Errorf("bad ciphertext")
	}
	return nonce, ct, nil
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func hpkOf(pub [zaxcrypto.KeyLen]byte) string {
	sum := zaxcrypto.H2(pub[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}
