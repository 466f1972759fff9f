// Package relay implements the three-leg Zax relay handshake and the
// encrypted command envelope built on top of it, per spec §4.4.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/vault12/zaxmail/internal/wire"
	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
	"github.com/vault12/zaxmail/storage"
)

// state is the per-session handshake state machine, spec §4.4.1.
type state int

const (
	stateFresh state = iota
	stateTokenAcquired
	stateKeyAcquired
	stateProved
)

// lineCounts is the response-arity table from spec §4.4.4.
var lineCounts = map[string]int{
	"count":             2,
	"upload":            1,
	"download":          2,
	"messageStatus":      1,
	"delete":            1,
	"startFileUpload":   2,
	"uploadFileChunk":   2,
	"downloadFileChunk": 3,
	"fileStatus":        2,
	"deleteFile":        2,
}

// Config carries the relay-facing tunables from spec §6.
type Config struct {
	TokenLen       int
	TokenTimeout   time.Duration
	SessionTimeout time.Duration
	AjaxTimeout    time.Duration
	// GuardBand is the fraction by which each deadline is shortened,
	// e.g. 0.1 means a deadline fires 10% early (spec §4.4.3).
	GuardBand float64
}

// DefaultConfig matches the defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		TokenLen:       32,
		TokenTimeout:   5 * time.Minute,
		SessionTimeout: 20 * time.Minute,
		AjaxTimeout:    5 * time.Second,
		GuardBand:      0.1,
	}
}

func (c Config) guarded(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (1 - c.GuardBand))
}

// Session is the per-(mailbox, URL) relay state machine of spec §4.4.
type Session struct {
	mu     sync.Mutex
	url    string
	doer   storage.Doer
	cfg    Config
	logger *slog.Logger

	// commKeys is the owner's long-term identity, used only to
	// authenticate the ownership proof in Prove — never to encrypt a
	// user payload (spec §9 "Design Notes").
	commKeys zaxcrypto.Keys

	state state

	clientToken     []byte
	relayToken      []byte
	sessionKeys     zaxcrypto.Keys
	relayPublicKey  [zaxcrypto.KeyLen]byte
	difficulty      uint8
	tokenDeadline   time.Time
	sessionDeadline time.Time
	connected       bool
}

// New builds a Session bound to url, not yet connected.
func New(url string, doer storage.Doer, commKeys zaxcrypto.Keys, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		url:      url,
		doer:     doer,
		cfg:      cfg,
		logger:   logger,
		commKeys: commKeys,
		state:    stateFresh,
	}
}

// Connected reports whether the session has a live proved channel:
// state is Proved and neither deadline has passed.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedLocked()
}

func (s *Session) connectedLocked() bool {
	if !s.connected || s.state != stateProved {
		return false
	}
	now := time.Now()
	return now.Before(s.tokenDeadline) && now.Before(s.sessionDeadline)
}

// resetLocked discards all ephemerals and returns to Fresh, per spec
// §4.4.1 ("Any failure transitions back to Fresh and discards
// ephemerals") and §4.4.3 (401 handling).
func (s *Session) resetLocked() {
	s.state = stateFresh
	s.clientToken = nil
	s.relayToken = nil
	s.sessionKeys = zaxcrypto.Keys{}
	s.relayPublicKey = [zaxcrypto.KeyLen]byte{}
	s.difficulty = 0
	s.tokenDeadline = time.Time{}
	s.sessionDeadline = time.Time{}
	s.connected = false
}

// EnsureConnected performs the full three-leg handshake if the session
// isn't already usably connected.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureConnectedLocked(ctx)
}

func (s *Session) ensureConnectedLocked(ctx context.Context) error {
	if s.connectedLocked() {
		return nil
	}
	s.resetLocked()

	if err := s.startSessionLocked(ctx); err != nil {
		s.resetLocked()
		return err
	}
	if err := s.verifySessionLocked(ctx); err != nil {
		s.resetLocked()
		return err
	}
	if err := s.proveLocked(ctx); err != nil {
		s.resetLocked()
		return err
	}
	return nil
}

func (s *Session) startSessionLocked(ctx context.Context) error {
	clientToken, err := zaxcrypto.RandomBytes(s.cfg.TokenLen)
	if err != nil {
		return err
	}

	body := base64.StdEncoding.EncodeToString(clientToken)
	resp, status, err := s.doer.Do(ctx, "POST", s.url+"/start_session", nil, body)
	if err != nil {
		return zaxerr.Network("relay.startSession", status, err)
	}
	if status/100 != 2 {
		return zaxerr.Network("relay.startSession", status, fmt.Errorf("unexpected status"))
	}

	lines := wire.SplitLines(resp)
	if len(lines) != 2 {
		return zaxerr.Protocol("relay.startSession", s.url, "start_session", fmt.Errorf("expected 2 lines, got %d", len(lines)))
	}
	relayToken, err := base64.StdEncoding.DecodeString(lines[0])
	if err != nil {
		return zaxerr.Protocol("relay.startSession", s.url, "start_session", err)
	}
	difficulty, err := strconv.Atoi(lines[1])
	if err != nil || difficulty < 0 || difficulty > 255 {
		return zaxerr.Protocol("relay.startSession", s.url, "start_session", fmt.Errorf("bad difficulty %q", lines[1]))
	}

	s.clientToken = clientToken
	s.relayToken = relayToken
	s.difficulty = uint8(difficulty)
	s.tokenDeadline = time.Now().Add(s.cfg.guarded(s.cfg.TokenTimeout))
	s.state = stateTokenAcquired
	return nil
}

func (s *Session) verifySessionLocked(ctx context.Context) error {
	if s.state != stateTokenAcquired {
		return zaxerr.Invariant("relay.verifySession", "attempted verify before start_session")
	}

	handshake := append(append([]byte{}, s.clientToken...), s.relayToken...)

	var sessionHandshake []byte
	if s.difficulty == 0 {
		h := zaxcrypto.H2(handshake)
		sessionHandshake = h[:]
	} else {
		found, err := s.searchProofOfWork(ctx, handshake)
		if err != nil {
			return err
		}
		sessionHandshake = found
	}

	h2ClientToken := zaxcrypto.H2(s.clientToken)
	body := wire.JoinLines(
		base64.StdEncoding.EncodeToString(h2ClientToken[:]),
		base64.StdEncoding.EncodeToString(sessionHandshake),
	)

	resp, status, err := s.doer.Do(ctx, "POST", s.url+"/verify_session", nil, body)
	if err != nil {
		return zaxerr.Network("relay.verifySession", status, err)
	}
	if status/100 != 2 {
		return zaxerr.Network("relay.verifySession", status, fmt.Errorf("unexpected status"))
	}

	trimmed := wire.SplitLines(resp)
	if len(trimmed) != 1 {
		return zaxerr.Protocol("relay.verifySession", s.url, "verify_session", fmt.Errorf("expected 1 line, got %d", len(trimmed)))
	}
	relayPub, err := base64.StdEncoding.DecodeString(trimmed[0])
	if err != nil || len(relayPub) != zaxcrypto.KeyLen {
		return zaxerr.Protocol("relay.verifySession", s.url, "verify_session", fmt.Errorf("bad relay public key"))
	}
	copy(s.relayPublicKey[:], relayPub)
	s.state = stateKeyAcquired
	return nil
}

// searchProofOfWork looks for a random 32-byte nonce n such that
// h2(handshake||n) has its low `difficulty` bits zeroed, per spec
// §4.4.2. It is cooperatively cancellable and logs progress past a
// million attempts when difficulty > 10.
func (s *Session) searchProofOfWork(ctx context.Context, handshake []byte) ([]byte, error) {
	var iterations uint64
	for {
		select {
		case <-ctx.Done():
			return nil, zaxerr.Timeout("relay.searchProofOfWork", ctx.Err())
		default:
		}

		n, err := zaxcrypto.RandomBytes(32)
		if err != nil {
			return nil, err
		}
		candidate := append(append([]byte{}, handshake...), n...)
		sum := zaxcrypto.H2(candidate)
		if zaxcrypto.ZeroBits(sum, s.difficulty) {
			return n, nil
		}

		iterations++
		if s.difficulty > 10 && iterations%1_000_000 == 0 {
			s.logger.Info("relay: proof-of-work search in progress",
				"difficulty", s.difficulty, "iterations", iterations)
		}
	}
}

type proveInnerPayload struct {
	PubKey string `json:"pub_key"`
	Nonce  string `json:"nonce"`
	Ctext  string `json:"ctext"`
}

func (s *Session) proveLocked(ctx context.Context) error {
	if s.state != stateKeyAcquired {
		return zaxerr.Invariant("relay.prove", "attempted prove before verify_session")
	}

	sessionKeys, err := zaxcrypto.Keypair()
	if err != nil {
		return err
	}

	signature := zaxcrypto.H2(concat(sessionKeys.Public[:], s.relayToken, s.clientToken))

	innerNonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return err
	}
	innerCt := zaxcrypto.Box(signature[:], innerNonce, s.relayPublicKey, s.commKeys.Secret)

	inner := proveInnerPayload{
		PubKey: base64.StdEncoding.EncodeToString(s.commKeys.Public[:]),
		Nonce:  base64.StdEncoding.EncodeToString(innerNonce[:]),
		Ctext:  base64.StdEncoding.EncodeToString(innerCt),
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return err
	}

	outerNonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return err
	}
	outerCt := zaxcrypto.Box(innerJSON, outerNonce, s.relayPublicKey, sessionKeys.Secret)

	h2ClientToken := zaxcrypto.H2(s.clientToken)
	body := wire.JoinLines(
		base64.StdEncoding.EncodeToString(h2ClientToken[:]),
		base64.StdEncoding.EncodeToString(sessionKeys.Public[:]),
		base64.StdEncoding.EncodeToString(outerNonce[:]),
		base64.StdEncoding.EncodeToString(outerCt),
	)

	resp, status, err := s.doer.Do(ctx, "POST", s.url+"/prove", nil, body)
	if err != nil {
		return zaxerr.Network("relay.prove", status, err)
	}
	if status/100 != 2 {
		return zaxerr.Network("relay.prove", status, fmt.Errorf("unexpected status"))
	}

	trimmed := wire.SplitLines(resp)
	if len(trimmed) != 1 {
		return zaxerr.Protocol("relay.prove", s.url, "prove", fmt.Errorf("expected 1 line, got %d", len(trimmed)))
	}
	if _, err := strconv.Atoi(trimmed[0]); err != nil {
		return zaxerr.Protocol("relay.prove", s.url, "prove", fmt.Errorf("expected integer message count"))
	}

	s.sessionKeys = sessionKeys
	s.sessionDeadline = time.Now().Add(s.cfg.guarded(s.cfg.SessionTimeout))
	s.connected = true
	s.state = stateProved
	return nil
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Command issues a single /command round trip for cmd, merging params
// into the encrypted JSON body and attaching extraRaw as the optional
// fourth line (uploadFileChunk's raw chunk ciphertext). It returns the
// raw response lines for the caller (internal/mailbox) to interpret.
func (s *Session) Command(ctx context.Context, hpk, cmd string, params map[string]any, extraRaw []byte) ([]string, error) {
	expected, ok := lineCounts[cmd]
	if !ok {
		return nil, zaxerr.Invariant("relay.Command", "unrecognized command "+cmd)
	}

	s.mu.Lock()
	if err := s.ensureConnectedLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	payload := map[string]any{"cmd": cmd}
	for k, v := range params {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ct := zaxcrypto.Box(payloadJSON, nonce, s.relayPublicKey, s.sessionKeys.Secret)

	lines := []string{hpk, base64.StdEncoding.EncodeToString(nonce[:]), base64.StdEncoding.EncodeToString(ct)}
	if extraRaw != nil {
		lines = append(lines, base64.StdEncoding.EncodeToString(extraRaw))
	}
	body := wire.JoinLines(lines...)
	url := s.url
	s.mu.Unlock()

	resp, status, err := s.doer.Do(ctx, "POST", url+"/command", nil, body)
	if err != nil {
		return nil, zaxerr.Network("relay.Command", status, err)
	}
	if status == 401 {
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		return nil, zaxerr.Network("relay.Command", 401, fmt.Errorf("session rejected by relay"))
	}
	if status/100 != 2 {
		return nil, zaxerr.Network("relay.Command", status, fmt.Errorf("unexpected status"))
	}

	respLines := wire.SplitLines(resp)
	if len(respLines) != expected {
		return nil, zaxerr.Protocol("relay.Command", url, cmd, fmt.Errorf("expected %d lines, got %d", expected, len(respLines)))
	}
	return respLines, nil
}

// DecryptEnvelope box_opens a (nonce, ctext) pair that the relay sealed
// with its ephemeral key toward this session's public key — the
// decoding step shared by every 2- and 3-line command response.
func (s *Session) DecryptEnvelope(nonceB64, ctB64 string) ([]byte, error) {
	s.mu.Lock()
	relayPub := s.relayPublicKey
	sessionSecret := s.sessionKeys.Secret
	s.mu.Unlock()

	nonceRaw, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return nil, zaxerr.Protocol("relay.DecryptEnvelope", s.url, "", fmt.Errorf("bad nonce"))
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, zaxerr.Protocol("relay.DecryptEnvelope", s.url, "", fmt.Errorf("bad ciphertext"))
	}
	var nonce [zaxcrypto.NonceLen]byte
	copy(nonce[:], nonceRaw)

	return zaxcrypto.BoxOpen(ct, nonce, relayPub, sessionSecret)
}

// URL returns the relay URL this session targets.
func (s *Session) URL() string { return s.url }
