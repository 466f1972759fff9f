// Package testrelay is an in-memory implementation of the Zax relay
// wire protocol (spec §6), used only by this module's own test suite
// the way internal/server backs the teacher's own httptest-driven
// client tests. It is deliberately not production code: no
// durability, no rate limiting, no abuse resistance — spec §1 treats
// the relay as an external collaborator, and this package exists
// solely to give that collaborator a body for tests to drive against.
package testrelay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
)

// Relay is an http.Handler implementing /start_session, /verify_session,
// /prove, and /command exactly as spec §6 frames them.
type Relay struct {
	mu     sync.Mutex
	logger *slog.Logger

	// Difficulty is the proof-of-work bit count handed out by
	// start_session. Tests default this to 0 so handshakes are instant;
	// a non-zero value exercises internal/relay's PoW search.
	Difficulty uint8

	pending map[string]*pendingHandshake // key: base64(h2(clientToken))
	active  map[string]*activeSession    // key: owner hpk

	mailboxes map[string][]record        // key: recipient hpk
	files     map[string]*fileUploadState // key: uploadID
	tokens    map[string]string          // storage token -> message nonce
}

// pendingHandshake is server-side state for a clientToken between
// start_session and a successful prove.
type pendingHandshake struct {
	clientToken []byte
	relayToken  []byte
	difficulty  uint8
	relayKeys   zaxcrypto.Keys // generated at verify_session
}

// activeSession is server-side state for an owner hpk after a
// successful prove.
type activeSession struct {
	ownerPub   [zaxcrypto.KeyLen]byte
	sessionPub [zaxcrypto.KeyLen]byte
	relayKeys  zaxcrypto.Keys
}

// record is one stored message, mirroring the shape internal/mailbox
// decodes on download.
type record struct {
	Kind  string `json:"kind"`
	From  string `json:"from"`
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
	Time  int64  `json:"time"`
}

// fileUploadState tracks one in-progress or completed chunked upload.
type fileUploadState struct {
	owner        string // recipient hpk
	maxChunkSize int
	chunks       map[int]chunkEntry
	complete     bool
	deleted      bool
}

type chunkEntry struct {
	ciphertext []byte
	nonceB64   string
}

// New builds an empty Relay. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:    logger,
		pending:   make(map[string]*pendingHandshake),
		active:    make(map[string]*activeSession),
		mailboxes: make(map[string][]record),
		files:     make(map[string]*fileUploadState),
		tokens:    make(map[string]string),
	}
}

// ServeHTTP dispatches the four wire-protocol endpoints.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch req.URL.Path {
	case "/start_session":
		r.handleStartSession(w, req)
	case "/verify_session":
		r.handleVerifySession(w, req)
	case "/prove":
		r.handleProve(w, req)
	case "/command":
		r.handleCommand(w, req)
	default:
		http.NotFound(w, req)
	}
}
