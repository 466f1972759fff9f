// Package mailbox is the user-facing façade of spec §4.5: it
// orchestrates relay session establishment, encodes command payloads,
// parses downloaded messages into typed variants, and drives the
// chunked file-transfer sub-protocol on top of internal/relay and
// internal/keyring.
package mailbox

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/vault12/zaxmail/internal/keyring"
	"github.com/vault12/zaxmail/internal/relay"
	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
	"github.com/vault12/zaxmail/storage"
)

// Option configures a Mailbox at construction time.
type Option func(*Mailbox)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailbox) { m.logger = l }
}

// WithRelayConfig overrides the relay handshake/timeout tunables of
// spec §6 (defaults come from relay.DefaultConfig()).
func WithRelayConfig(cfg relay.Config) Option {
	return func(m *Mailbox) { m.relayCfg = cfg }
}

// WithDoer overrides the HTTP transport used to reach relays. Tests
// inject an HTTPDoer aimed at an httptest server running
// internal/testrelay.
func WithDoer(d storage.Doer) Option {
	return func(m *Mailbox) { m.doer = d }
}

// Mailbox is a client-side identity bound to one long-term Curve25519
// comm keypair (spec §2, "Mailbox façade").
type Mailbox struct {
	identity string
	keyring  *keyring.Keyring
	doer     storage.Doer
	relayCfg relay.Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*relay.Session
	locks    map[string]*sync.Mutex
}

func newMailbox(identity string, opts []Option) *Mailbox {
	m := &Mailbox{
		identity: identity,
		relayCfg: relay.DefaultConfig(),
		logger:   slog.Default(),
		sessions: make(map[string]*relay.Session),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	if m.doer == nil {
		m.doer = storage.NewHTTPDoer(m.relayCfg.AjaxTimeout)
	}
	return m
}

// New creates a fresh keyring for identity, generating a new comm
// keypair if none is already persisted under driver (spec §4.5.1).
func New(ctx context.Context, identity string, driver storage.Driver, opts ...Option) (*Mailbox, error) {
	m := newMailbox(identity, opts)
	kr, err := keyring.New(ctx, driver, identity)
	if err != nil {
		return nil, err
	}
	m.keyring = kr
	return m, nil
}

// FromSeed creates a Mailbox whose comm keypair is deterministically
// derived from seed (spec §4.5.1, §4.1 KeypairFromSeed).
func FromSeed(ctx context.Context, identity string, driver storage.Driver, seed []byte, opts ...Option) (*Mailbox, error) {
	m, err := New(ctx, identity, driver, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.keyring.SetCommFromSeed(ctx, seed); err != nil {
		return nil, err
	}
	return m, nil
}

// FromSecKey creates a Mailbox whose comm keypair is derived from a
// raw Curve25519 secret key.
func FromSecKey(ctx context.Context, identity string, driver storage.Driver, sk [zaxcrypto.KeyLen]byte, opts ...Option) (*Mailbox, error) {
	m, err := New(ctx, identity, driver, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.keyring.SetCommFromSecKey(ctx, sk); err != nil {
		return nil, err
	}
	return m, nil
}

// FromBackup recreates a Mailbox from a keyring.Backup() string (spec
// §4.3 fromBackup).
func FromBackup(ctx context.Context, identity string, driver storage.Driver, backup string, opts ...Option) (*Mailbox, error) {
	m := newMailbox(identity, opts)
	kr, err := keyring.FromBackup(ctx, driver, identity, backup)
	if err != nil {
		return nil, err
	}
	m.keyring = kr
	return m, nil
}

// Identity returns the identity string this Mailbox's keyring was
// opened (or recreated) under.
func (m *Mailbox) Identity() string { return m.identity }

// AddGuest registers a guest's public key under tag, deriving its hpk.
func (m *Mailbox) AddGuest(ctx context.Context, tag string, pub [zaxcrypto.KeyLen]byte) error {
	return m.keyring.AddGuest(ctx, tag, pub)
}

// RemoveGuest removes tag from the guest registry.
func (m *Mailbox) RemoveGuest(ctx context.Context, tag string) error {
	return m.keyring.RemoveGuest(ctx, tag)
}

// GetGuestKey returns tag's registered public key.
func (m *Mailbox) GetGuestKey(tag string) ([zaxcrypto.KeyLen]byte, bool) {
	return m.keyring.GetGuestKey(tag)
}

// GetPubCommKey returns this identity's long-term public key.
func (m *Mailbox) GetPubCommKey() [zaxcrypto.KeyLen]byte { return m.keyring.GetPubCommKey() }

// GetPrivateCommKey returns this identity's long-term secret key.
func (m *Mailbox) GetPrivateCommKey() [zaxcrypto.KeyLen]byte { return m.keyring.GetPrivateCommKey() }

// GetHpk returns base64(h2(publicCommKey)), this identity's relay address.
func (m *Mailbox) GetHpk() string { return m.keyring.GetHpk() }

// Backup serializes the keyring for later FromBackup restoration.
func (m *Mailbox) Backup() (string, error) { return m.keyring.Backup() }

// SelfDestruct removes every keyring-owned row from the backing store.
func (m *Mailbox) SelfDestruct(ctx context.Context) error { return m.keyring.SelfDestruct(ctx) }

// guestKey resolves tag to a public key or fails with an InvariantError
// before any network I/O, per spec §4.5.3.
func (m *Mailbox) guestKey(tag string) ([zaxcrypto.KeyLen]byte, error) {
	pub, ok := m.keyring.GetGuestKey(tag)
	if !ok {
		return pub, zaxerr.Invariant("mailbox.guestKey", "unknown guest tag "+tag)
	}
	return pub, nil
}

// hpkOf computes base64(h2(pub)), the relay-facing address of pub.
func hpkOf(pub [zaxcrypto.KeyLen]byte) string {
	sum := zaxcrypto.H2(pub[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (m *Mailbox) urlLock(url string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[url]
	if !ok {
		l = &sync.Mutex{}
		m.locks[url] = l
	}
	return l
}

// session returns (creating if necessary) this Mailbox's Session for
// url. Per spec §4.4/§9 a Session is a singleton per (mailbox, url).
func (m *Mailbox) session(url string) *relay.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[url]
	if !ok {
		commKeys := zaxcrypto.Keys{Public: m.GetPubCommKey(), Secret: m.GetPrivateCommKey()}
		s = relay.New(url, m.doer, commKeys, m.relayCfg, m.logger)
		m.sessions[url] = s
	}
	return s
}

// prepareRelay acquires url's connection lock, completes the handshake
// if needed, and releases it before returning — spec §4.5.2. The lock
// only serializes handshake attempts; the returned Session's own
// mutex governs subsequent Command calls.
func (m *Mailbox) prepareRelay(ctx context.Context, url string) (*relay.Session, error) {
	lock := m.urlLock(url)
	lock.Lock()
	defer lock.Unlock()

	s := m.session(url)
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
