// Package keyring holds an identity's long-term communication keypair
// plus its guest address book, per spec §4.3.
package keyring

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
	"github.com/vault12/zaxmail/internal/zaxkv"
	"github.com/vault12/zaxmail/storage"
)

const (
	commKeyTag      = "comm_key"
	guestRegistryTag = "guest_registry"
	backupCommKeyTag = "__::commKey::__"
)

// GuestRecord is a guest's public key plus its derived relay address.
type GuestRecord struct {
	PK  string `json:"pk"`
	HPK string `json:"hpk"`
}

// persistedCommKey is the JSON shape the comm key is stored under.
type persistedCommKey struct {
	Public string `json:"pk"`
	Secret string `json:"sk"`
}

// Keyring is the owner's communication keypair plus the guestTag ->
// GuestRecord mapping, backed by an encrypted zaxkv.Store.
type Keyring struct {
	mu      sync.RWMutex
	store   *zaxkv.Store
	id      string
	commKey zaxcrypto.Keys
	guests  map[string]GuestRecord
}

// New opens (or creates) the keyring for id: loads the comm key if one
// is already persisted, otherwise generates and persists a fresh pair.
func New(ctx context.Context, driver storage.Driver, id string) (*Keyring, error) {
	store, err := zaxkv.Open(ctx, driver, id)
	if err != nil {
		return nil, err
	}
	k := &Keyring{store: store, id: id, guests: make(map[string]GuestRecord)}

	var pck persistedCommKey
	ok, err := store.Get(ctx, commKeyTag, &pck)
	if err != nil {
		return nil, err
	}
	if ok {
		keys, err := decodeCommKey(pck)
		if err != nil {
			return nil, err
		}
		k.commKey = keys
	} else {
		keys, err := zaxcrypto.Keypair()
		if err != nil {
			return nil, err
		}
		k.commKey = keys
		if err := k.persistCommKey(ctx); err != nil {
			return nil, err
		}
	}

	var reg []registryEntry
	if ok, err := store.Get(ctx, guestRegistryTag, &reg); err != nil {
		return nil, err
	} else if ok {
		for _, e := range reg {
			k.guests[e.Tag] = e.Record
		}
	}
	return k, nil
}

type registryEntry struct {
	Tag    string      `json:"tag"`
	Record GuestRecord `json:"record"`
}

func decodeCommKey(pck persistedCommKey) (zaxcrypto.Keys, error) {
	pub, err := base64.StdEncoding.DecodeString(pck.Public)
	if err != nil || len(pub) != zaxcrypto.KeyLen {
		return zaxcrypto.Keys{}, zaxerr.Invariant("keyring.decodeCommKey", "corrupt public key")
	}
	sec, err := base64.StdEncoding.DecodeString(pck.Secret)
	if err != nil || len(sec) != zaxcrypto.KeyLen {
		return zaxcrypto.Keys{}, zaxerr.Invariant("keyring.decodeCommKey", "corrupt secret key")
	}
	var keys zaxcrypto.Keys
	copy(keys.Public[:], pub)
	copy(keys.Secret[:], sec)
	return keys, nil
}

func (k *Keyring) persistCommKey(ctx context.Context) error {
	pck := persistedCommKey{
		Public: base64.StdEncoding.EncodeToString(k.commKey.Public[:]),
		Secret: base64.StdEncoding.EncodeToString(k.commKey.Secret[:]),
	}
	return k.store.Save(ctx, commKeyTag, pck)
}

func (k *Keyring) persistGuestsLocked(ctx context.Context) error {
	reg := make([]registryEntry, 0, len(k.guests))
	for tag, rec := range k.guests {
		reg = append(reg, registryEntry{Tag: tag, Record: rec})
	}
	return k.store.Save(ctx, guestRegistryTag, reg)
}

// AddGuest computes hpk = h2(publicKey) and stores {pk, hpk} under tag,
// overwriting any existing entry for that tag.
func (k *Keyring) AddGuest(ctx context.Context, tag string, publicKey [zaxcrypto.KeyLen]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	hpk := zaxcrypto.H2(publicKey[:])
	k.guests[tag] = GuestRecord{
		PK:  base64.StdEncoding.EncodeToString(publicKey[:]),
		HPK: base64.StdEncoding.EncodeToString(hpk[:]),
	}
	return k.persistGuestsLocked(ctx)
}

// RemoveGuest removes tag from the registry and persists the change.
func (k *Keyring) RemoveGuest(ctx context.Context, tag string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.guests, tag)
	return k.persistGuestsLocked(ctx)
}

// GetPubCommKey returns the owner's long-term public key.
func (k *Keyring) GetPubCommKey() [zaxcrypto.KeyLen]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.commKey.Public
}

// GetPrivateCommKey returns the owner's long-term secret key.
func (k *Keyring) GetPrivateCommKey() [zaxcrypto.KeyLen]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.commKey.Secret
}

// GetHpk returns base64(h2(publicCommKey)), the owner's relay address.
func (k *Keyring) GetHpk() string {
	pub := k.GetPubCommKey()
	hpk := zaxcrypto.H2(pub[:])
	return base64.StdEncoding.EncodeToString(hpk[:])
}

// GetGuestKey returns tag's public key, or ok=false if unknown.
func (k *Keyring) GetGuestKey(tag string) (pub [zaxcrypto.KeyLen]byte, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, found := k.guests[tag]
	if !found {
		return pub, false
	}
	raw, err := base64.StdEncoding.DecodeString(rec.PK)
	if err != nil || len(raw) != zaxcrypto.KeyLen {
		return pub, false
	}
	copy(pub[:], raw)
	return pub, true
}

// GetTagByHpk performs a linear scan for the guest tag whose derived
// hpk matches. Tag counts are expected in the hundreds, so this is
// acceptable per spec §4.3.
func (k *Keyring) GetTagByHpk(hpk string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for tag, rec := range k.guests {
		if rec.HPK == hpk {
			return tag, true
		}
	}
	return "", false
}

// SetCommFromSeed replaces the comm keypair with one derived from seed
// and persists it.
func (k *Keyring) SetCommFromSeed(ctx context.Context, seed []byte) error {
	keys, err := zaxcrypto.KeypairFromSeed(seed)
	if err != nil {
		return err
	}
	return k.setCommKey(ctx, keys)
}

// SetCommFromSecKey replaces the comm keypair, deriving the public
// half from sk, and persists it.
func (k *Keyring) SetCommFromSecKey(ctx context.Context, sk [zaxcrypto.KeyLen]byte) error {
	keys, err := zaxcrypto.KeypairFromSecretKey(sk)
	if err != nil {
		return err
	}
	return k.setCommKey(ctx, keys)
}

func (k *Keyring) setCommKey(ctx context.Context, keys zaxcrypto.Keys) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.commKey = keys
	return k.persistCommKey(ctx)
}

// Backup serializes the keyring as a JSON string of the form
// {"__::commKey::__": base64(sk), <tag>: base64(pk), ...}.
func (k *Keyring) Backup() (string, error) {
	k.mu.RLock()
	out := map[string]string{
		backupCommKeyTag: base64.StdEncoding.EncodeToString(k.commKey.Secret[:]),
	}
	for tag, rec := range k.guests {
		out[tag] = rec.PK
	}
	k.mu.RUnlock()

	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FromBackup recreates a keyring under id from a serialized backup
// string: sets the comm key from the embedded secret, then adds every
// other entry as a guest. An entry keyed by the reserved comm-key tag
// is never treated as a guest.
func FromBackup(ctx context.Context, driver storage.Driver, id string, backupString string) (*Keyring, error) {
	var backup map[string]string
	if err := json.Unmarshal([]byte(backupString), &backup); err != nil {
		return nil, zaxerr.Invariant("keyring.FromBackup", "malformed backup string")
	}

	skB64, ok := backup[backupCommKeyTag]
	if !ok {
		return nil, zaxerr.Invariant("keyring.FromBackup", "backup missing comm key")
	}
	skRaw, err := base64.StdEncoding.DecodeString(skB64)
	if err != nil || len(skRaw) != zaxcrypto.KeyLen {
		return nil, zaxerr.Invariant("keyring.FromBackup", "corrupt comm key in backup")
	}

	k, err := New(ctx, driver, id)
	if err != nil {
		return nil, err
	}
	var sk [zaxcrypto.KeyLen]byte
	copy(sk[:], skRaw)
	if err := k.SetCommFromSecKey(ctx, sk); err != nil {
		return nil, err
	}

	for tag, pkB64 := range backup {
		if tag == backupCommKeyTag {
			continue
		}
		pkRaw, err := base64.StdEncoding.DecodeString(pkB64)
		if err != nil || len(pkRaw) != zaxcrypto.KeyLen {
			return nil, zaxerr.Invariant("keyring.FromBackup", "corrupt guest key for "+tag)
		}
		var pub [zaxcrypto.KeyLen]byte
		copy(pub[:], pkRaw)
		if err := k.AddGuest(ctx, tag, pub); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// SelfDestruct removes every keyring-owned row (the comm key and the
// guest registry) from the backing store.
func (k *Keyring) SelfDestruct(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.store.Remove(ctx, commKeyTag); err != nil {
		return err
	}
	return k.store.Remove(ctx, guestRegistryTag)
}
