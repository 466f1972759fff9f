// Package zaxkv is the symmetric encrypted envelope around an
// external storage.Driver, per spec §4.2: every value is stored as a
// (ciphertext, nonce) pair under a storage-wide symmetric key
// persisted alongside.
package zaxkv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/internal/zaxerr"
	"github.com/vault12/zaxmail/storage"
)

const storageKeySlot = "storage_key"
const nonceTagPrefix = "__nc."

// Store is a symmetric-encrypted key-value namespace over a
// storage.Driver, identified by id (spec §6's persisted-state prefix).
type Store struct {
	driver storage.Driver
	id     string
	key    [zaxcrypto.SecretboxKeyLen]byte
}

// prefixed namespaces tag under this store's id as "tag.id", which
// diverges from spec §6's documented on-wire key layout
// ("tag.id.v2.stor.vlt12"): the trailing ".v2.stor.vlt12" suffix exists
// in the original to share a storage namespace with other, unrelated
// client versions/products, and this Store always owns its
// storage.Driver outright, so there's nothing to disambiguate from.
func (s *Store) prefixed(tag string) string {
	return tag + "." + s.id
}

// Open loads (or, on first use, generates and persists) the storage
// key for id, then returns a Store bound to it.
func Open(ctx context.Context, driver storage.Driver, id string) (*Store, error) {
	if driver == nil {
		return nil, zaxerr.Invariant("zaxkv.Open", "nil storage driver")
	}
	s := &Store{driver: driver, id: id}

	slot := storageKeySlot + "." + id
	raw, err := driver.Get(ctx, slot)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		keyBytes, err := zaxcrypto.RandomBytes(zaxcrypto.SecretboxKeyLen)
		if err != nil {
			return nil, err
		}
		copy(s.key[:], keyBytes)
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(keyBytes))
		if err != nil {
			return nil, err
		}
		if err := driver.Set(ctx, slot, string(encoded)); err != nil {
			return nil, err
		}
		return s, nil
	}

	var b64 string
	if err := json.Unmarshal([]byte(raw), &b64); err != nil {
		return nil, fmt.Errorf("zaxkv: corrupt storage key for %s: %w", id, err)
	}
	keyBytes, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("zaxkv: corrupt storage key for %s: %w", id, err)
	}
	copy(s.key[:], keyBytes)
	return s, nil
}

// Save serializes value to JSON, secretbox-encrypts it under the
// storage key with a fresh nonce, and writes both the ciphertext row
// and its companion nonce row.
func (s *Store) Save(ctx context.Context, tag string, value any) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return err
	}

	nonce, err := zaxcrypto.MakeNonce(nil)
	if err != nil {
		return err
	}
	ct := zaxcrypto.Secretbox(plain, nonce, s.key)

	base := s.prefixed(tag)
	if err := s.driver.Set(ctx, base, base64.StdEncoding.EncodeToString(ct)); err != nil {
		return err
	}
	return s.driver.Set(ctx, nonceTagPrefix+base, base64.StdEncoding.EncodeToString(nonce[:]))
}

// Get decrypts and JSON-unmarshals the value stored under tag into
// out. It returns (false, nil) if either the ciphertext or nonce row
// is missing, and a zaxerr.Crypto error if decryption fails
// authentication.
func (s *Store) Get(ctx context.Context, tag string, out any) (bool, error) {
	base := s.prefixed(tag)

	ctB64, err := s.driver.Get(ctx, base)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	nonceB64, err := s.driver.Get(ctx, nonceTagPrefix+base)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return false, fmt.Errorf("zaxkv: corrupt ciphertext for %s: %w", tag, err)
	}
	nonceRaw, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonceRaw) != zaxcrypto.NonceLen {
		return false, fmt.Errorf("zaxkv: corrupt nonce for %s", tag)
	}
	var nonce [zaxcrypto.NonceLen]byte
	copy(nonce[:], nonceRaw)

	plain, err := zaxcrypto.SecretboxOpen(ct, nonce, s.key)
	if err != nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(plain, out); err != nil {
			return false, fmt.Errorf("zaxkv: corrupt payload for %s: %w", tag, err)
		}
	}
	return true, nil
}

// Remove deletes both the ciphertext and nonce rows for tag.
func (s *Store) Remove(ctx context.Context, tag string) error {
	base := s.prefixed(tag)
	if err := s.driver.Remove(ctx, base); err != nil {
		return err
	}
	return s.driver.Remove(ctx, nonceTagPrefix+base)
}

// SelfDestruct removes the storage-key slot, rendering every existing
// row in this store irrecoverable.
func (s *Store) SelfDestruct(ctx context.Context) error {
	return s.driver.Remove(ctx, storageKeySlot+"."+s.id)
}
