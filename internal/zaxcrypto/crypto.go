// Package zaxcrypto is the thin, uniform wrapper over NaCl primitives
// that the rest of the mailbox stack is built on: secretbox, box,
// Curve25519 key generation, SHA-256, and the h2 double-hash and
// timestamped-nonce constructions spec.md §4.1 requires.
package zaxcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/vault12/zaxmail/internal/zaxerr"
)

const (
	// KeyLen is the width of every Curve25519 public/secret key.
	KeyLen = 32
	// SecretboxKeyLen is the width of a secretbox symmetric key.
	SecretboxKeyLen = 32
	// NonceLen is the width of every box/secretbox nonce.
	NonceLen = 24
)

// Keys is a Curve25519 keypair. Guest-only entries hold just Public.
type Keys struct {
	Public [KeyLen]byte
	Secret [KeyLen]byte
}

// RandomBytes draws n cryptographically random bytes, failing with
// zaxerr.Timeout (the RNG sanity-check failure mode from spec §7) if
// the reader returns short.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return nil, zaxerr.Timeout("zaxcrypto.RandomBytes", err)
	}
	if got != n {
		slog.Warn("zaxcrypto: short random read", "want", n, "got", got)
		return nil, zaxerr.Timeout("zaxcrypto.RandomBytes", io.ErrShortBuffer)
	}
	return b, nil
}

// Keypair generates a fresh random Curve25519 keypair.
func Keypair() (Keys, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keys{}, zaxerr.Timeout("zaxcrypto.Keypair", err)
	}
	return Keys{Public: *pub, Secret: *priv}, nil
}

// KeypairFromSecretKey derives the public half of sk by scalar-multiplying
// the Curve25519 base point.
func KeypairFromSecretKey(sk [KeyLen]byte) (Keys, error) {
	var pub [KeyLen]byte
	if err := curve25519Base(&pub, &sk); err != nil {
		return Keys{}, zaxerr.Invariant("zaxcrypto.KeypairFromSecretKey", err.Error())
	}
	return Keys{Public: pub, Secret: sk}, nil
}

// KeypairFromSeed derives a keypair deterministically from an
// arbitrary-length seed: sk = sha512(seed)[:32], per spec §4.1.
func KeypairFromSeed(seed []byte) (Keys, error) {
	sum := sha512.Sum512(seed)
	var sk [KeyLen]byte
	copy(sk[:], sum[:KeyLen])
	return KeypairFromSecretKey(sk)
}

func curve25519Base(dst, scalar *[KeyLen]byte) error {
	out, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return err
	}
	copy(dst[:], out)
	return nil
}

// Sha256 returns the SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// H2 computes the Dodis hash-of-hash construction:
// sha256(sha256(64 zero bytes || m)).
func H2(m []byte) [32]byte {
	var pad [64]byte
	inner := sha256.New()
	inner.Write(pad[:])
	inner.Write(m)
	return sha256.Sum256(inner.Sum(nil))
}

// ZeroBits reports whether the rightmost d bits of sum are all zero,
// where sum[0] holds the lowest-order bits and each successive byte
// the next higher 8 bits (spec §4.4.2's arrayZeroBits predicate).
func ZeroBits(sum [32]byte, d uint8) bool {
	fullBytes := int(d) / 8
	remBits := int(d) % 8
	for i := 0; i < fullBytes; i++ {
		if sum[i] != 0 {
			return false
		}
	}
	if remBits == 0 {
		return true
	}
	mask := byte(1<<remBits) - 1
	return sum[fullBytes]&mask == 0
}

// Secretbox authenticated-encrypts msg under key with nonce.
func Secretbox(msg []byte, nonce [NonceLen]byte, key [SecretboxKeyLen]byte) []byte {
	return secretbox.Seal(nil, msg, &nonce, &key)
}

// SecretboxOpen authenticates and decrypts ct. A tampered or
// mismatched input returns zaxerr.Crypto.
func SecretboxOpen(ct []byte, nonce [NonceLen]byte, key [SecretboxKeyLen]byte) ([]byte, error) {
	msg, ok := secretbox.Open(nil, ct, &nonce, &key)
	if !ok {
		return nil, zaxerr.Crypto("zaxcrypto.SecretboxOpen", errAuthFailed)
	}
	return msg, nil
}

// Box public-key-encrypts msg from skSend to pkRecv under nonce.
func Box(msg []byte, nonce [NonceLen]byte, pkRecv, skSend [KeyLen]byte) []byte {
	return box.Seal(nil, msg, &nonce, &pkRecv, &skSend)
}

// BoxOpen verifies and decrypts ct, sent by pkSend to skRecv.
func BoxOpen(ct []byte, nonce [NonceLen]byte, pkSend, skRecv [KeyLen]byte) ([]byte, error) {
	msg, ok := box.Open(nil, ct, &nonce, &pkSend, &skRecv)
	if !ok {
		return nil, zaxerr.Crypto("zaxcrypto.BoxOpen", errAuthFailed)
	}
	return msg, nil
}

var errAuthFailed = authError{}

type authError struct{}

func (authError) Error() string { return "nacl: authentication failed" }

// MakeNonce builds a 24-byte nonce whose first 8 bytes (or 12, if extra
// is supplied) are a timestamp header overwriting a fully random nonce,
// per spec §3/§4.1:
//  1. start from 24 random bytes
//  2. zero the first 8 (or 12) bytes
//  3. write the current Unix time in whole seconds big-endian, right-aligned, into [0:8)
//  4. if extra is supplied, write it big-endian into [8:12)
func MakeNonce(extra *uint32) ([NonceLen]byte, error) {
	raw, err := RandomBytes(NonceLen)
	if err != nil {
		return [NonceLen]byte{}, err
	}
	var nonce [NonceLen]byte
	copy(nonce[:], raw)

	headerLen := 8
	if extra != nil {
		headerLen = 12
	}
	for i := 0; i < headerLen; i++ {
		nonce[i] = 0
	}

	now := uint64(time.Now().Unix())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], now)
	copy(nonce[0:8], tsBuf[:])

	if extra != nil {
		var exBuf [4]byte
		binary.BigEndian.PutUint32(exBuf[:], *extra)
		copy(nonce[8:12], exBuf[:])
	}
	return nonce, nil
}
