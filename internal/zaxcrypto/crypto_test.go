package zaxcrypto

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeypairFromSecretKeyRoundTrip(t *testing.T) {
	kp, err := Keypair()
	require.NoError(t, err)

	derived, err := KeypairFromSecretKey(kp.Secret)
	require.NoError(t, err)
	require.Equal(t, kp.Public, derived.Public)
}

func TestKeypairFromSeedIsPure(t *testing.T) {
	seed := []byte("a deterministic seed value")

	a, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	b, err := KeypairFromSeed(seed)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestBoxRoundTrip(t *testing.T) {
	alice, err := Keypair()
	require.NoError(t, err)
	bob, err := Keypair()
	require.NoError(t, err)

	nonce, err := MakeNonce(nil)
	require.NoError(t, err)

	msg := []byte("hello, bob")
	ct := Box(msg, nonce, bob.Public, alice.Secret)
	pt, err := BoxOpen(ct, nonce, alice.Public, bob.Secret)
	require.NoError(t, err)
	require.True(t, bytes.Equal(msg, pt))
}

func TestBoxOpenFailsOnTamper(t *testing.T) {
	alice, _ := Keypair()
	bob, _ := Keypair()
	nonce, _ := MakeNonce(nil)

	ct := Box([]byte("secret"), nonce, bob.Public, alice.Secret)
	ct[0] ^= 0xFF

	_, err := BoxOpen(ct, nonce, alice.Public, bob.Secret)
	require.Error(t, err)
}

func TestSecretboxRoundTrip(t *testing.T) {
	var key [SecretboxKeyLen]byte
	copy(key[:], mustRandom(t, SecretboxKeyLen))

	nonce, err := MakeNonce(nil)
	require.NoError(t, err)

	msg := []byte("chunked file payload")
	ct := Secretbox(msg, nonce, key)
	pt, err := SecretboxOpen(ct, nonce, key)
	require.NoError(t, err)
	require.True(t, bytes.Equal(msg, pt))
}

func TestH2Deterministic(t *testing.T) {
	m := []byte("Heizölrückstoßabdämpfung")
	a := H2(m)
	b := H2(m)
	require.Equal(t, a, b)
	require.NotEqual(t, a, Sha256(m))
}

func TestMakeNonceTimestampHeader(t *testing.T) {
	nonce, err := MakeNonce(nil)
	require.NoError(t, err)

	now := uint64(time.Now().Unix())
	ts := beUint64(nonce[:8])
	require.InDelta(t, float64(now), float64(ts), 5)
}

func TestMakeNonceExtra(t *testing.T) {
	var extra uint32 = 0xCAFEBABE
	nonce, err := MakeNonce(&extra)
	require.NoError(t, err)

	got := beUint32(nonce[8:12])
	require.Equal(t, extra, got)
}

func TestZeroBitsPredicate(t *testing.T) {
	var sum [32]byte
	require.True(t, ZeroBits(sum, 32))

	sum[0] = 0x01
	require.False(t, ZeroBits(sum, 1))
	require.True(t, ZeroBits(sum, 0))

	sum[0] = 0xF0
	require.True(t, ZeroBits(sum, 4))
	require.False(t, ZeroBits(sum, 5))
}

func mustRandom(t *testing.T, n int) []byte {
	b, err := RandomBytes(n)
	require.NoError(t, err)
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
