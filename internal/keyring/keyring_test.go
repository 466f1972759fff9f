package keyring

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/storage"
)

func newDriver(t *testing.T) storage.Driver {
	d, err := storage.NewFSDriver(filepath.Join(t.TempDir(), "kv.json"))
	require.NoError(t, err)
	return d
}

func TestNewGeneratesAndPersistsCommKey(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)

	k1, err := New(ctx, driver, "alice")
	require.NoError(t, err)
	pub1 := k1.GetPubCommKey()

	k2, err := New(ctx, driver, "alice")
	require.NoError(t, err)
	require.Equal(t, pub1, k2.GetPubCommKey())
}

func TestAddGuestHpkInvariant(t *testing.T) {
	ctx := context.Background()
	k, err := New(ctx, newDriver(t), "alice")
	require.NoError(t, err)

	guestKeys, err := zaxcrypto.Keypair()
	require.NoError(t, err)

	require.NoError(t, k.AddGuest(ctx, "bob", guestKeys.Public))

	got, ok := k.GetGuestKey("bob")
	require.True(t, ok)
	require.Equal(t, guestKeys.Public, got)

	hpkBytes := zaxcrypto.H2(guestKeys.Public[:])
	hpk := base64.StdEncoding.EncodeToString(hpkBytes[:])
	tag, ok := k.GetTagByHpk(hpk)
	require.True(t, ok)
	require.Equal(t, "bob", tag)
}

func TestRemoveGuest(t *testing.T) {
	ctx := context.Background()
	k, err := New(ctx, newDriver(t), "alice")
	require.NoError(t, err)

	guestKeys, _ := zaxcrypto.Keypair()
	require.NoError(t, k.AddGuest(ctx, "bob", guestKeys.Public))
	require.NoError(t, k.RemoveGuest(ctx, "bob"))

	_, ok := k.GetGuestKey("bob")
	require.False(t, ok)
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)
	k, err := New(ctx, driver, "alice")
	require.NoError(t, err)

	bob, _ := zaxcrypto.Keypair()
	carol, _ := zaxcrypto.Keypair()
	require.NoError(t, k.AddGuest(ctx, "bob", bob.Public))
	require.NoError(t, k.AddGuest(ctx, "carol", carol.Public))

	backup, err := k.Backup()
	require.NoError(t, err)

	restored, err := FromBackup(ctx, storageMust(t), "alice-restored", backup)
	require.NoError(t, err)

	require.Equal(t, k.GetPubCommKey(), restored.GetPubCommKey())

	restoredBackup, err := restored.Backup()
	require.NoError(t, err)
	require.JSONEq(t, backup, restoredBackup)
}

func storageMust(t *testing.T) storage.Driver {
	return newDriver(t)
}

func TestSetCommFromSeedDeterministic(t *testing.T) {
	ctx := context.Background()
	k, err := New(ctx, newDriver(t), "alice")
	require.NoError(t, err)

	seed := []byte("fixed seed bytes")
	require.NoError(t, k.SetCommFromSeed(ctx, seed))
	pub1 := k.GetPubCommKey()

	k2, err := New(ctx, newDriver(t), "bob")
	require.NoError(t, err)
	require.NoError(t, k2.SetCommFromSeed(ctx, seed))

	require.Equal(t, pub1, k2.GetPubCommKey())
}

func TestSelfDestructClearsKeyringRows(t *testing.T) {
	ctx := context.Background()
	driver := newDriver(t)
	k, err := New(ctx, driver, "alice")
	require.NoError(t, err)

	bob, _ := zaxcrypto.Keypair()
	require.NoError(t, k.AddGuest(ctx, "bob", bob.Public))
	require.NoError(t, k.SelfDestruct(ctx))

	k2, err := New(ctx, driver, "alice")
	require.NoError(t, err)
	// comm key row gone, so a fresh one was generated - different from k's.
	require.NotEqual(t, k.GetPubCommKey(), k2.GetPubCommKey())
	_, ok := k2.GetGuestKey("bob")
	require.False(t, ok)
}
