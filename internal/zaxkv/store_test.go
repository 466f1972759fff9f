package zaxkv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vault12/zaxmail/storage"
)

func newTestStore(t *testing.T, id string) *Store {
	driver, err := storage.NewFSDriver(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	s, err := Open(context.Background(), driver, id)
	require.NoError(t, err)
	return s
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice")

	want := sample{Name: "hello", Count: 3}
	require.NoError(t, s.Save(ctx, "thing", want))

	var got sample
	ok, err := s.Get(ctx, "thing", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice")

	var got sample
	ok, err := s.Get(ctx, "nope", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveThenGetMisses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "alice")

	require.NoError(t, s.Save(ctx, "thing", sample{Name: "x"}))
	require.NoError(t, s.Remove(ctx, "thing"))

	var got sample
	ok, err := s.Get(ctx, "thing", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenPersistsStorageKeyAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	driver, err := storage.NewFSDriver(path)
	require.NoError(t, err)
	s1, err := Open(ctx, driver, "alice")
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, "thing", sample{Name: "persisted"}))

	driver2, err := storage.NewFSDriver(path)
	require.NoError(t, err)
	s2, err := Open(ctx, driver2, "alice")
	require.NoError(t, err)

	var got sample
	ok, err := s2.Get(ctx, "thing", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", got.Name)
}

func TestTamperedCiphertextIsCryptoError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	driver, err := storage.NewFSDriver(path)
	require.NoError(t, err)
	s, err := Open(ctx, driver, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "thing", sample{Name: "x"}))

	// Corrupt the ciphertext row directly through the driver.
	require.NoError(t, driver.Set(ctx, "thing.alice", "AAAAAAAAAAAAAAAAAAAAAA=="))

	var got sample
	_, err = s.Get(ctx, "thing", &got)
	require.Error(t, err)
}

func TestSelfDestructMakesRowsUnreadable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	driver, err := storage.NewFSDriver(path)
	require.NoError(t, err)
	s, err := Open(ctx, driver, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "thing", sample{Name: "x"}))

	require.NoError(t, s.SelfDestruct(ctx))

	s2, err := Open(ctx, driver, "alice")
	require.NoError(t, err)
	var got sample
	ok, err := s2.Get(ctx, "thing", &got)
	// New storage key generated; old ciphertext row fails auth.
	require.Error(t, err)
	require.False(t, ok)
}
