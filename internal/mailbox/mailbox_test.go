package mailbox

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vault12/zaxmail/internal/testrelay"
	"github.com/vault12/zaxmail/storage"
)

func newDriver(t *testing.T) storage.Driver {
	t.Helper()
	d, err := storage.NewFSDriver(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return d
}

func newRelay(t *testing.T, difficulty uint8) string {
	t.Helper()
	r := testrelay.New(nil)
	r.Difficulty = difficulty
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newBox(t *testing.T, identity, url string) *Mailbox {
	t.Helper()
	doer := storage.NewHTTPDoer(2 * time.Second)
	m, err := New(context.Background(), identity, newDriver(t), WithDoer(doer))
	require.NoError(t, err)
	return m
}

func TestExchangeAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)

	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))
	require.NoError(t, bob.AddGuest(ctx, "alice", alice.GetPubCommKey()))

	_, err := alice.Upload(ctx, url, "bob", "hello bob", true)
	require.NoError(t, err)

	msgs, err := bob.Download(ctx, url)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, KindText, msgs[0].Kind)
	require.Equal(t, "hello bob", msgs[0].Data)
	require.Equal(t, "alice", msgs[0].SenderTag)
}

func TestSeededIdentityIsDeterministic(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)
	doer := storage.NewHTTPDoer(2 * time.Second)

	seed := []byte("deterministic seed material")
	m1, err := FromSeed(ctx, "alice", newDriver(t), seed, WithDoer(doer))
	require.NoError(t, err)
	m2, err := FromSeed(ctx, "alice2", newDriver(t), seed, WithDoer(doer))
	require.NoError(t, err)

	require.Equal(t, m1.GetPubCommKey(), m2.GetPubCommKey())
	require.Equal(t, m1.GetHpk(), m2.GetHpk())
	_ = url
}

func TestUnencryptedUploadPassesThrough(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)
	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))
	require.NoError(t, bob.AddGuest(ctx, "alice", alice.GetPubCommKey()))

	_, err := alice.Upload(ctx, url, "bob", "plain text", false)
	require.NoError(t, err)

	msgs, err := bob.Download(ctx, url)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, KindText, msgs[0].Kind)
	require.Equal(t, "plain text", msgs[0].Data)
}

func TestMessageFromUnknownSenderIsPlain(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)
	// Bob never adds alice as a guest.
	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))

	_, err := alice.Upload(ctx, url, "bob", "hello stranger", true)
	require.NoError(t, err)

	msgs, err := bob.Download(ctx, url)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, KindPlain, msgs[0].Kind)
	require.NotEmpty(t, msgs[0].From)
}

func TestCountMessageStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)

	alice := newBox(t, "alice", url)
	bob := newBox(t, "bob", url)
	require.NoError(t, alice.AddGuest(ctx, "bob", bob.GetPubCommKey()))
	require.NoError(t, bob.AddGuest(ctx, "alice", alice.GetPubCommKey()))

	token, err := alice.Upload(ctx, url, "bob", "one", true)
	require.NoError(t, err)

	n, err := bob.Count(ctx, url)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	status, err := bob.MessageStatus(ctx, url, token)
	require.NoError(t, err)
	require.Equal(t, -1, status)

	msgs, err := bob.Download(ctx, url)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	remaining, err := bob.Delete(ctx, url, []string{msgs[0].Nonce})
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	status, err = bob.MessageStatus(ctx, url, token)
	require.NoError(t, err)
	require.Equal(t, -2, status)
}

func TestUploadUnknownGuestFailsFastWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)
	alice := newBox(t, "alice", url)

	_, err := alice.Upload(ctx, url, "nobody", "hi", true)
	require.Error(t, err)
}

func TestSessionIsSingletonPerMailboxAndURL(t *testing.T) {
	ctx := context.Background()
	url := newRelay(t, 0)
	alice := newBox(t, "alice", url)

	s1, err := alice.prepareRelay(ctx, url)
	require.NoError(t, err)
	s2, err := alice.prepareRelay(ctx, url)
	require.NoError(t, err)
	require.Same(t, s1, s2)
}
