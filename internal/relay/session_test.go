package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vault12/zaxmail/internal/testrelay"
	"github.com/vault12/zaxmail/internal/zaxcrypto"
	"github.com/vault12/zaxmail/storage"
)

func hpkOf(pub [zaxcrypto.KeyLen]byte) string {
	sum := zaxcrypto.H2(pub[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}

func newTestServer(t *testing.T, difficulty uint8) (*httptest.Server, *testrelay.Relay) {
	t.Helper()
	r := testrelay.New(nil)
	r.Difficulty = difficulty
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, r
}

func newTestSession(t *testing.T, url string) *Session {
	t.Helper()
	keys, err := zaxcrypto.Keypair()
	require.NoError(t, err)
	doer := storage.NewHTTPDoer(2 * time.Second)
	cfg := DefaultConfig()
	cfg.AjaxTimeout = 2 * time.Second
	return New(url, doer, keys, cfg, nil)
}

func TestSessionHandshakeZeroDifficulty(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	s := newTestSession(t, srv.URL)

	require.False(t, s.Connected())
	require.NoError(t, s.EnsureConnected(context.Background()))
	require.True(t, s.Connected())
}

func TestSessionHandshakeWithProofOfWork(t *testing.T) {
	srv, _ := newTestServer(t, 6)
	s := newTestSession(t, srv.URL)

	require.NoError(t, s.EnsureConnected(context.Background()))
	require.True(t, s.Connected())
}

func TestSessionCommandCount(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	s := newTestSession(t, srv.URL)
	require.NoError(t, s.EnsureConnected(context.Background()))

	lines, err := s.Command(context.Background(), hpkOf(s.commKeys.Public), "count", nil, nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	plain, err := s.DecryptEnvelope(lines[0], lines[1])
	require.NoError(t, err)
	var n int
	require.NoError(t, json.Unmarshal(plain, &n))
	require.Equal(t, 0, n)
}

func TestSessionCommandRejectsUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	s := newTestSession(t, srv.URL)
	require.NoError(t, s.EnsureConnected(context.Background()))

	_, err := s.Command(context.Background(), hpkOf(s.commKeys.Public), "bogus", nil, nil)
	require.Error(t, err)
}

func TestSessionReconnectsAfterReset(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	s := newTestSession(t, srv.URL)
	require.NoError(t, s.EnsureConnected(context.Background()))

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	require.False(t, s.Connected())

	require.NoError(t, s.EnsureConnected(context.Background()))
	require.True(t, s.Connected())
}

func TestSessionStartSessionNetworkError(t *testing.T) {
	s := newTestSession(t, "http://127.0.0.1:1")
	err := s.EnsureConnected(context.Background())
	require.Error(t, err)
}

func TestSessionUnexpectedStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start_session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := newTestSession(t, srv.URL)
	err := s.EnsureConnected(context.Background())
	require.Error(t, err)
}
