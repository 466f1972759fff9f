package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.StorageRoot)
	require.Equal(t, 32, cfg.Relay.TokenLen)
}

func TestLoadFromToml(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "zaxmail.toml")
	body := `storage_root = "/tmp/zax-store"
relay_token_len = 16
relay_ajax_timeout = 3
`
	require.NoError(t, os.WriteFile(tomlPath, []byte(body), 0o600))

	cfg, err := Load(tomlPath, "")
	require.NoError(t, err)
	require.Equal(t, "/tmp/zax-store", cfg.StorageRoot)
	require.Equal(t, 16, cfg.Relay.TokenLen)
	require.Equal(t, 3*time.Second, cfg.Relay.AjaxTimeout)
}

func TestLoadEnvOverridesToml(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "zaxmail.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`relay_token_len = 16`), 0o600))

	t.Setenv("ZAXMAIL_RELAY_TOKEN_LEN", "48")
	cfg, err := Load(tomlPath, "")
	require.NoError(t, err)
	require.Equal(t, 48, cfg.Relay.TokenLen)
}

func TestLoadOptionOverridesEverything(t *testing.T) {
	t.Setenv("ZAXMAIL_RELAY_TOKEN_LEN", "48")
	cfg, err := Load("", "", WithStorageRoot("/custom/root"))
	require.NoError(t, err)
	require.Equal(t, "/custom/root", cfg.StorageRoot)
	require.Equal(t, 48, cfg.Relay.TokenLen)
}

func TestLoadMissingEnvFileIsNotAnError(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
