package zaxcli

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config is the CLI's own persisted state: the identity it's currently
// acting as, which relay to talk to, and a local guest address book —
// the Zax-shaped analogue of the teacher's client.Config (current
// username, server URL, known users).
type Config struct {
	CurrentIdentity string            `json:"current_identity"`
	RelayURL        string            `json:"relay_url"`
	StorageRoot     string            `json:"storage_root"`
	Guests          map[string]string `json:"guests"` // tag -> base64 public key
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				RelayURL: "http://localhost:8080",
				Guests:   make(map[string]string),
			}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Guests == nil {
		cfg.Guests = make(map[string]string)
	}
	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "zaxmail", "config.json"), nil
}
