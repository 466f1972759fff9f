// Package zaxcli is the cobra command tree exercising internal/mailbox
// end to end — register an identity, add guests, send and receive
// messages and files — the Zax-shaped continuation of the teacher's own
// internal/client CLI tree.
package zaxcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vault12/zaxmail/internal/config"
	"github.com/vault12/zaxmail/internal/mailbox"
	"github.com/vault12/zaxmail/storage"
)

func cmdContext() context.Context { return context.Background() }

var (
	cfgFile string
	cfg     *Config
	ambient config.Config

	// openDrivers holds every bbolt store opened by this process, keyed
	// by file path. bbolt keeps an exclusive lock on an open file, so a
	// second open of the same path would block; commands reuse the
	// first handle instead.
	openDrivers = make(map[string]storage.Driver)
)

var rootCmd = &cobra.Command{
	Use:   "zaxmail",
	Short: "End-to-end encrypted relay mailbox CLI",
}

// Execute runs the CLI, matching internal/client.Execute()'s contract.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the cobra tree for tests to drive directly, the
// way internal/client.GetRootCmd() does for the teacher's own e2e test.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/zaxmail/config.json)")
	rootCmd.PersistentFlags().String("relay", "", "relay URL (overrides the saved one)")
}

func initConfig() {
	var err error
	path := cfgFile
	if path == "" {
		path, err = GetConfigPath()
		if err != nil {
			fmt.Println("Error getting config path:", err)
			os.Exit(1)
		}
	}

	cfg, err = LoadConfig(path)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	dir := filepath.Dir(path)
	ambient, err = config.Load(
		filepath.Join(dir, "zaxmail.toml"),
		filepath.Join(dir, ".env"),
	)
	if err != nil {
		fmt.Println("Error loading ambient config:", err)
		os.Exit(1)
	}
}

func saveConfigGlobal() error {
	path := cfgFile
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}
	return SaveConfig(path, cfg)
}

func relayURL(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("relay"); v != "" {
		if v != cfg.RelayURL {
			cfg.RelayURL = v
			_ = saveConfigGlobal()
		}
		return v
	}
	return cfg.RelayURL
}

func storageDriver() (storage.Driver, error) {
	root := cfg.StorageRoot
	if root == "" {
		if err := os.MkdirAll(ambient.StorageRoot, 0700); err != nil {
			return nil, err
		}
		root = filepath.Join(ambient.StorageRoot, "mailbox.bolt")
	}
	if d, ok := openDrivers[root]; ok {
		return d, nil
	}
	d, err := storage.NewBoltDriver(root)
	if err != nil {
		return nil, err
	}
	openDrivers[root] = d
	return d, nil
}

func openMailbox() (*mailbox.Mailbox, error) {
	if cfg.CurrentIdentity == "" {
		return nil, fmt.Errorf("no current identity; run 'register' first")
	}
	driver, err := storageDriver()
	if err != nil {
		return nil, err
	}
	return openMailboxFor(cfg.CurrentIdentity, driver)
}

func openMailboxFor(identity string, driver storage.Driver) (*mailbox.Mailbox, error) {
	return mailbox.New(cmdContext(), identity, driver,
		mailbox.WithDoer(storage.NewHTTPDoer(ambient.Relay.AjaxTimeout)),
		mailbox.WithRelayConfig(ambient.Relay))
}
