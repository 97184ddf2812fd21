package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".calcurse", "caldav", "config.json")
	DefaultLockPath    = filepath.Join(home, ".calcurse", "caldav", "lock")
	DefaultSyncDBPath  = filepath.Join(home, ".calcurse", "caldav", "sync.db")
	DefaultHistoryPath = filepath.Join(home, ".calcurse", "caldav", "history.db")
)

var (
	ErrNoHostName = errors.New("config: hostname missing")
	ErrNoPath     = errors.New("config: collection path missing")
)

// Config is the resolved run configuration. DryRun defaults to true so a
// fresh setup never mutates anything until explicitly enabled.
type Config struct {
	HostName    string `json:"hostname"`
	Path        string `json:"path"`
	InsecureSSL bool   `json:"insecure_ssl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Binary      string `json:"binary"`
	DryRun      bool   `json:"dry_run"`

	SyncDBPath  string `json:"-"`
	LockPath    string `json:"-"`
	HistoryPath string `json:"-"`
}

func (c *Config) Validate() error {
	if c.HostName == "" {
		return ErrNoHostName
	}
	if c.Path == "" {
		return ErrNoPath
	}
	return nil
}

// ServerURL is the base URL of the CalDAV server.
func (c *Config) ServerURL() string {
	return "https://" + c.HostName
}

// CollectionPath is the configured path normalized to exactly one
// trailing slash, the form every href is composed from.
func (c *Config) CollectionPath() string {
	return strings.TrimRight(c.Path, "/") + "/"
}
