// Package config loads the termchat store configuration from TOML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// DefaultPath is where the config file lives unless overridden.
const DefaultPath = "~/.config/termchat/termchat.toml"

// Config represents the structure of the config file
type Config struct {
	Storage StorageSection `toml:"storage"`
	View    ViewSection    `toml:"view"`
	Log     LogSection     `toml:"log"`
}

type StorageSection struct {
	Path          string `toml:"path"`
	PassphraseEnv string `toml:"passphrase_env"`
	Cache         bool   `toml:"cache"`
}

type ViewSection struct {
	QuoteSnippetLength int `toml:"quote_snippet_length"`
	PageSize           int `toml:"page_size"`
}

type LogSection struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Storage: StorageSection{
			Path:          "~/.local/share/termchat/termchat.db",
			PassphraseEnv: "TERMCHAT_PASSPHRASE",
			Cache:         true,
		},
		View: ViewSection{
			QuoteSnippetLength: 120,
			PageSize:           50,
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultConfig()
		// A read-only home still runs on defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// StorePath returns the store path with ~ expanded
func (c Config) StorePath() (string, error) {
	return ExpandPath(c.Storage.Path)
}

// Passphrase returns the store passphrase from the configured environment
// variable, or "" when none is set.
func (c Config) Passphrase() string {
	if c.Storage.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Storage.PassphraseEnv)
}

// LogLevel parses the configured level, falling back to info.
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: TERMCHAT_SECTION_KEY
// Example: TERMCHAT_STORAGE_PATH=/tmp/test.db
func applyEnvOverrides(config Config) Config {
	// Storage section
	if val := os.Getenv("TERMCHAT_STORAGE_PATH"); val != "" {
		config.Storage.Path = val
	}
	if val := os.Getenv("TERMCHAT_STORAGE_PASSPHRASE_ENV"); val != "" {
		config.Storage.PassphraseEnv = val
	}
	if val := os.Getenv("TERMCHAT_STORAGE_CACHE"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Storage.Cache = enabled
		}
	}

	// View section
	if val := os.Getenv("TERMCHAT_VIEW_QUOTE_SNIPPET_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.View.QuoteSnippetLength = n
		}
	}
	if val := os.Getenv("TERMCHAT_VIEW_PAGE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.View.PageSize = n
		}
	}

	// Log section
	if val := os.Getenv("TERMCHAT_LOG_LEVEL"); val != "" {
		config.Log.Level = val
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# termchat Configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# TERMCHAT_SECTION_KEY (e.g., TERMCHAT_STORAGE_PATH=/tmp/termchat.db)

[storage]
# Path to the SQLite message store
path = "~/.local/share/termchat/termchat.db"

# Environment variable holding the store passphrase. When it is set, message
# content is encrypted at rest; the salt lives next to the store in <path>.salt
passphrase_env = "TERMCHAT_PASSPHRASE"

# Keep channels, names and loaded timelines in memory
cache = true

[view]
# Characters of a quoted message shown in a reply (negative = no limit)
quote_snippet_length = 120

# Messages loaded per scroll-back page
page_size = 50

[log]
# trace, debug, info, warn, error
level = "info"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
