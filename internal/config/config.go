// Package config loads smsd's runtime configuration: environment variables
// as the primary source (an optional .env file in the working directory via
// godotenv), plus an optional config.yaml overlay for the handful of fields
// that are awkward to express as flat env vars: extra tier launch commands
// and the operator notifier settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for one daemon run.
type Config struct {
	MessagesDBPath string // ~/Library/Messages/chat.db, or override
	StateDir       string // holds sessions.json, last_rowid.txt, events.db
	ContactsCLI    string // binary name or path, invoked as "<cli> list --json"
	SMSSendCLI     string // name referenced in the injected template, never executed by the daemon itself
	TmuxBin        string // "tmux" if empty
	ClaudeBin      string // "claude" if empty
	HomeDir        string // for the ~/.claude skills symlink

	Discord DiscordConfig
	MCP     MCPConfig
	Tiers   map[string]string // tier name -> launch command template, merged into the supervisor's table

	Debug bool
}

// DiscordConfig configures the operator notifier (C10). Token empty means
// disabled.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// MCPConfig configures the inspection server (C11).
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// overlay is the shape of the optional config.yaml file. A section that is
// set in the file (a non-empty discord token, mcp enabled, a non-empty
// tiers map) replaces that whole section of what Load populated from the
// environment; a section left unset leaves the environment's value as is.
type overlay struct {
	Discord DiscordConfig     `yaml:"discord"`
	MCP     MCPConfig         `yaml:"mcp"`
	Tiers   map[string]string `yaml:"tiers"`
}

// Load builds a Config from the environment, optionally loading a .env file
// first and a config.yaml overlay second. Both are optional; their absence
// is not an error.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env file is not an error

	home := os.Getenv("HOME")

	cfg := Config{
		MessagesDBPath: envOr("MESSAGES_DB_PATH", filepath.Join(home, "Library", "Messages", "chat.db")),
		StateDir:       envOr("STATE_DIR", filepath.Join(home, ".smsd")),
		ContactsCLI:    envOr("CONTACTS_CLI", "contacts"),
		SMSSendCLI:     envOr("SMS_SEND_CLI", "sms-send"),
		TmuxBin:        envOr("TMUX_BIN", "tmux"),
		ClaudeBin:      envOr("CLAUDE_BIN", "claude"),
		HomeDir:        home,
		Discord: DiscordConfig{
			Token:     os.Getenv("DISCORD_TOKEN"),
			ChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		},
		MCP: MCPConfig{
			Enabled: os.Getenv("MCP_ENABLED") == "true",
		},
		Debug: os.Getenv("DEBUG") == "true",
	}

	overlayPath := envOr("CONFIG_PATH", "config.yaml")
	if err := applyOverlay(&cfg, overlayPath); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// applyOverlay merges config.yaml into cfg if the file exists. A missing
// file is not an error; a present-but-malformed file is.
func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}

	var ov overlay
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&ov); err != nil {
		return fmt.Errorf("parse config overlay: %w", err)
	}

	if ov.Discord.Token != "" {
		cfg.Discord = ov.Discord
	}
	if ov.MCP.Enabled {
		cfg.MCP = ov.MCP
	}
	if len(ov.Tiers) > 0 {
		cfg.Tiers = ov.Tiers
	}
	return nil
}

// SaveOverlay writes an overlay struct to path atomically (temp file in the
// same directory, fsync, rename) and refuses to replace the original if
// the freshly-written file does not parse back. The temp-file/fsync/rename
// sequence is the one registry.Registry.saveLocked uses for its own state
// file; the parse-back check is specific to this function.
func SaveOverlay(path string, discord DiscordConfig, mcp MCPConfig, tiers map[string]string) error {
	ov := overlay{Discord: discord, MCP: mcp, Tiers: tiers}

	out, err := yaml.Marshal(ov)
	if err != nil {
		return fmt.Errorf("marshal config overlay: %w", err)
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create config temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write config temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync config temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config temp file: %w", err)
	}

	// Validate by parsing the temp file back before committing it.
	var roundTrip overlay
	validated, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("reread config temp file: %w", err)
	}
	if err := yaml.Unmarshal(validated, &roundTrip); err != nil {
		return fmt.Errorf("config overlay failed round-trip validation: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config overlay into place: %w", err)
	}
	return nil
}
