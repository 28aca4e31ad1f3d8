package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyOverlayMissingFileIsNotError(t *testing.T) {
	cfg := Config{}
	if err := applyOverlay(&cfg, filepath.Join(t.TempDir(), "does-not-exist.yaml")); err != nil {
		t.Fatalf("applyOverlay with missing file: %v", err)
	}
}

func TestApplyOverlayMergesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "discord:\n  token: abc123\n  channel_id: chan1\nmcp:\n  enabled: true\ntiers:\n  vip: \"cd {dir} && {claude} --dangerously-skip-permissions\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{}
	if err := applyOverlay(&cfg, path); err != nil {
		t.Fatalf("applyOverlay: %v", err)
	}
	if cfg.Discord.Token != "abc123" {
		t.Errorf("Discord.Token = %q, want abc123", cfg.Discord.Token)
	}
	if !cfg.MCP.Enabled {
		t.Error("MCP.Enabled = false, want true")
	}
	if cfg.Tiers["vip"] == "" {
		t.Error("Tiers[vip] not populated")
	}
}

func TestApplyOverlayRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("bogus_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{}
	if err := applyOverlay(&cfg, path); err == nil {
		t.Error("expected error for unknown field, got nil")
	}
}

func TestSaveOverlayRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	discord := DiscordConfig{Token: "tok", ChannelID: "chan"}
	mcp := MCPConfig{Enabled: true}
	tiers := map[string]string{"vip": "cd {dir} && {claude}"}

	if err := SaveOverlay(path, discord, mcp, tiers); err != nil {
		t.Fatalf("SaveOverlay: %v", err)
	}

	cfg := Config{}
	if err := applyOverlay(&cfg, path); err != nil {
		t.Fatalf("applyOverlay after SaveOverlay: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Errorf("Discord.Token = %q, want tok", cfg.Discord.Token)
	}
}
