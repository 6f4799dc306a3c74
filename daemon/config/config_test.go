package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.MinIdle.Std() != 250*time.Millisecond {
		t.Errorf("Expected min_idle 250ms, got %s", cfg.MinIdle)
	}
	if filepath.Base(cfg.OutDirectory) != "out" || filepath.Base(cfg.InDirectory) != "in" {
		t.Errorf("Unexpected derived directories: %s %s", cfg.InDirectory, cfg.OutDirectory)
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.UDPAddress != ":17572" {
		t.Errorf("Expected default UDP address, got %s", cfg.UDPAddress)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "sink.yaml", `
udp_address: "127.0.0.1:9000"
working_directory: /srv/sink
min_idle: 100ms
max_wait: 2s
max_file_size: 1024
log_level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.UDPAddress != "127.0.0.1:9000" {
		t.Errorf("Expected overridden UDP address, got %s", cfg.UDPAddress)
	}
	if cfg.MinIdle.Std() != 100*time.Millisecond || cfg.MaxWait.Std() != 2*time.Second {
		t.Errorf("Unexpected durations: %s %s", cfg.MinIdle, cfg.MaxWait)
	}
	if cfg.OutDirectory != filepath.Join("/srv/sink", "out") {
		t.Errorf("Expected out directory under working directory, got %s", cfg.OutDirectory)
	}
	if cfg.MaxFileSize != 1024 {
		t.Errorf("Expected max_file_size 1024, got %d", cfg.MaxFileSize)
	}
	// Unset fields keep their defaults.
	if cfg.TCPAddress != ":17571" {
		t.Errorf("Expected default TCP address, got %s", cfg.TCPAddress)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "sink.toml", `
udp_address = "127.0.0.1:9001"
out_directory = "/tmp/uploads"
poll_interval = "5ms"
max_pending_blocks = 16
sender_ip = "192.168.21.2"
ledger_retention = "72h"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.OutDirectory != "/tmp/uploads" {
		t.Errorf("Expected explicit out directory, got %s", cfg.OutDirectory)
	}
	if cfg.PollInterval.Std() != 5*time.Millisecond {
		t.Errorf("Expected poll_interval 5ms, got %s", cfg.PollInterval)
	}
	if cfg.SenderIP != "192.168.21.2" || cfg.LedgerRetention.Std() != 72*time.Hour {
		t.Errorf("Unexpected sender/retention: %s %s", cfg.SenderIP, cfg.LedgerRetention)
	}
	if cfg.MaxPendingBlocks != 16 {
		t.Errorf("Expected max_pending_blocks 16, got %d", cfg.MaxPendingBlocks)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown extension", "sink.ini", "udp_address=:1"},
		{"bad duration", "sink.yaml", "min_idle: soon\n"},
		{"unknown yaml field", "sink.yaml", "no_such_field: 1\n"},
		{"max wait below min idle", "sink.yaml", "min_idle: 1s\nmax_wait: 10ms\n"},
		{"bad address", "sink.toml", `udp_address = "nowhere"`},
		{"zero pending", "sink.toml", "max_pending_blocks = 0"},
		{"bad sender ip", "sink.yaml", "sender_ip: kernel\n"},
		{"empty log level", "sink.toml", `log_level = ""`},
		{"nul in ledger path", "sink.yaml", "ledger_path: \"led\\0ger.db\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.file, tt.body)); err == nil {
				t.Error("Expected LoadConfig to fail")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
