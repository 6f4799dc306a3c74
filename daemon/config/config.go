package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v2"

	"github.com/itskernel/backend/internal/validation"
)

// Duration is a time.Duration written as a string ("250ms") in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML is used by the YAML decoder.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config holds daemon configuration
type Config struct {
	UDPAddress           string `yaml:"udp_address" toml:"udp_address"`
	TCPAddress           string `yaml:"tcp_address" toml:"tcp_address"`
	QUICAddress          string `yaml:"quic_address" toml:"quic_address"`
	ObservabilityAddress string `yaml:"observability_address" toml:"observability_address"`

	WorkingDirectory string `yaml:"working_directory" toml:"working_directory"`
	InDirectory      string `yaml:"in_directory" toml:"in_directory"`
	OutDirectory     string `yaml:"out_directory" toml:"out_directory"`
	LedgerPath       string `yaml:"ledger_path" toml:"ledger_path"`

	// Block receiver wait policy.
	MinIdle      Duration `yaml:"min_idle" toml:"min_idle"`
	MaxWait      Duration `yaml:"max_wait" toml:"max_wait"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`

	// SenderIP, when set, restricts the datagram sink to one sender.
	SenderIP string `yaml:"sender_ip" toml:"sender_ip"`

	MaxChunksPerBlock uint32 `yaml:"max_chunks_per_block" toml:"max_chunks_per_block"`
	MaxPendingBlocks  int    `yaml:"max_pending_blocks" toml:"max_pending_blocks"`
	MaxFileSize       int64  `yaml:"max_file_size" toml:"max_file_size"`

	LedgerRetention  Duration `yaml:"ledger_retention" toml:"ledger_retention"`
	LedgerGCInterval Duration `yaml:"ledger_gc_interval" toml:"ledger_gc_interval"`

	AcceptRate  float64 `yaml:"accept_rate" toml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst" toml:"accept_burst"`
	EventBuffer int     `yaml:"event_buffer" toml:"event_buffer"`
	LogLevel    string  `yaml:"log_level" toml:"log_level"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	workDir := filepath.Join(homeDir, ".local", "share", "itskernel")

	cfg := &Config{
		UDPAddress:           ":17572",
		TCPAddress:           ":17571",
		QUICAddress:          ":17573",
		ObservabilityAddress: ":8081",
		WorkingDirectory:     workDir,
		MinIdle:              Duration(250 * time.Millisecond),
		MaxWait:              Duration(5 * time.Second),
		PollInterval:         Duration(10 * time.Millisecond),
		MaxChunksPerBlock:    1 << 20,
		MaxPendingBlocks:     4096,
		MaxFileSize:          256 << 20,
		LedgerRetention:      Duration(30 * 24 * time.Hour),
		LedgerGCInterval:     Duration(time.Hour),
		AcceptRate:           50,
		AcceptBurst:          100,
		EventBuffer:          100,
		LogLevel:             "info",
	}
	cfg.deriveDirectories()
	return cfg
}

// deriveDirectories fills in/out/ledger paths left empty from the working
// directory.
func (c *Config) deriveDirectories() {
	if c.InDirectory == "" {
		c.InDirectory = filepath.Join(c.WorkingDirectory, "in")
	}
	if c.OutDirectory == "" {
		c.OutDirectory = filepath.Join(c.WorkingDirectory, "out")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.WorkingDirectory, "ledger.db")
	}
}

// LoadConfig loads configuration from a YAML (.yaml, .yml) or TOML (.toml)
// file on top of the defaults. An empty path returns the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Directories derived from the default working directory must not
	// override a working directory set in the file.
	cfg.InDirectory, cfg.OutDirectory, cfg.LedgerPath = "", "", ""

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}

	cfg.deriveDirectories()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and addresses. Empty TCP/QUIC/observability
// addresses disable those listeners.
func (c *Config) Validate() error {
	if err := validation.ValidateAddr("udp", c.UDPAddress); err != nil {
		return fmt.Errorf("udp_address: %w", err)
	}
	for name, addr := range map[string]string{
		"tcp_address":           c.TCPAddress,
		"quic_address":          c.QUICAddress,
		"observability_address": c.ObservabilityAddress,
	} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateAddr("tcp", addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := validation.ValidateDuration(c.MinIdle.Std(), time.Millisecond, time.Minute); err != nil {
		return fmt.Errorf("min_idle: %w", err)
	}
	if err := validation.ValidateDuration(c.MaxWait.Std(), c.MinIdle.Std(), time.Hour); err != nil {
		return fmt.Errorf("max_wait: %w", err)
	}
	if err := validation.ValidateDuration(c.PollInterval.Std(), time.Millisecond, c.MinIdle.Std()); err != nil {
		return fmt.Errorf("poll_interval: %w", err)
	}
	if c.SenderIP != "" && net.ParseIP(c.SenderIP) == nil {
		return fmt.Errorf("sender_ip: %w: %q", validation.ErrInvalidAddr, c.SenderIP)
	}
	if err := validation.ValidateRangeInt64(int64(c.MaxChunksPerBlock), 1, 1<<32-1); err != nil {
		return fmt.Errorf("max_chunks_per_block: %w", err)
	}
	if err := validation.ValidateRangeInt(c.MaxPendingBlocks, 1, 1<<24); err != nil {
		return fmt.Errorf("max_pending_blocks: %w", err)
	}
	if err := validation.ValidateRangeInt64(c.MaxFileSize, 0, 1<<40); err != nil {
		return fmt.Errorf("max_file_size: %w", err)
	}
	if err := validation.ValidateRangeInt(c.AcceptBurst, 1, 1<<20); err != nil {
		return fmt.Errorf("accept_burst: %w", err)
	}
	if c.AcceptRate <= 0 {
		return fmt.Errorf("accept_rate: %w: %v", validation.ErrOutOfRange, c.AcceptRate)
	}
	if c.LedgerRetention < 0 || c.LedgerGCInterval < 0 {
		return fmt.Errorf("ledger_retention/ledger_gc_interval: %w", validation.ErrOutOfRange)
	}
	if err := validation.ValidateStringNonEmpty(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	for _, p := range []struct{ name, path string }{
		{"working_directory", c.WorkingDirectory},
		{"in_directory", c.InDirectory},
		{"out_directory", c.OutDirectory},
		{"ledger_path", c.LedgerPath},
	} {
		if err := validation.ValidateFilePath(p.path, false); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}
