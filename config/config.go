// Package config loads the configuration of an impact-smc node.
//
// Configuration is read from a YAML (.yaml, .yml) or TOML (.toml) file on top
// of Default, then overridden by command-line flags. The peer directory may
// instead come from the legacy one-value-per-line files (others, me, port).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/RENCI-NRIG/impact-smc/counts"
	"github.com/RENCI-NRIG/impact-smc/engine"
	"github.com/RENCI-NRIG/impact-smc/protocol"
	"github.com/RENCI-NRIG/impact-smc/services"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr" toml:"listen_addr"`
	MetricsAddr    string   `yaml:"metrics_addr" toml:"metrics_addr"`
	EnablePprof    bool     `yaml:"pprof" toml:"pprof"`
	AllowedOrigins []string `yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`

	DrainDuration   time.Duration `yaml:"drain_duration" toml:"drain_duration"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`

	Log       LogConfig            `yaml:"log" toml:"log"`
	Directory DirectoryConfig      `yaml:"directory" toml:"directory"`
	Peers     services.PeersConfig `yaml:"peers" toml:"peers"`
	Resolver  counts.Config        `yaml:"resolver" toml:"resolver"`
	Engine    engine.Config        `yaml:"engine" toml:"engine"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`
	// Format is text or json.
	Format string `yaml:"format" toml:"format"`
}

// DirectoryConfig locates this node and its peers. When a legacy file is set
// it replaces the corresponding inline value.
type DirectoryConfig struct {
	Self  string   `yaml:"self" toml:"self"`
	Peers []string `yaml:"peers" toml:"peers"`
	Port  int      `yaml:"port" toml:"port"`

	OthersFile string `yaml:"others_file" toml:"others_file"`
	MeFile     string `yaml:"me_file" toml:"me_file"`
	PortFile   string `yaml:"port_file" toml:"port_file"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		ListenAddr:      ":5000",
		DrainDuration:   5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    6 * time.Minute,
		Log:             LogConfig{Level: "info", Format: "text"},
		Directory:       DirectoryConfig{Port: 5000},
		Peers:           services.DefaultPeersConfig(),
		Resolver:        counts.DefaultConfig(),
		Engine:          engine.DefaultConfig(),
	}
}

// Load reads path on top of Default. The format is chosen by extension.
func Load(path string) (*Config, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !supportedFormat(format) {
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func supportedFormat(format string) bool {
	switch format {
	case "toml", "yaml", "yml":
		return true
	}
	return false
}

// Decode parses a "yaml" or "toml" document over Default().
func Decode(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return cfg, nil
}

// LoadLegacyDirectory fills d from the legacy files that are set: others
// holds one peer host per line, me and port hold a single value on their
// first line.
func LoadLegacyDirectory(d *DirectoryConfig) error {
	if d.OthersFile != "" {
		lines, err := readLines(d.OthersFile)
		if err != nil {
			return err
		}
		if len(lines) < protocol.PartyCount-1 {
			return fmt.Errorf("%s: expected %d peer hosts, got %d", d.OthersFile, protocol.PartyCount-1, len(lines))
		}
		d.Peers = lines[:protocol.PartyCount-1]
	}
	if d.MeFile != "" {
		lines, err := readLines(d.MeFile)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%s is empty", d.MeFile)
		}
		d.Self = lines[0]
	}
	if d.PortFile != "" {
		lines, err := readLines(d.PortFile)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%s is empty", d.PortFile)
		}
		port, err := strconv.Atoi(lines[0])
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", d.PortFile, lines[0])
		}
		d.Port = port
	}
	return nil
}

// readLines returns the non-empty trimmed lines of a file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// PeerDirectory builds the peer directory, reading legacy files if configured.
func (c *Config) PeerDirectory() (protocol.PeerDirectory, error) {
	d := c.Directory
	if err := LoadLegacyDirectory(&d); err != nil {
		return protocol.PeerDirectory{}, err
	}
	return protocol.NewPeerDirectory(d.Self, d.Peers, d.Port)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.ListenAddr == "" {
		result = multierror.Append(result, errors.New("listen_addr is required"))
	}
	if _, err := c.PeerDirectory(); err != nil {
		result = multierror.Append(result, fmt.Errorf("directory: %w", err))
	}
	if _, err := c.Resolver.EffectiveMode(); err != nil {
		result = multierror.Append(result, fmt.Errorf("resolver: %w", err))
	}
	if c.Engine.Command == "" {
		result = multierror.Append(result, errors.New("engine.command is required"))
	}
	if c.Peers.Timeout <= 0 {
		result = multierror.Append(result, errors.New("peers.timeout must be positive"))
	}
	if c.Engine.Timeout <= 0 {
		result = multierror.Append(result, errors.New("engine.timeout must be positive"))
	}
	if c.WriteTimeout > 0 && c.WriteTimeout <= c.Engine.Timeout {
		result = multierror.Append(result, fmt.Errorf("write_timeout %s must exceed engine.timeout %s", c.WriteTimeout, c.Engine.Timeout))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		result = multierror.Append(result, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return result.ErrorOrNil()
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger creates the node logger writing to w.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}
