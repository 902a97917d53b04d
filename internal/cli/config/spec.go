package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yndnr/cloudlock-go/internal/cli/output"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "CLOUDLOCK_CLI_"

// Defaults.
const (
	DefaultServer  = "localhost:5080"
	DefaultTimeout = 30 * time.Second
)

// CLIConfig is the configuration for cloudlock-cli.
type CLIConfig struct {
	DefaultServer string `koanf:"default_server" yaml:"default_server"`
	DefaultOutput string `koanf:"default_output" yaml:"default_output"`
	Timeout       string `koanf:"timeout" yaml:"timeout"`
	HistoryFile   string `koanf:"history_file" yaml:"history_file,omitempty"`

	CurrentProfile string             `koanf:"current_profile" yaml:"current_profile,omitempty"`
	Profiles       map[string]Profile `koanf:"profiles" yaml:"profiles,omitempty"`
}

// Profile stores the connection details of one cluster.
type Profile struct {
	Server   string `koanf:"server" yaml:"server"`
	CAFile   string `koanf:"ca_file" yaml:"ca_file,omitempty"`
	Insecure bool   `koanf:"insecure" yaml:"insecure,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: DefaultServer,
		DefaultOutput: string(output.FormatTable),
		Timeout:       DefaultTimeout.String(),
		Profiles:      make(map[string]Profile),
	}
}

// DefaultDir returns ~/.cloudlock.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cloudlock")
}

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "cli.yaml")
}

// HistoryPath returns the REPL history file.
func (c *CLIConfig) HistoryPath() string {
	if c.HistoryFile != "" {
		return c.HistoryFile
	}
	return filepath.Join(DefaultDir(), "history")
}

// ProfileNames returns the profile names in order.
func (c *CLIConfig) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the configuration.
func (c *CLIConfig) Validate() error {
	if _, err := output.ParseFormat(c.DefaultOutput); err != nil {
		return fmt.Errorf("default_output: %w", err)
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("timeout: invalid duration %q", c.Timeout)
		}
	}
	if c.CurrentProfile != "" {
		if _, ok := c.Profiles[c.CurrentProfile]; !ok {
			return fmt.Errorf("current_profile: unknown profile %q", c.CurrentProfile)
		}
	}
	for name, p := range c.Profiles {
		if p.Server == "" {
			return fmt.Errorf("profiles.%s: server is required", name)
		}
	}
	return nil
}

// Set updates one top-level setting by its file key.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "default_server", "server":
		c.DefaultServer = value
	case "default_output", "output":
		if _, err := output.ParseFormat(value); err != nil {
			return err
		}
		c.DefaultOutput = value
	case "timeout":
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q", value)
		}
		c.Timeout = value
	case "history_file":
		c.HistoryFile = value
	case "current_profile", "profile":
		if _, ok := c.Profiles[value]; value != "" && !ok {
			return fmt.Errorf("unknown profile %q", value)
		}
		c.CurrentProfile = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// SetProfile adds or replaces a profile.
func (c *CLIConfig) SetProfile(name string, p Profile) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Server == "" {
		return fmt.Errorf("profile %s: server is required", name)
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	c.Profiles[name] = p
	return nil
}

// DeleteProfile removes a profile. Removing the current profile clears
// the selection.
func (c *CLIConfig) DeleteProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return nil
}
