package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/cloudlock-go/internal/cli/output"
	"github.com/yndnr/cloudlock-go/internal/infra/confloader"
)

// Load reads the CLI configuration from path, then applies CLOUDLOCK_CLI_*
// environment variables. A missing file yields the defaults.
func Load(path string) (*CLIConfig, error) {
	return load(path, true)
}

// LoadFile reads the CLI configuration from path alone. Commands that edit
// and save the file use it so the environment is not persisted.
func LoadFile(path string) (*CLIConfig, error) {
	return load(path, false)
}

func load(path string, withEnv bool) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	var file string
	if _, err := os.Stat(path); err == nil {
		file = path
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	cfg := Default()
	if withEnv {
		l := confloader.NewLoader(confloader.WithConfigFile(file), confloader.WithEnvPrefix(EnvPrefix))
		if err := l.Load(cfg); err != nil {
			return nil, err
		}
	} else {
		l := confloader.NewLoader()
		if err := l.LoadFile(file); err != nil {
			return nil, err
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, replacing the file
// atomically.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".cli-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Overrides are command-line values. Empty fields are unset.
type Overrides struct {
	Profile  string
	Server   string
	Output   string
	CAFile   string
	Timeout  time.Duration
	Insecure bool
}

// Settings are the effective connection and output settings.
type Settings struct {
	Profile  string
	Server   string
	Output   output.Format
	CAFile   string
	Insecure bool
	Timeout  time.Duration
}

// Resolve merges the configuration with flag overrides. Flags win over the
// selected profile, which wins over the defaults.
func (c *CLIConfig) Resolve(o Overrides) (Settings, error) {
	s := Settings{
		Profile: c.CurrentProfile,
		Server:  c.DefaultServer,
		Timeout: DefaultTimeout,
	}
	if o.Profile != "" {
		s.Profile = o.Profile
	}
	if s.Profile != "" {
		p, ok := c.Profiles[s.Profile]
		if !ok {
			return Settings{}, fmt.Errorf("unknown profile %q", s.Profile)
		}
		s.Server = p.Server
		s.CAFile = p.CAFile
		s.Insecure = p.Insecure
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("timeout: %w", err)
		}
		s.Timeout = d
	}

	if o.Server != "" {
		s.Server = o.Server
	}
	if o.CAFile != "" {
		s.CAFile = o.CAFile
	}
	if o.Insecure {
		s.Insecure = true
	}
	if o.Timeout > 0 {
		s.Timeout = o.Timeout
	}
	if s.Server == "" {
		s.Server = DefaultServer
	}

	format := c.DefaultOutput
	if o.Output != "" {
		format = o.Output
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return Settings{}, err
	}
	s.Output = f
	return s, nil
}
