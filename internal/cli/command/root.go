package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/config"
	"github.com/yndnr/cloudlock-go/internal/cli/connection"
	"github.com/yndnr/cloudlock-go/internal/cli/output"
	"github.com/yndnr/cloudlock-go/internal/infra/buildinfo"
)

// AppName is the name of the CLI binary.
const AppName = "cloudlock-cli"

const metaConfig = "config"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 AppName,
		Usage:                "CloudLock cluster administration tool",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		Commands:             Commands(),
		EnableBashCompletion: true,
		Metadata:             map[string]any{},
		Before: func(c *cli.Context) error {
			_, err := loadConfig(c)
			return err
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return runShell(c)
		},
	}
}

// Commands returns the top-level commands.
func Commands() []*cli.Command {
	return []*cli.Command{
		KeygenCommand(),
		KeyCommand(),
		IndicesCommand(),
		DocumentCommand(),
		SnapshotCommand(),
		SystemCommand(),
		ConfigCommand(),
		ShellCommand(),
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"CLOUDLOCK_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Connection profile from the configuration file",
			EnvVars: []string{"CLOUDLOCK_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Admin API address (localhost:5080, https://host:5080 or unix:///run/cloudlock/admin.sock)",
			EnvVars: []string{"CLOUDLOCK_SERVER"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "PEM file or directory of CAs that sign the server certificate",
			EnvVars: []string{"CLOUDLOCK_CA_FILE"},
		},
		&cli.BoolFlag{
			Name:    "insecure",
			Aliases: []string{"k"},
			Usage:   "Skip server certificate verification",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout (default from the configuration, 30s)",
		},
	}
}

// loadConfig returns the CLI configuration, loading it on first use.
func loadConfig(c *cli.Context) (*config.CLIConfig, error) {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg, nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load cli config: %w", err)
	}
	c.App.Metadata[metaConfig] = cfg
	return cfg, nil
}

// Settings resolves the effective connection and output settings.
func Settings(c *cli.Context) (config.Settings, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return config.Settings{}, err
	}
	return cfg.Resolve(config.Overrides{
		Profile:  c.String("profile"),
		Server:   c.String("server"),
		Output:   c.String("output"),
		CAFile:   c.String("ca-file"),
		Timeout:  c.Duration("timeout"),
		Insecure: c.Bool("insecure"),
	})
}

// session is a resolved server connection for one command.
type session struct {
	c        *cli.Context
	settings config.Settings
	client   *connection.HTTPClient
}

// connect resolves the settings and creates the HTTP client.
func connect(c *cli.Context) (*session, error) {
	s, err := Settings(c)
	if err != nil {
		return nil, err
	}
	client, err := connection.NewHTTPClient(s.Server, connection.Options{
		Timeout:  s.Timeout,
		CAFile:   s.CAFile,
		Insecure: s.Insecure,
	})
	if err != nil {
		return nil, err
	}
	return &session{c: c, settings: s, client: client}, nil
}

func (s *session) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.c.Context, s.settings.Timeout)
}

// call sends a request and decodes the response into target.
func (s *session) call(method, path string, body, target any) error {
	ctx, cancel := s.context()
	defer cancel()
	resp, err := s.client.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return connection.ParseResponse(resp, target)
}

// print writes data in the selected output format.
func (s *session) print(data any) error {
	return output.Print(writer(s.c), s.settings.Output, s.c.Bool("wide"), data)
}

// table reports whether the output is the human readable table.
func (s *session) table() bool {
	return s.settings.Output == output.FormatTable
}

func writer(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// requireArgs checks the positional arguments of a command.
func requireArgs(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("%s requires %s", c.Command.FullName(), strings.Join(names, " "))
	}
	args := c.Args().Slice()
	for i, a := range args {
		if strings.TrimSpace(a) == "" {
			return nil, fmt.Errorf("%s must not be empty", names[i])
		}
	}
	return args, nil
}

// apiPath joins escaped path segments.
func apiPath(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// callAllowing is call for an endpoint that answers with a regular document
// under the error status allowed. An error document under that status is
// still returned as *connection.APIError. It returns the response status.
func (s *session) callAllowing(method, path string, body, target any, allowed int) (int, error) {
	ctx, cancel := s.context()
	defer cancel()
	resp, err := s.client.Do(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != allowed {
		return resp.StatusCode, connection.ParseResponse(resp, target)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	apiErr := &connection.APIError{Status: resp.StatusCode}
	if json.Unmarshal(data, apiErr) == nil && apiErr.Code != "" {
		return resp.StatusCode, apiErr
	}
	if err := json.Unmarshal(data, target); err != nil {
		return resp.StatusCode, fmt.Errorf("parse response: %w", err)
	}
	return resp.StatusCode, nil
}
