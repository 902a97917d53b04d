package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/config"
	"github.com/yndnr/cloudlock-go/internal/cli/output"
)

// ConfigCommand returns the config subcommand group. It edits the local
// CLI configuration file only.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the local CLI configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the configuration and the effective settings",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the configuration file path",
				Action: configPath,
			},
			{
				Name:      "set",
				Usage:     "Set a top-level setting",
				ArgsUsage: "KEY VALUE",
				Action:    configSet,
			},
			{
				Name:      "use",
				Usage:     "Select the current profile",
				ArgsUsage: "PROFILE",
				Action:    configUse,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: configValidate,
			},
			{
				Name:  "profile",
				Usage: "Manage connection profiles",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List profiles",
						Action: profileList,
					},
					{
						Name:      "add",
						Usage:     "Add or replace a profile",
						ArgsUsage: "NAME",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "server",
								Usage:    "Admin API address",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "ca-file",
								Usage: "CA bundle for the server certificate",
							},
							&cli.BoolFlag{
								Name:  "insecure",
								Usage: "Skip server certificate verification",
							},
						},
						Action: profileAdd,
					},
					{
						Name:      "remove",
						Aliases:   []string{"rm"},
						Usage:     "Remove a profile",
						ArgsUsage: "NAME",
						Action:    profileRemove,
					},
				},
			},
		},
	}
}

type effectiveSettings struct {
	Profile  string `json:"profile"`
	Server   string `json:"server"`
	Output   string `json:"output"`
	CAFile   string `json:"ca_file"`
	Insecure bool   `json:"insecure"`
	Timeout  string `json:"timeout"`
}

type configView struct {
	Path      string            `json:"path"`
	Config    *config.CLIConfig `json:"config"`
	Effective effectiveSettings `json:"effective"`
}

type profileRow struct {
	Name     string `json:"name"`
	Current  bool   `json:"current"`
	Server   string `json:"server"`
	CAFile   string `json:"ca_file"`
	Insecure bool   `json:"insecure"`
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := Settings(c)
	if err != nil {
		return err
	}
	eff := effectiveSettings{
		Profile:  s.Profile,
		Server:   s.Server,
		Output:   string(s.Output),
		CAFile:   s.CAFile,
		Insecure: s.Insecure,
		Timeout:  s.Timeout.String(),
	}
	if s.Output != output.FormatTable {
		return output.Print(writer(c), s.Output, false, configView{Path: c.String("config"), Config: cfg, Effective: eff})
	}

	w := writer(c)
	fmt.Fprintf(w, "Config file: %s\n\n", c.String("config"))
	return output.Print(w, output.FormatTable, c.Bool("wide"), eff)
}

func configPath(c *cli.Context) error {
	_, err := fmt.Fprintln(writer(c), c.String("config"))
	return err
}

// editConfig loads the file without environment overrides, applies fn and
// saves the result.
func editConfig(c *cli.Context, fn func(*config.CLIConfig) error) error {
	path := c.String("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	delete(c.App.Metadata, metaConfig)
	return nil
}

func configSet(c *cli.Context) error {
	args, err := requireArgs(c, "KEY", "VALUE")
	if err != nil {
		return err
	}
	err = editConfig(c, func(cfg *config.CLIConfig) error {
		return cfg.Set(args[0], args[1])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "Set %s = %s\n", args[0], args[1])
	return nil
}

func configUse(c *cli.Context) error {
	args, err := requireArgs(c, "PROFILE")
	if err != nil {
		return err
	}
	err = editConfig(c, func(cfg *config.CLIConfig) error {
		return cfg.Set("current_profile", args[0])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "Switched to profile %q\n", args[0])
	return nil
}

func configValidate(c *cli.Context) error {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(writer(c), "Configuration is valid")
	return nil
}

func profileList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rows := make([]profileRow, 0, len(cfg.Profiles))
	for _, name := range cfg.ProfileNames() {
		p := cfg.Profiles[name]
		rows = append(rows, profileRow{
			Name:     name,
			Current:  name == cfg.CurrentProfile,
			Server:   p.Server,
			CAFile:   p.CAFile,
			Insecure: p.Insecure,
		})
	}
	s, err := Settings(c)
	if err != nil {
		return err
	}
	return output.Print(writer(c), s.Output, c.Bool("wide"), rows)
}

func profileAdd(c *cli.Context) error {
	args, err := requireArgs(c, "NAME")
	if err != nil {
		return err
	}
	p := config.Profile{
		Server:   c.String("server"),
		CAFile:   c.String("ca-file"),
		Insecure: c.Bool("insecure"),
	}
	err = editConfig(c, func(cfg *config.CLIConfig) error {
		return cfg.SetProfile(args[0], p)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "Saved profile %q\n", args[0])
	return nil
}

func profileRemove(c *cli.Context) error {
	args, err := requireArgs(c, "NAME")
	if err != nil {
		return err
	}
	err = editConfig(c, func(cfg *config.CLIConfig) error {
		return cfg.DeleteProfile(args[0])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "Removed profile %q\n", args[0])
	return nil
}
