package command

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/output"
	"github.com/yndnr/cloudlock-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health and CLI version",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show health, readiness and key state in one summary",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check server liveness",
				Action: systemHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check whether the server holds the cluster key",
				Action: systemReady,
			},
			{
				Name:   "version",
				Usage:  "Show the CLI build",
				Action: systemVersion,
			},
		},
	}
}

type systemSummary struct {
	Server    string `json:"server"`
	Health    string `json:"health"`
	Ready     string `json:"ready"`
	NodeID    string `json:"node_id"`
	NodeName  string `json:"node_name"`
	IsLeader  bool   `json:"is_leader"`
	KeySet    bool   `json:"key_set"`
	KeyID     string `json:"key_id"`
	PublicKey bool   `json:"public_key_configured"`
}

func systemStatus(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	sum := systemSummary{Server: s.client.BaseURL()}

	var health statusResponse
	if err := s.call(http.MethodGet, "/health", nil, &health); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	sum.Health = health.Status

	var ready statusResponse
	if _, err := s.callAllowing(http.MethodGet, "/ready", nil, &ready, http.StatusServiceUnavailable); err != nil {
		return err
	}
	sum.Ready = ready.Status

	var key keyStatus
	if err := s.call(http.MethodGet, keyAPI+"/_key_status", nil, &key); err != nil {
		return err
	}
	sum.NodeID, sum.NodeName, sum.IsLeader = key.NodeID, key.NodeName, key.IsLeader
	sum.KeySet, sum.KeyID, sum.PublicKey = key.KeySet, key.KeyID, key.PublicKeyConfigured
	return s.print(sum)
}

func systemHealth(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	var res statusResponse
	if err := s.call(http.MethodGet, "/health", nil, &res); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	return s.print(res)
}

func systemReady(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	var res statusResponse
	status, err := s.callAllowing(http.MethodGet, "/ready", nil, &res, http.StatusServiceUnavailable)
	if err != nil {
		return err
	}
	if err := s.print(res); err != nil {
		return err
	}
	if status == http.StatusServiceUnavailable {
		return fmt.Errorf("server is not ready: %s", res.Status)
	}
	return nil
}

func systemVersion(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	format := c.String("output")
	if format == "" {
		format = cfg.DefaultOutput
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	return output.Print(writer(c), f, false, buildinfo.Get())
}
