// Package main provides the entry point for cloudlock-server.
//
// cloudlock-server stores document indices in shard directories that are
// encrypted under a cluster-wide key hierarchy. The hierarchy is created
// by the operator through the admin API and distributed by the Raft leader
// to every node over the node to node key service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/infra/buildinfo"
	"github.com/yndnr/cloudlock-go/internal/infra/confloader"
	"github.com/yndnr/cloudlock-go/internal/infra/shutdown"
	"github.com/yndnr/cloudlock-go/internal/server/config"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
)

// defaultEnvFile is loaded when present and --env-file is not given.
const defaultEnvFile = ".env"

// shutdownTimeout bounds the shutdown hooks.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "cloudlock-server",
		Usage:   "encrypted index storage node",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the configuration file"},
			&cli.StringFlag{Name: "env-file", Usage: "dotenv file loaded before the environment is read (default: ./.env when present)"},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level"},
			&cli.StringFlag{Name: "log-format", Usage: "override log.format"},
			&cli.StringFlag{Name: "http-addr", Usage: "override http.addr"},
			&cli.StringFlag{Name: "data-dir", Usage: "override storage.data_dir"},
			&cli.StringFlag{Name: "node-id", Usage: "override cluster.node_id"},
			&cli.BoolFlag{Name: "cluster", Usage: "override cluster.enabled"},
			&cli.BoolFlag{Name: "bootstrap", Usage: "override cluster.bootstrap"},
			&cli.StringSliceFlag{Name: "seed", Usage: "override cluster.seeds (repeatable)"},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Validate the configuration and exit",
				Action: func(c *cli.Context) error {
					cfg, loader, err := loadConfig(c)
					if err != nil {
						return err
					}
					source := loader.FilePath()
					if source == "" {
						source = "defaults and environment"
					}
					fmt.Fprintf(c.App.Writer, "configuration from %s is valid (cluster: %t, data dir: %s)\n",
						source, cfg.Cluster.Enabled, cfg.Storage.DataDir)
					return nil
				},
			},
		},
	}
}

func run(c *cli.Context) error {
	cfg, loader, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slogLogger := logger.Slog(log)

	slogLogger.Info("starting cloudlock-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", loader.FilePath(),
		"cluster", cfg.Cluster.Enabled)
	slogLogger.Debug("effective configuration", "config", config.Sanitize(cfg))

	shutdownHandler := shutdown.NewHandler(shutdownTimeout, shutdown.WithLogger(slogLogger))

	n, err := newNode(context.Background(), cfg, slogLogger, shutdownHandler.Trigger)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	// Hooks run in reverse order, so the node stops in reverse startup order.
	for _, h := range n.hooks {
		shutdownHandler.OnShutdownNamed(h.name, h.fn)
	}

	if path := loader.FilePath(); path != "" {
		stop, err := watchConfig(path, loader, slogLogger)
		if err != nil {
			slogLogger.Warn("config hot reload disabled", "error", err)
		} else {
			shutdownHandler.OnShutdownNamed("config watcher", func(context.Context) error { return stop() })
		}
	}

	slogLogger.Info("server started, press Ctrl+C to stop",
		"node_id", n.id,
		"http_addr", n.httpAddr())
	if err := shutdownHandler.Wait(); err != nil {
		slogLogger.Error("shutdown error", "error", err)
		return err
	}

	slogLogger.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from defaults, the config file, the
// environment and command line overrides, in increasing precedence.
func loadConfig(c *cli.Context) (*config.ServerConfig, *confloader.Loader, error) {
	if err := loadEnvFile(c.String("env-file")); err != nil {
		return nil, nil, err
	}

	cfg := config.Default()

	var opts []confloader.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)
	loader.SetOverrides(flagOverrides(c))

	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

// loadEnvFile loads a dotenv file into the process environment. Variables
// that are already set win. Only an explicitly named file must exist.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", defaultEnvFile, err)
	}
	return nil
}

// flagOverrides maps the command line flags that were set to koanf keys.
func flagOverrides(c *cli.Context) map[string]any {
	out := make(map[string]any)
	for flag, key := range map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"http-addr":  "http.addr",
		"data-dir":   "storage.data_dir",
		"node-id":    "cluster.node_id",
	} {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	if c.IsSet("cluster") {
		out["cluster.enabled"] = c.Bool("cluster")
	}
	if c.IsSet("bootstrap") {
		out["cluster.bootstrap"] = c.Bool("bootstrap")
	}
	if c.IsSet("seed") {
		out["cluster.seeds"] = c.StringSlice("seed")
	}
	return out
}

// initLogger initializes the structured logger and makes it the default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// watchConfig reloads the config file on change and applies the settings
// that can change at runtime. Only log.level is applied; other changes are
// logged and need a restart.
func watchConfig(path string, loader *confloader.Loader, log *slog.Logger) (stop func() error, err error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log.With("component", "config-watcher")))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg := config.Default()
		if err := loader.Reload(cfg); err != nil {
			log.Warn("config reload failed", "path", path, "error", err)
			return
		}
		if err := config.Verify(cfg); err != nil {
			log.Warn("reloaded config is invalid, keeping the running settings", "path", path, "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("config reloaded", "path", path, "log_level", cfg.Log.Level)
	})
	w.StartAsync()
	return w.Stop, nil
}
