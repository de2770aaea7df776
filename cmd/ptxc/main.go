package main

import (
	"fmt"
	"os"

	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/logger"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"github.com/rapidsai/ptxcompiler/internal/probe"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	var rootLogger *zap.Logger
	app := newApp(&rootLogger)

	if err := app.Run(os.Args); err != nil {
		if rootLogger != nil {
			rootLogger.Error("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI. The logger configured by the Before hook is stored in
// rootLogger.
func newApp(rootLogger **zap.Logger) *cli.App {
	var configPath, logLevel, metricsTextfile string
	cfg := config.Default()

	return &cli.App{
		Name:                 "ptxc",
		Usage:                "Compile PTX to cubin and patch code generation for forward compatibility",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to a yaml configuration file",
				EnvVars:     []string{"PTXCOMPILER_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log verbosity: debug, info, warn, error or critical; empty disables logging",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "metrics-textfile",
				Usage:       "Write prometheus metrics to this file on exit",
				Destination: &metricsTextfile,
			},
		},
		Before: func(c *cli.Context) error {
			if configPath != "" {
				loaded, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config %s: %w", configPath, err)
				}
				*cfg = *loaded
			}
			cfg.ApplyEnv(os.LookupEnv)
			if c.IsSet("log-level") {
				cfg.Logger.Verbosity = logLevel
			}
			if c.IsSet("metrics-textfile") {
				cfg.Metrics.Textfile = metricsTextfile
			}
			*rootLogger = logger.NewWithWriter(cfg.Logger.Verbosity, c.App.ErrWriter).Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			// The worker runs as a child of a command that writes the textfile itself.
			if cfg.Metrics.Textfile == "" || c.Args().First() == probe.WorkerCommand {
				return nil
			}
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				return fmt.Errorf("failed to write metrics to %s: %w", cfg.Metrics.Textfile, err)
			}
			return nil
		},
		Commands: []*cli.Command{
			compileCommand(cfg, rootLogger),
			checkCommand(cfg, rootLogger),
			patchCommand(cfg, rootLogger),
			versionCommand(cfg, rootLogger),
			infoCommand(cfg, rootLogger),
			probeVersionsCommand(),
		},
	}
}
