package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rapidsai/ptxcompiler/internal/app"
	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/decisioncache"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/probe"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var cacheFlag = &cli.BoolFlag{
	Name:  "cache",
	Usage: "Reuse a decision cached by an earlier run (see cache.path and cache.maxAge)",
}

var clearCacheFlag = &cli.BoolFlag{
	Name:  "clear-cache",
	Usage: "Remove the cached decision before deciding",
}

// decide runs the gate's decision procedure, through the decision cache when
// useCache is set.
func decide(ctx context.Context, cfg *config.Config, gate *compat.Gate, useCache bool) (compat.Decision, bool, error) {
	if !useCache {
		d, err := gate.Decide(ctx)
		return d, false, err
	}
	cache, err := decisioncache.New(cfg.Cache.Path, cfg.Cache.MaxAge)
	if err != nil {
		return compat.Decision{}, false, err
	}
	return cache.Decide(ctx, cfg.Directives(), gate.Decide)
}

func clearCache(cfg *config.Config) error {
	cache, err := decisioncache.New(cfg.Cache.Path, cfg.Cache.MaxAge)
	if err != nil {
		return err
	}
	return cache.Clear()
}

func printDecision(w io.Writer, d compat.Decision, cached bool) {
	fmt.Fprintf(w, "patch: %t\n", d.Patch)
	fmt.Fprintf(w, "reason: %s\n", d.Reason)
	if d.HasVersions {
		fmt.Fprintf(w, "driver: %s\n", d.Driver)
		fmt.Fprintf(w, "runtime: %s\n", d.Runtime)
	}
	fmt.Fprintf(w, "cached: %t\n", cached)
	if d.Err != nil {
		fmt.Fprintf(w, "probe error: %v\n", d.Err)
	}
}

func checkCommand(cfg *config.Config, rootLogger **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Decide whether code generation needs the forward-compatibility patch",
		Flags: []cli.Flag{cacheFlag, clearCacheFlag},
		Action: func(c *cli.Context) error {
			if c.Bool("clear-cache") {
				if err := clearCache(cfg); err != nil {
					return err
				}
			}
			return app.Run(cfg, (*rootLogger).Named("check"), func(gate *compat.Gate) error {
				d, cached, err := decide(c.Context, cfg, gate, c.Bool("cache"))
				if err != nil {
					return err
				}
				printDecision(c.App.Writer, d, cached)
				return nil
			})
		},
	}
}

func patchCommand(cfg *config.Config, rootLogger **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "Patch code generation if needed, then build cubins for the given PTX files",
		ArgsUsage: "[file.ptx...]",
		Flags: []cli.Flag{
			cacheFlag,
			&cli.StringFlag{
				Name:  "arch",
				Usage: "Target architecture for the PTX files; defaults to device 0",
			},
		},
		Action: func(c *cli.Context) error {
			log := (*rootLogger).Named("patch")
			return app.Run(cfg, log, func(gate *compat.Gate, cg *codegen.Codegen) error {
				var d compat.Decision
				var cached bool
				var err error
				if c.Bool("cache") {
					d, cached, err = decide(c.Context, cfg, gate, true)
					if err == nil {
						err = gate.Apply(d)
					}
				} else {
					d, err = gate.PatchIfNeeded(c.Context)
				}
				if err != nil {
					return err
				}
				printDecision(c.App.Writer, d, cached)
				fmt.Fprintf(c.App.Writer, "state: %s\n", gate.State())
				fmt.Fprintf(c.App.Writer, "strategy: %s\n", cg.Registry().Current().Name())

				if c.NArg() == 0 {
					return nil
				}
				var arch codegen.Arch
				if s := c.String("arch"); s != "" {
					if arch, err = codegen.ParseArch(s); err != nil {
						return cli.Exit(err.Error(), 2)
					}
				} else if arch, err = app.CurrentDevice(); err != nil {
					return fmt.Errorf("no --arch given and failed to query device 0: %w", err)
				}
				for _, input := range c.Args().Slice() {
					if err := buildCubin(c.App.Writer, cg, cfg, input, arch, log); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// buildCubin compiles input through a code library, as a JIT-compiling
// framework would, and writes the cubin next to it.
func buildCubin(w io.Writer, cg *codegen.Codegen, cfg *config.Config, input string, arch codegen.Arch, log *zap.Logger) error {
	ptx, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	lib := cg.NewLibrary(name)
	lib.MaxRegisters = cfg.Compiler.MaxRegisters
	lib.AddPTX(arch, string(ptx))

	cubin, err := lib.Cubin(arch)
	if err != nil {
		if detail := errs.DetailOf(err); detail != "" {
			log.Error("failed to build cubin", zap.String("library", name), zap.String("log", detail))
		}
		return fmt.Errorf("failed to build cubin for %s: %w", input, err)
	}
	output := strings.TrimSuffix(input, filepath.Ext(input)) + ".cubin"
	if err := os.WriteFile(output, cubin, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(w, "%s: %d bytes for %s via %s\n", output, len(cubin), arch.SMName(), lib.Strategy().Name())
	return nil
}

func probeVersionsCommand() *cli.Command {
	return &cli.Command{
		Name:   probe.WorkerCommand,
		Usage:  "Print the driver and runtime versions as four integers (used by the version probe)",
		Hidden: true,
		Action: func(c *cli.Context) error {
			return probe.Report(c.App.Writer, probe.CUDA)
		},
	}
}
