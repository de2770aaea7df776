package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rapidsai/ptxcompiler/internal/app"
	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/rapidsai/ptxcompiler/internal/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func compileCommand(cfg *config.Config, rootLogger **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Compile a PTX file to a cubin with the static PTX compiler",
		ArgsUsage: "<file.ptx>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "arch",
				Usage:    "Target architecture, e.g. sm_75",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "maxrregcount",
				Usage: "Maximum registers per thread; overrides compiler.maxRegisters",
			},
			&cli.StringSliceFlag{
				Name:  "option",
				Usage: "Extra compiler option passed through verbatim (repeatable)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file; defaults to the input with a .cubin extension",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("compile takes exactly one PTX file", 2)
			}
			input := c.Args().First()
			arch, err := codegen.ParseArch(c.String("arch"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			maxRegisters := cfg.Compiler.MaxRegisters
			if c.IsSet("maxrregcount") {
				maxRegisters = c.Int("maxrregcount")
			}
			options := compat.Options(arch, maxRegisters)
			options = append(options, cfg.Compiler.ExtraOptions...)
			options = append(options, c.StringSlice("option")...)

			output := c.String("output")
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".cubin"
			}

			ptx, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", input, err)
			}

			log := (*rootLogger).Named("compile")
			return app.Run(cfg, log, func(lib nvptx.Library) error {
				log.Debug("compiling", zap.String("input", input), zap.Strings("options", options))
				res, err := session.Compile(lib, string(ptx), options, session.WithLogger(log))
				if err != nil {
					if detail := errs.DetailOf(err); detail != "" {
						fmt.Fprintln(c.App.ErrWriter, strings.TrimRight(detail, "\n"))
					}
					return cli.Exit(fmt.Sprintf("failed to compile %s: %s", input, errs.KindOf(err)), 1)
				}
				if res.InfoLog != "" {
					fmt.Fprintln(c.App.ErrWriter, strings.TrimRight(res.InfoLog, "\n"))
				}
				if err := os.WriteFile(output, res.Program, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(c.App.Writer, "%s: %d bytes for %s\n", output, len(res.Program), arch.SMName())
				return nil
			})
		},
	}
}

func versionCommand(cfg *config.Config, rootLogger **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version of the PTX compiler library",
		Action: func(c *cli.Context) error {
			return app.Run(cfg, (*rootLogger).Named("version"), func(lib nvptx.Library) error {
				major, minor, err := lib.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "nvPTXCompiler %d.%d\n", major, minor)
				fmt.Fprintf(c.App.Writer, "codegen %s\n", codegen.FrameworkVersion)
				return nil
			})
		},
	}
}
