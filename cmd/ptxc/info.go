package main

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"github.com/rapidsai/ptxcompiler/internal/app"
	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func infoCommand(cfg *config.Config, rootLogger **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show library versions and the current patch decision",
		Flags: []cli.Flag{cacheFlag},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintln(w, figure.NewFigure("ptxcompiler", "", true).String())

			if lib, err := nvptx.Open(); err != nil {
				fmt.Fprintf(w, "PTX compiler: not available (%v)\n", err)
			} else if major, minor, err := lib.Version(); err != nil {
				fmt.Fprintf(w, "PTX compiler: version unknown (%v)\n", err)
			} else {
				fmt.Fprintf(w, "PTX compiler: %d.%d\n", major, minor)
			}
			fmt.Fprintf(w, "Codegen: %s (patchable %s to %s)\n", codegen.FrameworkVersion, compat.MinHostVersion, compat.MaxHostVersion)
			fmt.Fprintln(w, "-----------------------------------------------")

			return app.Run(cfg, (*rootLogger).Named("info"), func(gate *compat.Gate) error {
				d, cached, err := decide(c.Context, cfg, gate, c.Bool("cache"))
				if err != nil {
					fmt.Fprintf(w, "patch: not possible (%v)\n", err)
					return nil
				}
				printDecision(w, d, cached)
				return nil
			})
		},
	}
}
