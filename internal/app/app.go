// Package app wires the module's components together with fx.
package app

import (
	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/config"
	"github.com/rapidsai/ptxcompiler/internal/cudadrv"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/rapidsai/ptxcompiler/internal/probe"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides the compiler library, the strategy registry, the codegen,
// the version probe runner and the compatibility gate. It needs a
// *config.Config and a *zap.Logger.
var Module = fx.Options(
	fx.Provide(
		newCompiler,
		newRegistry,
		newCodegen,
		newRunner,
		newReplacement,
		newGate,
	),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		l := &fxevent.ZapLogger{Logger: log.Named("fx")}
		l.UseLogLevel(zapcore.DebugLevel)
		l.UseErrorLevel(zapcore.DebugLevel)
		return l
	}),
)

// Run builds the component graph and calls invoke with the components it
// asks for. Only the constructors invoke depends on run, so commands that do
// not compile PTX work without the compiler library.
func Run(cfg *config.Config, log *zap.Logger, invoke any) error {
	return fx.New(fx.Supply(cfg, log), Module, fx.Invoke(invoke)).Err()
}

func newCompiler() (nvptx.Library, error) {
	return nvptx.Open()
}

func newRegistry(log *zap.Logger) *codegen.Registry {
	return codegen.NewRegistry(&codegen.DriverStrategy{
		Linker: codegen.LinkerFunc(driverLink),
		Logger: log.Named("codegen"),
	})
}

func driverLink(ptxes []string, arch codegen.Arch, maxRegisters int) ([]byte, error) {
	return cudadrv.JITLinker{}.Link(ptxes, arch.Major, arch.Minor, maxRegisters)
}

// CurrentDevice returns the compute capability of device 0.
func CurrentDevice() (codegen.Arch, error) {
	major, minor, err := cudadrv.ComputeCapability(0)
	if err != nil {
		return codegen.Arch{}, err
	}
	return codegen.Arch{Major: major, Minor: minor}, nil
}

func newCodegen(registry *codegen.Registry, log *zap.Logger) *codegen.Codegen {
	return codegen.New(registry, codegen.DeviceQueryFunc(CurrentDevice), codegen.WithLogger(log.Named("codegen")))
}

func newRunner(cfg *config.Config, log *zap.Logger) probe.Runner {
	e := &probe.Exec{
		Path:    cfg.Probe.Command,
		Timeout: cfg.Probe.Timeout,
		Logger:  log,
	}
	if len(cfg.Probe.Args) > 0 {
		e.Args = cfg.Probe.Args
	}
	return e
}

// newReplacement returns the forward-compatible strategy, or nil when the
// compiler library cannot be opened.
func newReplacement(cfg *config.Config, log *zap.Logger) codegen.Strategy {
	lib, err := nvptx.Open()
	if err != nil {
		log.Debug("PTX compiler library unavailable, patching disabled", zap.Error(err))
		return nil
	}
	return &compat.StaticStrategy{
		Compiler:     lib,
		ExtraOptions: cfg.Compiler.ExtraOptions,
		Logger:       log.Named("ptxcompiler"),
	}
}

func newGate(cfg *config.Config, log *zap.Logger, cg *codegen.Codegen, runner probe.Runner, replacement codegen.Strategy) *compat.Gate {
	return compat.NewGate(cg, cg.Registry(), runner, replacement,
		compat.WithDirectives(cfg.Directives()),
		compat.WithLogger(log))
}
