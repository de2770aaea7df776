package compat

import (
	"fmt"

	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/rapidsai/ptxcompiler/internal/session"
	"go.uber.org/zap"
)

// StaticStrategy produces cubins with the static PTX compiler library instead
// of the driver's JIT, so PTX from a newer toolkit runs on an older driver.
type StaticStrategy struct {
	Compiler nvptx.Library
	// ExtraOptions are appended to the options every compile gets.
	ExtraOptions []string
	Logger       *zap.Logger
}

var _ codegen.Strategy = (*StaticStrategy)(nil)

func (s *StaticStrategy) Name() string { return "ptxcompiler" }

// Options returns the compiler options for arch.
func Options(arch codegen.Arch, maxRegisters int) []string {
	opts := []string{"--gpu-name=" + arch.SMName()}
	if maxRegisters > 0 {
		opts = append(opts, fmt.Sprintf("--maxrregcount=%d", maxRegisters))
	}
	return opts
}

func (s *StaticStrategy) Cubin(lib *codegen.Library, arch codegen.Arch) ([]byte, error) {
	if cubin, ok := lib.CachedCubin(arch); ok {
		metrics.CubinCache.WithLabelValues("hit").Inc()
		return cubin, nil
	}
	metrics.CubinCache.WithLabelValues("miss").Inc()

	ptxes := lib.PTXes(arch)
	switch len(ptxes) {
	case 0:
		return nil, errs.Errorf(errs.State, "compat.StaticStrategy", "library %q has no PTX for %s", lib.Name(), arch.SMName())
	case 1:
	default:
		return nil, errs.Errorf(errs.UnsupportedLink, "compat.StaticStrategy",
			"cannot link multiple PTX files with forward compatibility (%d fragments for %s)", len(ptxes), arch.SMName())
	}

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	options := append(Options(arch, lib.MaxRegisters), s.ExtraOptions...)
	logger.Debug("compiling PTX with the static compiler",
		zap.String("library", lib.Name()),
		zap.Strings("options", options))

	res, err := session.Compile(s.Compiler, ptxes[0], options, session.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if res.InfoLog != "" {
		logger.Debug("compiler info log", zap.String("library", lib.Name()), zap.String("log", res.InfoLog))
	}
	lib.StoreCubin(arch, res.Program)
	return res.Program, nil
}
