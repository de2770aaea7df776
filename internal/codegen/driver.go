package codegen

import (
	"fmt"

	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"go.uber.org/zap"
)

// Linker turns PTX into a cubin for an architecture.
type Linker interface {
	Link(ptxes []string, arch Arch, maxRegisters int) ([]byte, error)
}

// LinkerFunc adapts a function to Linker.
type LinkerFunc func(ptxes []string, arch Arch, maxRegisters int) ([]byte, error)

func (f LinkerFunc) Link(ptxes []string, arch Arch, maxRegisters int) ([]byte, error) {
	return f(ptxes, arch, maxRegisters)
}

// DriverStrategy is the default strategy: it links every fragment of the
// architecture with the driver's JIT compiler, which requires a driver at
// least as new as the toolkit that produced the PTX.
type DriverStrategy struct {
	Linker Linker
	Logger *zap.Logger
}

var _ Strategy = (*DriverStrategy)(nil)

func (s *DriverStrategy) Name() string { return "driver" }

func (s *DriverStrategy) Cubin(lib *Library, arch Arch) ([]byte, error) {
	if cubin, ok := lib.CachedCubin(arch); ok {
		metrics.CubinCache.WithLabelValues("hit").Inc()
		return cubin, nil
	}
	metrics.CubinCache.WithLabelValues("miss").Inc()

	ptxes := lib.PTXes(arch)
	if len(ptxes) == 0 {
		return nil, errs.Errorf(errs.State, "codegen.DriverStrategy", "library %q has no PTX for %s", lib.Name(), arch.SMName())
	}
	if s.Logger != nil {
		s.Logger.Debug("linking with driver JIT",
			zap.String("library", lib.Name()),
			zap.String("arch", arch.SMName()),
			zap.Int("fragments", len(ptxes)))
	}
	cubin, err := s.Linker.Link(ptxes, arch, lib.MaxRegisters)
	if err != nil {
		return nil, fmt.Errorf("failed to link %s for %s: %w", lib.Name(), arch.SMName(), err)
	}
	lib.StoreCubin(arch, cubin)
	return cubin, nil
}
