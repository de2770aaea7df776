// Package codegen is the code-generation framework that turns the PTX of a
// compiled kernel library into a cubin for a device architecture.
//
// How a cubin is produced is decided by a Strategy. The process-wide Registry
// holds the strategy bound to every Library created from then on; libraries
// created earlier keep the strategy they were built with.
package codegen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"go.uber.org/zap"
)

// FrameworkVersion is the version of this code-generation framework.
var FrameworkVersion = version.Version{Major: 0, Minor: 55}

// Arch is a device compute capability.
type Arch struct {
	Major int
	Minor int
}

// IsZero reports whether the architecture is unset.
func (a Arch) IsZero() bool { return a.Major == 0 && a.Minor == 0 }

// SMName returns the architecture in the sm_XY form used by the compilers.
func (a Arch) SMName() string { return fmt.Sprintf("sm_%d%d", a.Major, a.Minor) }

func (a Arch) String() string { return fmt.Sprintf("%d.%d", a.Major, a.Minor) }

// ParseArch accepts "sm_75", "75" or "7.5".
func ParseArch(s string) (Arch, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "sm_")
	if major, minor, ok := strings.Cut(s, "."); ok {
		ma, err1 := strconv.Atoi(major)
		mi, err2 := strconv.Atoi(minor)
		if err1 != nil || err2 != nil || ma <= 0 || mi < 0 {
			return Arch{}, fmt.Errorf("invalid architecture %q", s)
		}
		return Arch{Major: ma, Minor: mi}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 10 {
		return Arch{}, fmt.Errorf("invalid architecture %q", s)
	}
	return Arch{Major: n / 10, Minor: n % 10}, nil
}

// DeviceQuery reports the compute capability of the current device.
type DeviceQuery interface {
	ComputeCapability() (Arch, error)
}

// DeviceQueryFunc adapts a function to DeviceQuery.
type DeviceQueryFunc func() (Arch, error)

func (f DeviceQueryFunc) ComputeCapability() (Arch, error) { return f() }

// Strategy produces the cubin of a library for one architecture.
type Strategy interface {
	Name() string
	Cubin(lib *Library, arch Arch) ([]byte, error)
}

type slot struct{ strategy Strategy }

// Registry is the well-known slot holding the strategy future libraries are
// built with. Replacing it is a single atomic swap.
type Registry struct {
	current atomic.Pointer[slot]
}

// NewRegistry returns a registry holding initial.
func NewRegistry(initial Strategy) *Registry {
	r := &Registry{}
	r.current.Store(&slot{strategy: initial})
	return r
}

// Current returns the installed strategy.
func (r *Registry) Current() Strategy {
	return r.current.Load().strategy
}

// Install replaces the installed strategy and returns the one it replaced.
func (r *Registry) Install(s Strategy) Strategy {
	return r.current.Swap(&slot{strategy: s}).strategy
}

// Codegen creates libraries bound to the registry's current strategy.
type Codegen struct {
	registry *Registry
	device   DeviceQuery
	version  version.Version
	logger   *zap.Logger
}

type Option func(*Codegen)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Codegen) { c.logger = logger }
}

// WithVersion overrides the framework version the codegen reports.
func WithVersion(v version.Version) Option {
	return func(c *Codegen) { c.version = v }
}

// New returns a Codegen drawing strategies from registry. device resolves the
// architecture when a caller asks for a cubin without naming one.
func New(registry *Registry, device DeviceQuery, opts ...Option) *Codegen {
	c := &Codegen{
		registry: registry,
		device:   device,
		version:  FrameworkVersion,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the strategy registry this codegen draws from.
func (c *Codegen) Registry() *Registry { return c.registry }

// Version returns the framework version.
func (c *Codegen) Version() (version.Version, error) { return c.version, nil }

// NewLibrary creates an empty library bound to the current strategy.
func (c *Codegen) NewLibrary(name string) *Library {
	s := c.registry.Current()
	c.logger.Debug("creating code library", zap.String("library", name), zap.String("strategy", s.Name()))
	return &Library{
		name:     name,
		strategy: s,
		device:   c.device,
		ptx:      make(map[Arch][]string),
		cubins:   make(map[Arch][]byte),
	}
}

// Library is one code-generation unit: the PTX fragments of a kernel library
// per architecture and the cubins already produced from them.
type Library struct {
	name     string
	strategy Strategy
	device   DeviceQuery

	// MaxRegisters caps registers per thread. Zero leaves the compiler default.
	MaxRegisters int

	mu     sync.Mutex
	ptx    map[Arch][]string
	cubins map[Arch][]byte
}

func (l *Library) Name() string { return l.name }

// Strategy returns the strategy bound at construction.
func (l *Library) Strategy() Strategy { return l.strategy }

// AddPTX appends a PTX fragment for arch.
func (l *Library) AddPTX(arch Arch, ptx string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ptx[arch] = append(l.ptx[arch], ptx)
}

// PTXes returns the fragments added for arch.
func (l *Library) PTXes(arch Arch) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ptx[arch]...)
}

// CachedCubin returns the cubin produced earlier for arch, if any.
func (l *Library) CachedCubin(arch Arch) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.cubins[arch]
	return b, ok
}

// StoreCubin records the cubin for arch.
func (l *Library) StoreCubin(arch Arch, cubin []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cubins[arch] = cubin
}

// Cubin returns the cubin for arch using the library's strategy. A zero arch
// means the current device's.
func (l *Library) Cubin(arch Arch) ([]byte, error) {
	if arch.IsZero() {
		if l.device == nil {
			return nil, errs.Errorf(errs.State, "codegen.Cubin", "no architecture given and no device to query")
		}
		var err error
		if arch, err = l.device.ComputeCapability(); err != nil {
			return nil, fmt.Errorf("failed to query device compute capability: %w", err)
		}
	}
	return l.strategy.Cubin(l, arch)
}
