// Package compat decides whether the code generator must be switched to the
// forward-compatible strategy and switches it.
//
// When the installed driver is older than the runtime that produced the PTX,
// the driver's JIT cannot consume that PTX. Compiling it ahead of time with the
// static PTX compiler library sidesteps the driver, which is what
// StaticStrategy does.
package compat

import (
	"context"
	"fmt"

	"github.com/rapidsai/ptxcompiler/internal/codegen"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"github.com/rapidsai/ptxcompiler/internal/probe"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"go.uber.org/zap"
)

// The host framework versions the forward-compatible strategy supports.
// Newer frameworks handle minor version compatibility themselves.
var (
	MinHostVersion = version.Version{Major: 0, Minor: 54}
	MaxHostVersion = version.Version{Major: 0, Minor: 56}
)

// Host is the code-generation framework whose strategy the gate replaces.
type Host interface {
	Version() (version.Version, error)
}

// State is the gate's position in its decision lifecycle.
type State int

const (
	Unchecked State = iota
	Probing
	PatchApplied
	PatchSkipped
	ProbeFailed
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Probing:
		return "probing"
	case PatchApplied:
		return "patch_applied"
	case PatchSkipped:
		return "patch_skipped"
	case ProbeFailed:
		return "probe_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Directives are the operator's overrides of the decision procedure.
type Directives struct {
	// Force patches without looking at versions.
	Force bool
	// SkipProbe forbids spawning the version probe.
	SkipProbe bool
	// KnownDriver and KnownRuntime are dot-separated versions compared
	// instead of probing when SkipProbe is set.
	KnownDriver  string
	KnownRuntime string
}

// Reason says which step of the decision procedure settled a Decision.
type Reason string

const (
	ReasonForced        Reason = "forced"
	ReasonSkipped       Reason = "check disabled"
	ReasonKnownVersions Reason = "known versions"
	ReasonProbed        Reason = "probed"
	ReasonProbeFailed   Reason = "probe failed"
)

// Decision is the outcome of the decision procedure.
type Decision struct {
	Patch  bool
	Reason Reason
	// Driver and Runtime are set when HasVersions is.
	Driver      version.Version
	Runtime     version.Version
	HasVersions bool
	// Err is the probe failure behind a ReasonProbeFailed decision.
	Err error
}

// State is the terminal state acting on the decision leads to.
func (d Decision) State() State {
	switch {
	case d.Err != nil:
		return ProbeFailed
	case d.Patch:
		return PatchApplied
	default:
		return PatchSkipped
	}
}

// Gate runs the decision procedure and installs the replacement strategy.
type Gate struct {
	host        Host
	registry    *codegen.Registry
	runner      probe.Runner
	replacement codegen.Strategy
	directives  Directives
	logger      *zap.Logger

	state State
}

type Option func(*Gate)

func WithDirectives(d Directives) Option {
	return func(g *Gate) { g.directives = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) { g.logger = logger.Named("compat") }
}

// NewGate returns a gate that installs replacement into registry when
// patching is warranted. runner is only used when versions must be probed.
func NewGate(host Host, registry *codegen.Registry, runner probe.Runner, replacement codegen.Strategy, opts ...Option) *Gate {
	g := &Gate{
		host:        host,
		registry:    registry,
		runner:      runner,
		replacement: replacement,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the state the last PatchIfNeeded left the gate in.
func (g *Gate) State() State { return g.state }

// CheckHost fails with a HostIncompatible error unless the host framework is
// present and inside the supported version band.
func (g *Gate) CheckHost() error {
	if g.host == nil || g.registry == nil {
		return errs.Errorf(errs.HostIncompatible, "compat.CheckHost", "cannot patch codegen: host framework unavailable")
	}
	v, err := g.host.Version()
	if err != nil {
		return errs.New(errs.HostIncompatible, "compat.CheckHost", "cannot patch codegen: failed to determine host framework version", err)
	}
	if v.Less(MinHostVersion) {
		return errs.Errorf(errs.HostIncompatible, "compat.CheckHost",
			"cannot patch codegen: version %s is insufficient for ptxcompiler patching - at least %s is needed", v, MinHostVersion)
	}
	if MaxHostVersion.Less(v) {
		return errs.Errorf(errs.HostIncompatible, "compat.CheckHost",
			"cannot patch codegen: version %s should not be patched; enable its minor version compatibility support instead", v)
	}
	return nil
}

// Decide runs the decision procedure without acting on it. The returned error
// is non-nil only when the host is incompatible; a failed probe is reported in
// Decision.Err and decides against patching.
func (g *Gate) Decide(ctx context.Context) (Decision, error) {
	if err := g.CheckHost(); err != nil {
		return Decision{}, err
	}

	if g.directives.Force {
		g.logger.Debug("patch forced by directive")
		return Decision{Patch: true, Reason: ReasonForced}, nil
	}

	if g.directives.SkipProbe {
		drv, drvErr := version.Parse(g.directives.KnownDriver)
		rt, rtErr := version.Parse(g.directives.KnownRuntime)
		if drvErr != nil || rtErr != nil {
			g.logger.Warn("No way to determine driver and runtime versions for patching, set the known driver and runtime versions",
				zap.String("knownDriver", g.directives.KnownDriver),
				zap.String("knownRuntime", g.directives.KnownRuntime))
			return Decision{Reason: ReasonSkipped}, nil
		}
		return g.compare(ReasonKnownVersions, drv, rt), nil
	}

	g.state = Probing
	defer func() { g.state = Unchecked }()
	v, err := g.runner.Run(ctx)
	if err != nil {
		g.logger.Error("Error getting driver and runtime versions, not patching codegen",
			zap.String("output", errs.DetailOf(err)),
			zap.Error(err))
		return Decision{Reason: ReasonProbeFailed, Err: err}, nil
	}
	return g.compare(ReasonProbed, v.Driver, v.Runtime), nil
}

func (g *Gate) compare(reason Reason, drv, rt version.Version) Decision {
	g.logger.Debug("CUDA driver version", zap.Stringer("version", drv))
	g.logger.Debug("CUDA runtime version", zap.Stringer("version", rt))
	return Decision{
		Patch:       drv.Less(rt),
		Reason:      reason,
		Driver:      drv,
		Runtime:     rt,
		HasVersions: true,
	}
}

// PatchIfNeeded decides and, when patching is warranted, installs the
// replacement strategy. Installation is one-way: libraries created afterwards
// use the replacement until the registry is discarded.
func (g *Gate) PatchIfNeeded(ctx context.Context) (Decision, error) {
	g.state = Unchecked
	d, err := g.Decide(ctx)
	if err != nil {
		return d, err
	}
	return d, g.Apply(d)
}

// Apply acts on a decision made earlier, possibly by another process.
func (g *Gate) Apply(d Decision) error {
	if err := g.CheckHost(); err != nil {
		return err
	}

	if d.Patch && g.replacement == nil {
		return errs.Errorf(errs.HostIncompatible, "compat.Apply", "cannot patch codegen: the PTX compiler library is unavailable")
	}

	if d.Patch {
		g.logger.Debug("Patching codegen for forward compatibility", zap.String("reason", string(d.Reason)))
		prev := g.registry.Install(g.replacement)
		g.logger.Debug("strategy replaced",
			zap.String("previous", prev.Name()),
			zap.String("current", g.replacement.Name()))
		metrics.PatchApplied.Set(1)
	} else {
		g.logger.Debug("Not patching codegen", zap.String("reason", string(d.Reason)))
	}

	g.state = d.State()
	metrics.Decisions.WithLabelValues(g.state.String()).Inc()
	return nil
}
