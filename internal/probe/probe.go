// Package probe detects the installed CUDA driver version and the CUDA
// runtime version without touching the caller's process state.
//
// Querying the driver in-process can initialize a device context, which cannot
// be undone and which the caller may not want before it has decided whether to
// patch its code generator. The queries therefore run in a freshly executed
// child process (never a forked copy of the caller), which reports the two
// versions as four integers on a single line of standard output:
//
//	<driver major> <driver minor> <runtime major> <runtime minor>
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rapidsai/ptxcompiler/internal/cudadrv"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"go.uber.org/zap"
)

// WorkerCommand is the hidden subcommand of this module's binary that runs
// the worker side of the probe.
const WorkerCommand = "probe-versions"

// Versions is the outcome of a successful probe.
type Versions struct {
	Driver  version.Version
	Runtime version.Version
}

// Runner runs the version queries in isolation from the calling process.
type Runner interface {
	Run(ctx context.Context) (Versions, error)
}

// Exec runs the probe worker as a new process.
type Exec struct {
	// Path is the executable to run. Empty means the running binary.
	Path string
	// Args are passed to the executable. Nil means []string{WorkerCommand}.
	Args []string
	// Env is appended to the calling process's environment.
	Env []string
	// Timeout bounds the wait for the worker. Zero waits indefinitely.
	Timeout time.Duration

	Logger *zap.Logger
}

var _ Runner = (*Exec)(nil)

// Run starts the worker and blocks until it exits. Any failure is a
// ProbeError whose detail holds the worker's stdout and stderr.
func (e *Exec) Run(ctx context.Context) (Versions, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("probe")

	path := e.Path
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			metrics.ProbesTotal.WithLabelValues("failed").Inc()
			return Versions{}, errs.New(errs.Probe, "probe.Run", "", errors.Wrap(err, "failed to locate the running executable"))
		}
		path = self
	}
	args := e.Args
	if args == nil {
		args = []string{WorkerCommand}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning version probe", zap.String("path", path), zap.Strings("args", args))
	begin := time.Now()
	if err := cmd.Run(); err != nil {
		metrics.ProbesTotal.WithLabelValues("failed").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrapf(ctxErr, "version probe %s did not finish", path)
		} else {
			err = errors.Wrapf(err, "version probe %s failed", path)
		}
		return Versions{}, errs.New(errs.Probe, "probe.Run", outputDetail(stdout.String(), stderr.String()), err)
	}

	v, err := ParseReport(stdout.String())
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("failed").Inc()
		return Versions{}, errs.New(errs.Probe, "probe.Run", outputDetail(stdout.String(), stderr.String()), err)
	}
	metrics.ProbesTotal.WithLabelValues("ok").Inc()
	logger.Debug("version probe finished",
		zap.Stringer("driver", v.Driver),
		zap.Stringer("runtime", v.Runtime),
		zap.Duration("elapsed", time.Since(begin)))
	return v, nil
}

func outputDetail(stdout, stderr string) string {
	return fmt.Sprintf("stdout:\n\n%s\n\nstderr:\n\n%s", stdout, stderr)
}

// ParseReport parses the worker's single-line report.
func ParseReport(out string) (Versions, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 4 {
		return Versions{}, errors.Errorf("expected 4 integers in version probe output, got %d fields: %q", len(fields), out)
	}
	var nums [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Versions{}, errors.Wrapf(err, "malformed version probe output %q", out)
		}
		nums[i] = n
	}
	return Versions{
		Driver:  version.Version{Major: nums[0], Minor: nums[1]},
		Runtime: version.Version{Major: nums[2], Minor: nums[3]},
	}, nil
}

// Queryer is the worker side's source of versions.
type Queryer interface {
	DriverVersion() (version.Version, error)
	RuntimeVersion() (version.Version, error)
}

type cudaQueryer struct{}

func (cudaQueryer) DriverVersion() (version.Version, error)  { return cudadrv.DriverVersion() }
func (cudaQueryer) RuntimeVersion() (version.Version, error) { return cudadrv.RuntimeVersion() }

// CUDA queries the installed driver and the linked runtime.
var CUDA Queryer = cudaQueryer{}

// Report runs the queries and writes the single-line report to w. It is meant
// to run inside the worker process only.
func Report(w io.Writer, q Queryer) error {
	drv, err := q.DriverVersion()
	if err != nil {
		return errors.WithMessage(err, "failed to query driver version")
	}
	rt, err := q.RuntimeVersion()
	if err != nil {
		return errors.WithMessage(err, "failed to query runtime version")
	}
	_, err = fmt.Fprintf(w, "%d %d %d %d\n", drv.Major, drv.Minor, rt.Major, rt.Minor)
	return err
}
