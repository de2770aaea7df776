// Package session owns one PTX-to-cubin compilation attempt end to end:
// creating the native compiler handle, compiling once, reading the program and
// logs, and destroying the handle exactly once.
package session

import (
	"errors"
	"time"

	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/metrics"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"go.uber.org/zap"
)

type state int

const (
	uncompiled state = iota
	compiled
	failed
	closed
)

func (s state) String() string {
	switch s {
	case uncompiled:
		return "uncompiled"
	case compiled:
		return "compiled"
	case failed:
		return "failed"
	default:
		return "closed"
	}
}

// Session wraps a single native compiler handle. It is not safe for
// concurrent use.
type Session struct {
	lib     nvptx.Library
	handle  nvptx.Handle
	source  string
	options []string
	state   state
	// last is the state before Close, used to label the session metric.
	last   state
	logger *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle debug messages.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a native compiler handle from PTX source. Failure to create it
// is a CreationError and is not retried.
func New(lib nvptx.Library, source string, opts ...Option) (*Session, error) {
	s := &Session{lib: lib, source: source, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")

	h, err := lib.Create(source)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("creation_error").Inc()
		return nil, errs.New(errs.Creation, "session.New", "", err)
	}
	s.handle = h
	metrics.HandlesLive.Inc()
	s.logger.Debug("created compiler handle", zap.Uint64("handle", uint64(h)), zap.Int("ptx_bytes", len(source)))
	return s, nil
}

// Source returns the PTX text the session was created from.
func (s *Session) Source() string {
	return s.source
}

// Options returns the options passed to Compile, or nil before Compile.
func (s *Session) Options() []string {
	return s.options
}

// Compile runs the native compiler. It may be called once per session.
//
// On failure it returns a CompileError carrying the error log, which is read
// before returning; the session stays open so ErrorLog can be read again.
func (s *Session) Compile(options []string) error {
	if s.state != uncompiled {
		return errs.Errorf(errs.State, "session.Compile", "compile called on a %s session", s.state)
	}
	s.options = append([]string(nil), options...)

	begin := time.Now()
	err := s.lib.Compile(s.handle, s.options)
	metrics.CompileDuration.Observe(float64(time.Since(begin).Microseconds()) / 1000)
	if err == nil {
		s.state = compiled
		s.logger.Debug("compiled", zap.Strings("options", s.options), zap.Duration("elapsed", time.Since(begin)))
		return nil
	}

	s.state = failed
	log, logErr := s.lib.ErrorLog(s.handle)
	if logErr != nil {
		s.logger.Warn("failed to retrieve error log", zap.Error(logErr))
		return errs.New(errs.Compile, "session.Compile", log, errors.Join(err, logErr))
	}
	s.logger.Debug("compilation failed", zap.Strings("options", s.options), zap.String("error_log", log))
	return errs.New(errs.Compile, "session.Compile", log, err)
}

// CompiledProgram returns the cubin. It is only valid after a successful Compile.
func (s *Session) CompiledProgram() ([]byte, error) {
	if s.state != compiled {
		return nil, errs.Errorf(errs.State, "session.CompiledProgram", "no compiled program in a %s session", s.state)
	}
	prog, err := s.lib.CompiledProgram(s.handle)
	if err != nil {
		return nil, errs.New(errs.Compile, "session.CompiledProgram", "", err)
	}
	return prog, nil
}

// InfoLog returns the non-fatal diagnostics of a successful Compile. It may be empty.
func (s *Session) InfoLog() (string, error) {
	if s.state != compiled {
		return "", errs.Errorf(errs.State, "session.InfoLog", "no info log in a %s session", s.state)
	}
	log, err := s.lib.InfoLog(s.handle)
	if err != nil {
		return "", errs.New(errs.Compile, "session.InfoLog", "", err)
	}
	return log, nil
}

// ErrorLog returns the native error log. It is valid any time before Close
// and is most useful after a failed Compile.
func (s *Session) ErrorLog() (string, error) {
	if s.state == closed {
		return "", errs.Errorf(errs.State, "session.ErrorLog", "session is closed")
	}
	log, err := s.lib.ErrorLog(s.handle)
	if err != nil {
		return "", errs.New(errs.Compile, "session.ErrorLog", "", err)
	}
	return log, nil
}

// Close destroys the native handle. Only the first call reaches the native
// library; later calls return nil.
func (s *Session) Close() error {
	if s == nil || s.state == closed {
		return nil
	}
	s.last, s.state = s.state, closed
	metrics.HandlesLive.Dec()
	switch s.last {
	case compiled:
		metrics.SessionsTotal.WithLabelValues("compiled").Inc()
	case failed:
		metrics.SessionsTotal.WithLabelValues("compile_error").Inc()
	default:
		metrics.SessionsTotal.WithLabelValues("abandoned").Inc()
	}

	if err := s.lib.Destroy(s.handle); err != nil {
		s.logger.Warn("failed to destroy compiler handle", zap.Uint64("handle", uint64(s.handle)), zap.Error(err))
		return err
	}
	s.logger.Debug("destroyed compiler handle", zap.Uint64("handle", uint64(s.handle)))
	return nil
}
