// Package nvptx is the boundary to NVIDIA's static PTX compiler library
// (nvPTXCompiler). The library is consumed as a black box: PTX text and option
// strings go in, a cubin and two logs come out.
//
// The cgo binding is only built with the `cuda` build tag, since it needs
// nvPTXCompiler.h and libnvptxcompiler_static from a CUDA toolkit. Without the
// tag, Open returns ErrUnavailable.
package nvptx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Handle identifies one native compiler instance. It is an index into the
// binding's handle table, never a C pointer.
type Handle uintptr

// Library is the set of native entry points a compiler session needs.
//
// Implementations are not required to be safe for concurrent use of the same
// Handle; distinct handles may be used from different goroutines.
type Library interface {
	// Create builds a compiler instance holding a copy of the PTX source.
	Create(ptx string) (Handle, error)

	// Compile runs the compiler with the given options, passed verbatim
	// (e.g. "--gpu-name=sm_75", "--maxrregcount=32", "--device-debug").
	Compile(h Handle, options []string) error

	// ErrorLog returns the error diagnostics of the last Compile.
	ErrorLog(h Handle) (string, error)

	// InfoLog returns the non-fatal diagnostics of the last Compile.
	InfoLog(h Handle) (string, error)

	// CompiledProgram returns the cubin produced by a successful Compile.
	CompiledProgram(h Handle) ([]byte, error)

	// Destroy releases the compiler instance. The handle is invalid afterwards.
	Destroy(h Handle) error

	// Version returns the version of the compiler library.
	Version() (major, minor int, err error)
}

// ErrUnavailable is returned by Open when the binary was built without the
// native compiler library.
var ErrUnavailable = errors.New("nvPTXCompiler not available: build with -tags cuda and a CUDA toolkit")

// Status mirrors nvPTXCompileResult.
type Status int

const (
	Success Status = iota
	ErrorInvalidCompilerHandle
	ErrorInvalidInput
	ErrorCompilationFailure
	ErrorInternal
	ErrorOutOfMemory
	ErrorCompilerInvocationIncomplete
	ErrorUnsupportedPTXVersion
)

func (s Status) String() string {
	switch s {
	case Success:
		return "NVPTXCOMPILE_SUCCESS"
	case ErrorInvalidCompilerHandle:
		return "NVPTXCOMPILE_ERROR_INVALID_COMPILER_HANDLE"
	case ErrorInvalidInput:
		return "NVPTXCOMPILE_ERROR_INVALID_INPUT"
	case ErrorCompilationFailure:
		return "NVPTXCOMPILE_ERROR_COMPILATION_FAILURE"
	case ErrorInternal:
		return "NVPTXCOMPILE_ERROR_INTERNAL"
	case ErrorOutOfMemory:
		return "NVPTXCOMPILE_ERROR_OUT_OF_MEMORY"
	case ErrorCompilerInvocationIncomplete:
		return "NVPTXCOMPILE_ERROR_COMPILER_INVOCATION_INCOMPLETE"
	case ErrorUnsupportedPTXVersion:
		return "NVPTXCOMPILE_ERROR_UNSUPPORTED_PTX_VERSION"
	default:
		return "<unknown>"
	}
}

// StatusError is a non-success status returned by a native call.
type StatusError struct {
	Status Status
	// Call is the name of the native function, e.g. "nvPTXCompilerCompile".
	Call string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error when calling %s", e.Status, e.Call)
}

// StatusOf returns the Status carried by err, Success for nil, and
// ErrorInternal for errors that did not come from a native call.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return ErrorInternal
}

func statusError(s Status, call string) error {
	if s == Success {
		return nil
	}
	return &StatusError{Status: s, Call: call}
}
