// Package cudadrv queries the installed CUDA driver and runtime and exposes
// the driver's own JIT linker, the path the code generator uses when no
// forward-compatibility patch is installed.
//
// DriverVersion and RuntimeVersion do not create a device context.
// ComputeCapability initializes the driver API, and JITLinker.Link retains the
// device's primary context; callers deciding whether to patch must not call
// them in their own process before that decision is made.
package cudadrv

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by every query when the binary was built
// without the cuda tag.
var ErrUnavailable = errors.New("CUDA driver bindings not available: build with -tags cuda")

// Result is a CUresult or cudaError_t code.
type Result struct {
	Code int
	Name string
	Call string
}

func (r *Result) Error() string {
	return fmt.Sprintf("%s (%d) error when calling %s", r.Name, r.Code, r.Call)
}

// JITLinker links PTX with the driver's built-in compiler on one device.
type JITLinker struct {
	// Ordinal is the device index, 0 for the first device.
	Ordinal int
}
