//go:build cuda
// +build cuda

package nvptx

/*
#cgo LDFLAGS: -lnvptxcompiler_static -lpthread -lm -lstdc++
#include <stdlib.h>
#include <nvPTXCompiler.h>
*/
import "C"
import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// cgoLibrary implements Library over the statically linked nvPTXCompiler.
//
// C handles live in a table keyed by Handle so callers only ever hold an
// integer; a destroyed or unknown handle is rejected before reaching C.
type cgoLibrary struct {
	mu      sync.Mutex
	next    Handle
	handles map[Handle]C.nvPTXCompilerHandle
}

var (
	defaultLibrary     *cgoLibrary
	defaultLibraryOnce sync.Once
)

// Open returns the process-wide binding to the static PTX compiler.
func Open() (Library, error) {
	defaultLibraryOnce.Do(func() {
		defaultLibrary = &cgoLibrary{handles: make(map[Handle]C.nvPTXCompilerHandle)}
	})
	return defaultLibrary, nil
}

func (l *cgoLibrary) lookup(h Handle) (C.nvPTXCompilerHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.handles[h]
	return c, ok
}

func (l *cgoLibrary) Create(ptx string) (Handle, error) {
	cPTX := C.CString(ptx)
	defer C.free(unsafe.Pointer(cPTX))

	var c C.nvPTXCompilerHandle
	res := C.nvPTXCompilerCreate(&c, C.size_t(len(ptx)), cPTX)
	if err := statusError(Status(res), "nvPTXCompilerCreate"); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	h := l.next
	l.handles[h] = c
	return h, nil
}

func (l *cgoLibrary) Destroy(h Handle) error {
	l.mu.Lock()
	c, ok := l.handles[h]
	if ok {
		delete(l.handles, h)
	}
	l.mu.Unlock()
	if !ok {
		return statusError(ErrorInvalidCompilerHandle, "nvPTXCompilerDestroy")
	}
	return statusError(Status(C.nvPTXCompilerDestroy(&c)), "nvPTXCompilerDestroy")
}

func (l *cgoLibrary) Compile(h Handle, options []string) error {
	c, ok := l.lookup(h)
	if !ok {
		return statusError(ErrorInvalidCompilerHandle, "nvPTXCompilerCompile")
	}

	var cOptions **C.char
	if n := len(options); n > 0 {
		cOptions = (**C.char)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))
		defer C.free(unsafe.Pointer(cOptions))
		slots := unsafe.Slice(cOptions, n)
		for i, opt := range options {
			slots[i] = C.CString(opt)
		}
		defer func() {
			for _, s := range slots {
				C.free(unsafe.Pointer(s))
			}
		}()
	}

	res := C.nvPTXCompilerCompile(c, C.int(len(options)), cOptions)
	return statusError(Status(res), "nvPTXCompilerCompile")
}

func (l *cgoLibrary) ErrorLog(h Handle) (string, error) {
	c, ok := l.lookup(h)
	if !ok {
		return "", statusError(ErrorInvalidCompilerHandle, "nvPTXCompilerGetErrorLogSize")
	}
	var size C.size_t
	if err := statusError(Status(C.nvPTXCompilerGetErrorLogSize(c, &size)), "nvPTXCompilerGetErrorLogSize"); err != nil {
		return "", err
	}
	// The reported size does not include the trailing NUL.
	buf := (*C.char)(C.malloc(size + 1))
	defer C.free(unsafe.Pointer(buf))
	if err := statusError(Status(C.nvPTXCompilerGetErrorLog(c, buf)), "nvPTXCompilerGetErrorLog"); err != nil {
		return "", err
	}
	return C.GoStringN(buf, C.int(size)), nil
}

func (l *cgoLibrary) InfoLog(h Handle) (string, error) {
	c, ok := l.lookup(h)
	if !ok {
		return "", statusError(ErrorInvalidCompilerHandle, "nvPTXCompilerGetInfoLogSize")
	}
	var size C.size_t
	if err := statusError(Status(C.nvPTXCompilerGetInfoLogSize(c, &size)), "nvPTXCompilerGetInfoLogSize"); err != nil {
		return "", err
	}
	buf := (*C.char)(C.malloc(size + 1))
	defer C.free(unsafe.Pointer(buf))
	if err := statusError(Status(C.nvPTXCompilerGetInfoLog(c, buf)), "nvPTXCompilerGetInfoLog"); err != nil {
		return "", err
	}
	return C.GoStringN(buf, C.int(size)), nil
}

func (l *cgoLibrary) CompiledProgram(h Handle) ([]byte, error) {
	c, ok := l.lookup(h)
	if !ok {
		return nil, statusError(ErrorInvalidCompilerHandle, "nvPTXCompilerGetCompiledProgramSize")
	}
	var size C.size_t
	if err := statusError(Status(C.nvPTXCompilerGetCompiledProgramSize(c, &size)), "nvPTXCompilerGetCompiledProgramSize"); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("nvPTXCompilerGetCompiledProgramSize returned an empty program")
	}
	buf := C.malloc(size)
	defer C.free(buf)
	if err := statusError(Status(C.nvPTXCompilerGetCompiledProgram(c, buf)), "nvPTXCompilerGetCompiledProgram"); err != nil {
		return nil, err
	}
	return C.GoBytes(buf, C.int(size)), nil
}

func (l *cgoLibrary) Version() (major, minor int, err error) {
	var cMajor, cMinor C.uint
	if err := statusError(Status(C.nvPTXCompilerGetVersion(&cMajor, &cMinor)), "nvPTXCompilerGetVersion"); err != nil {
		return 0, 0, err
	}
	return int(cMajor), int(cMinor), nil
}
