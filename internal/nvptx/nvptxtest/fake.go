// Package nvptxtest provides an in-memory nvptx.Library for tests that run
// without a CUDA toolkit.
package nvptxtest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rapidsai/ptxcompiler/internal/nvptx"
)

// ELFMagic starts every program produced by Fake, as it does real cubins.
const ELFMagic = "\x7fELF"

var knownOptions = []string{
	"--gpu-name=",
	"--maxrregcount=",
	"--device-debug",
	"--generate-line-info",
	"--opt-level=",
	"--verbose",
}

type fakeCompiler struct {
	ptx      string
	program  []byte
	errorLog string
	infoLog  string
}

// Fake mimics the observable behavior of nvPTXCompiler closely enough to
// exercise session lifecycles: it rejects PTX without a .version directive
// and unknown options, and records every Create and Destroy.
type Fake struct {
	mu        sync.Mutex
	next      nvptx.Handle
	live      map[nvptx.Handle]*fakeCompiler
	destroyed map[nvptx.Handle]int

	// CreateErr, if set, is returned by Create.
	CreateErr error
	// ErrorLogErr, if set, is returned by ErrorLog.
	ErrorLogErr error
	// DestroyErr, if set, is returned by Destroy after the handle is released.
	DestroyErr error
	// Compiles counts Compile calls.
	Compiles int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		live:      make(map[nvptx.Handle]*fakeCompiler),
		destroyed: make(map[nvptx.Handle]int),
	}
}

var _ nvptx.Library = (*Fake)(nil)

func (f *Fake) Create(ptx string) (nvptx.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return 0, f.CreateErr
	}
	f.next++
	f.live[f.next] = &fakeCompiler{ptx: ptx}
	return f.next, nil
}

func (f *Fake) get(h nvptx.Handle, call string) (*fakeCompiler, error) {
	c, ok := f.live[h]
	if !ok {
		return nil, &nvptx.StatusError{Status: nvptx.ErrorInvalidCompilerHandle, Call: call}
	}
	return c, nil
}

func (f *Fake) Compile(h nvptx.Handle, options []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Compiles++
	c, err := f.get(h, "nvPTXCompilerCompile")
	if err != nil {
		return err
	}

	var debug bool
	var arch string
	for _, opt := range options {
		if !isKnown(opt) {
			c.errorLog = fmt.Sprintf("ptxas fatal   : Unknown option '%s'\n", opt)
			return &nvptx.StatusError{Status: nvptx.ErrorCompilationFailure, Call: "nvPTXCompilerCompile"}
		}
		if opt == "--device-debug" {
			debug = true
		}
		if strings.HasPrefix(opt, "--gpu-name=") {
			arch = strings.TrimPrefix(opt, "--gpu-name=")
		}
	}
	if !strings.Contains(c.ptx, ".version") {
		c.errorLog = "ptxas application ptx input, line 1; fatal   : Missing .version directive at start of file '<ptx>'\n"
		return &nvptx.StatusError{Status: nvptx.ErrorCompilationFailure, Call: "nvPTXCompilerCompile"}
	}

	prog := []byte(ELFMagic + ".text." + arch)
	if debug {
		prog = append(prog, ".nv_debug_info"...)
	}
	c.program = prog
	return nil
}

func isKnown(opt string) bool {
	for _, k := range knownOptions {
		if opt == k || (strings.HasSuffix(k, "=") && strings.HasPrefix(opt, k)) {
			return true
		}
	}
	return false
}

func (f *Fake) ErrorLog(h nvptx.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrorLogErr != nil {
		return "", f.ErrorLogErr
	}
	c, err := f.get(h, "nvPTXCompilerGetErrorLogSize")
	if err != nil {
		return "", err
	}
	return c.errorLog, nil
}

func (f *Fake) InfoLog(h nvptx.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.get(h, "nvPTXCompilerGetInfoLogSize")
	if err != nil {
		return "", err
	}
	return c.infoLog, nil
}

func (f *Fake) CompiledProgram(h nvptx.Handle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.get(h, "nvPTXCompilerGetCompiledProgramSize")
	if err != nil {
		return nil, err
	}
	if c.program == nil {
		return nil, &nvptx.StatusError{Status: nvptx.ErrorCompilerInvocationIncomplete, Call: "nvPTXCompilerGetCompiledProgramSize"}
	}
	return append([]byte(nil), c.program...), nil
}

func (f *Fake) Destroy(h nvptx.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed[h]++
	if _, ok := f.live[h]; !ok {
		return &nvptx.StatusError{Status: nvptx.ErrorInvalidCompilerHandle, Call: "nvPTXCompilerDestroy"}
	}
	delete(f.live, h)
	return f.DestroyErr
}

func (f *Fake) Version() (int, int, error) {
	return 12, 4, nil
}

// Live returns the number of handles created and not yet destroyed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Destroyed returns how many times Destroy was called for h.
func (f *Fake) Destroyed(h nvptx.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed[h]
}

// Created returns how many handles have been created.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.next)
}
