//go:build cuda
// +build cuda

package session

import (
	"testing"

	"github.com/rapidsai/ptxcompiler/fixtures"
	"github.com/rapidsai/ptxcompiler/internal/errs"
	"github.com/rapidsai/ptxcompiler/internal/nvptx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLibrary(t *testing.T) nvptx.Library {
	lib, err := nvptx.Open()
	if err != nil {
		t.Skipf("PTX compiler not available: %v", err)
	}
	return lib
}

func TestNative_Version(t *testing.T) {
	lib := openLibrary(t)
	major, minor, err := lib.Version()
	require.NoError(t, err)
	// The static compiler library first shipped with CUDA 11.1.
	assert.True(t, major > 11 || (major == 11 && minor >= 1), "got %d.%d", major, minor)
}

func TestNative_Compile(t *testing.T) {
	lib := openLibrary(t)

	res, err := Compile(lib, fixtures.KernelPTX, []string{"--gpu-name=sm_75"})
	require.NoError(t, err)
	assert.Equal(t, []byte("\x7fELF"), res.Program[:4])
	assert.Equal(t, "", res.InfoLog)
}

func TestNative_DeviceDebug(t *testing.T) {
	lib := openLibrary(t)

	res, err := Compile(lib, fixtures.KernelPTX, []string{"--gpu-name=sm_75", "--device-debug"})
	require.NoError(t, err)
	assert.Contains(t, string(res.Program), "nv_debug")
}

func TestNative_BadOption(t *testing.T) {
	lib := openLibrary(t)

	_, err := Compile(lib, fixtures.KernelPTX, []string{"--gpu-name=sm_75", "--bad-option"})
	require.Error(t, err)
	assert.Equal(t, errs.Compile, errs.KindOf(err))
	assert.Contains(t, err.Error(), "NVPTXCOMPILE_ERROR_COMPILATION_FAILURE error")
	assert.Contains(t, errs.DetailOf(err), "Unknown option")
}

func TestNative_MissingVersion(t *testing.T) {
	lib := openLibrary(t)

	_, err := Compile(lib, fixtures.MissingVersionPTX, []string{"--gpu-name=sm_75"})
	require.Error(t, err)
	assert.Contains(t, errs.DetailOf(err), "Missing .version directive")
}

func TestNative_DoubleDestroyRejected(t *testing.T) {
	lib := openLibrary(t)

	h, err := lib.Create(fixtures.KernelPTX)
	require.NoError(t, err)
	require.NoError(t, lib.Destroy(h))
	assert.Equal(t, nvptx.ErrorInvalidCompilerHandle, nvptx.StatusOf(lib.Destroy(h)))
}
