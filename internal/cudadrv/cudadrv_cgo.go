//go:build cuda
// +build cuda

package cudadrv

/*
#cgo LDFLAGS: -lcuda -lcudart
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <cuda.h>
#include <cuda_runtime_api.h>

static const char *cu_result_name(CUresult res) {
	const char *name = NULL;
	if (cuGetErrorName(res, &name) != CUDA_SUCCESS || name == NULL) {
		return "CUDA_ERROR_UNKNOWN";
	}
	return name;
}

static CUresult compute_capability(int ordinal, int *major, int *minor) {
	CUdevice dev;
	CUresult res = cuInit(0);
	if (res != CUDA_SUCCESS) return res;
	res = cuDeviceGet(&dev, ordinal);
	if (res != CUDA_SUCCESS) return res;
	res = cuDeviceGetAttribute(major, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MAJOR, dev);
	if (res != CUDA_SUCCESS) return res;
	return cuDeviceGetAttribute(minor, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MINOR, dev);
}

// jit_link links n NUL-terminated PTX sources into a cubin with the driver's
// JIT compiler. On success *out is a malloc'd copy the caller must free.
static CUresult jit_link(int ordinal, char **ptxes, size_t *sizes, int n,
                         int target, int max_registers,
                         void **out, size_t *out_size,
                         char *error_log, size_t error_log_size) {
	CUdevice dev;
	CUcontext ctx;
	CUlinkState state;
	CUjit_option opts[4];
	void *vals[4];
	unsigned int nopts = 0;
	void *cubin = NULL;
	size_t cubin_size = 0;
	int i;

	CUresult res = cuInit(0);
	if (res != CUDA_SUCCESS) return res;
	res = cuDeviceGet(&dev, ordinal);
	if (res != CUDA_SUCCESS) return res;
	res = cuDevicePrimaryCtxRetain(&ctx, dev);
	if (res != CUDA_SUCCESS) return res;
	res = cuCtxPushCurrent(ctx);
	if (res != CUDA_SUCCESS) goto release;

	opts[nopts] = CU_JIT_ERROR_LOG_BUFFER;
	vals[nopts++] = error_log;
	opts[nopts] = CU_JIT_ERROR_LOG_BUFFER_SIZE_BYTES;
	vals[nopts++] = (void *)(uintptr_t)error_log_size;
	opts[nopts] = CU_JIT_TARGET;
	vals[nopts++] = (void *)(uintptr_t)target;
	if (max_registers > 0) {
		opts[nopts] = CU_JIT_MAX_REGISTERS;
		vals[nopts++] = (void *)(uintptr_t)max_registers;
	}

	res = cuLinkCreate(nopts, opts, vals, &state);
	if (res != CUDA_SUCCESS) goto pop;
	for (i = 0; i < n; i++) {
		res = cuLinkAddData(state, CU_JIT_INPUT_PTX, ptxes[i], sizes[i], "ptx", 0, NULL, NULL);
		if (res != CUDA_SUCCESS) goto destroy;
	}
	res = cuLinkComplete(state, &cubin, &cubin_size);
	if (res != CUDA_SUCCESS) goto destroy;

	*out = malloc(cubin_size);
	if (*out == NULL) {
		res = CUDA_ERROR_OUT_OF_MEMORY;
		goto destroy;
	}
	memcpy(*out, cubin, cubin_size);
	*out_size = cubin_size;

destroy:
	cuLinkDestroy(state);
pop:
	cuCtxPopCurrent(NULL);
release:
	cuDevicePrimaryCtxRelease(dev);
	return res;
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/rapidsai/ptxcompiler/internal/version"
)

const jitErrorLogSize = 8192

func cuError(res C.CUresult, call string) error {
	if res == C.CUDA_SUCCESS {
		return nil
	}
	return &Result{Code: int(res), Name: C.GoString(C.cu_result_name(res)), Call: call}
}

// DriverVersion returns the CUDA version supported by the installed driver.
func DriverVersion() (version.Version, error) {
	var v C.int
	if err := cuError(C.cuDriverGetVersion(&v), "cuDriverGetVersion"); err != nil {
		return version.Version{}, err
	}
	return version.FromCUDA(int(v)), nil
}

// RuntimeVersion returns the version of the CUDA runtime this binary links.
func RuntimeVersion() (version.Version, error) {
	var v C.int
	res := C.cudaRuntimeGetVersion(&v)
	if res != C.cudaSuccess {
		return version.Version{}, &Result{Code: int(res), Name: C.GoString(C.cudaGetErrorName(res)), Call: "cudaRuntimeGetVersion"}
	}
	return version.FromCUDA(int(v)), nil
}

// ComputeCapability returns the compute capability of device ordinal.
func ComputeCapability(ordinal int) (major, minor int, err error) {
	var cMajor, cMinor C.int
	if err := cuError(C.compute_capability(C.int(ordinal), &cMajor, &cMinor), "cuDeviceGetAttribute"); err != nil {
		return 0, 0, err
	}
	return int(cMajor), int(cMinor), nil
}

// Link compiles and links PTX sources for compute capability major.minor
// using the driver's JIT compiler.
func (l JITLinker) Link(ptxes []string, major, minor, maxRegisters int) ([]byte, error) {
	if len(ptxes) == 0 {
		return nil, fmt.Errorf("no PTX to link")
	}
	n := len(ptxes)
	cPTXes := (**C.char)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))
	defer C.free(unsafe.Pointer(cPTXes))
	cSizes := (*C.size_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.size_t(0)))))
	defer C.free(unsafe.Pointer(cSizes))

	ptxSlots := unsafe.Slice(cPTXes, n)
	sizeSlots := unsafe.Slice(cSizes, n)
	for i, ptx := range ptxes {
		ptxSlots[i] = C.CString(ptx)
		sizeSlots[i] = C.size_t(len(ptx) + 1)
	}
	defer func() {
		for _, p := range ptxSlots {
			C.free(unsafe.Pointer(p))
		}
	}()

	errorLog := (*C.char)(C.calloc(jitErrorLogSize, 1))
	defer C.free(unsafe.Pointer(errorLog))

	var out unsafe.Pointer
	var outSize C.size_t
	res := C.jit_link(C.int(l.Ordinal), cPTXes, cSizes, C.int(n),
		C.int(major*10+minor), C.int(maxRegisters),
		&out, &outSize, errorLog, jitErrorLogSize)
	if err := cuError(res, "cuLinkComplete"); err != nil {
		if log := C.GoString(errorLog); log != "" {
			return nil, fmt.Errorf("%w: %s", err, log)
		}
		return nil, err
	}
	defer C.free(out)
	return C.GoBytes(out, C.int(outSize)), nil
}
